// Package analysis turns a result file into insights: it embeds item
// texts, clusters them with DBSCAN and asks an LLM to describe the
// clusters, falling back to local heuristics when the LLM cannot answer.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

// Options tune clustering and insight generation.
type Options struct {
	Eps               float64
	MinSamples        int
	MinClusterSize    int
	MaxClustersForLLM int
	Temperature       float64
	Timeout           time.Duration
}

func (o *Options) defaults() {
	if o.Eps <= 0 {
		o.Eps = 0.4
	}
	if o.MinSamples <= 0 {
		o.MinSamples = 2
	}
	if o.MinClusterSize <= 0 {
		o.MinClusterSize = 2
	}
	if o.MaxClustersForLLM <= 0 {
		o.MaxClustersForLLM = 8
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
}

// Engine runs the analysis pipeline for one result file. It does not
// cache; see Service.
type Engine struct {
	payloads  *store.Payloads
	embedder  Embedder
	generator Generator
	opts      Options
	now       func() time.Time
}

// NewEngine creates an Engine. A nil generator always uses heuristic
// insights.
func NewEngine(payloads *store.Payloads, embedder Embedder, generator Generator, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		payloads:  payloads,
		embedder:  embedder,
		generator: generator,
		opts:      opts,
		now:       time.Now,
	}
}

// DefaultModel is the insight model used when a request names none.
func (e *Engine) DefaultModel() string {
	if e.generator == nil {
		return ""
	}
	return e.generator.DefaultModel()
}

// Run analyzes filename and writes the analysis file. The returned record
// is not yet persisted in the store.
func (e *Engine) Run(ctx context.Context, filename, modelName string) (*model.AnalysisRecord, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	rec, err := e.run(runCtx, filename, modelName)
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &model.TimeoutError{Op: "analysis of " + filename, After: e.opts.Timeout}
	}
	return rec, err
}

func (e *Engine) run(ctx context.Context, filename, modelName string) (*model.AnalysisRecord, error) {
	log := zap.L().With(zap.String("component", "analysis"), zap.String("file", filename))

	payload, err := e.payloads.ReadPayload(filename)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = e.DefaultModel()
	}

	docs := extractDocuments(payload)
	rec := &model.AnalysisRecord{
		SourceFilename: filename,
		Model:          modelName,
		Backend:        BackendHeuristic,
		Insights:       model.EmptyInsights(),
		Stats: model.AnalysisStats{
			TotalItems: len(docs),
			Sources:    sourceCounts(docs),
		},
	}
	if e.generator != nil {
		rec.Backend = e.generator.Backend()
	}

	if len(docs) > 0 {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Text
		}
		vecs, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(docs) {
			return nil, eris.Errorf("analysis: got %d embeddings for %d texts", len(vecs), len(docs))
		}

		clusters := groupClusters(dbscan(vecs, e.opts.Eps, e.opts.MinSamples), vecs)
		summaries := summarize(docs, clusters, e.opts.MinClusterSize)
		rec.Stats.ClustersFound = len(clusters)
		rec.Stats.MeaningfulClusters = len(summaries)
		log.Info("clustered items",
			zap.Int("items", len(docs)),
			zap.Int("clusters", len(clusters)),
			zap.Int("meaningful", len(summaries)),
		)

		if len(summaries) > 0 {
			top := summaries[:min(len(summaries), e.opts.MaxClustersForLLM)]
			insights, backend, err := e.insights(ctx, modelName, rec.Stats, top)
			if err != nil {
				return nil, err
			}
			rec.Insights = insights
			rec.Backend = backend
		}
	}
	rec.Insights.Sentiment = sentiment(docs)
	rec.AnalyzedAt = e.now().UTC()

	name, err := e.payloads.Write(store.Stem(filename)+model.AnalysisSuffix, rec.AnalyzedAt, rec)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: write analysis file")
	}
	rec.AnalysisFilename = name
	log.Info("analysis complete",
		zap.String("analysis_file", name),
		zap.String("backend", rec.Backend),
		zap.Int("opportunities", len(rec.Insights.Opportunities)),
	)
	return rec, nil
}

// insights asks the generator and falls back to heuristics when it is
// unavailable or its output cannot be parsed. Only context errors fail.
func (e *Engine) insights(ctx context.Context, modelName string, stats model.AnalysisStats, clusters []clusterSummary) (model.Insights, string, error) {
	log := zap.L().With(zap.String("component", "analysis"), zap.String("model", modelName))
	if e.generator == nil {
		return heuristicInsights(clusters), BackendHeuristic, nil
	}

	prompt, err := buildPrompt(modelName, e.opts.Temperature, stats.TotalItems, stats.Sources, clusters)
	if err != nil {
		return model.Insights{}, "", err
	}
	text, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return model.Insights{}, "", ctx.Err()
		}
		log.Warn("insight backend failed, using heuristic insights",
			zap.String("backend", e.generator.Backend()),
			zap.Bool("unavailable", isUnavailable(err)),
			zap.Error(err),
		)
		return heuristicInsights(clusters), BackendHeuristic, nil
	}
	insights, err := parseInsights(text, clusters)
	if err != nil {
		log.Warn("unparsable insight output, using heuristic insights", zap.Error(err))
		return heuristicInsights(clusters), BackendHeuristic, nil
	}
	return insights, e.generator.Backend(), nil
}
