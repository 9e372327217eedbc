package analysis

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/prompts"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// Prompt is one insight request. System carries the fixed instructions,
// User the cluster data.
type Prompt struct {
	Model       string
	System      string
	User        string
	Temperature float64
}

// Generator produces raw JSON insights text from a prompt.
type Generator interface {
	// Backend names the service, e.g. "ollama".
	Backend() string
	// DefaultModel is used when a request names no model.
	DefaultModel() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// BackendHeuristic marks records whose insights were derived locally.
const BackendHeuristic = "heuristic"

const systemPrompt = `You analyze clusters of social media posts to find product opportunities.
Respond with a single JSON object and nothing else, using exactly this shape:
{
  "opportunities": [{"title": "...", "confidence": 0.0, "evidence": "...", "cluster_refs": [0], "sources": ["..."]}],
  "trends": [{"topic": "...", "momentum": "rising|steady|falling", "mentions": 0}],
  "pain_points": ["..."]
}
confidence is between 0 and 1. Only use evidence present in the clusters.`

var userPrompt = prompts.NewPromptTemplate(`Analyzed {{.total}} items from {{.sources}}.
Clusters, largest first:
{{range .clusters}}
Cluster {{.ID}} ({{.Size}} items, sources: {{join ", " .Sources}}, engagement {{.Engagement}}):
{{range .TopTexts}}- {{.}}
{{end}}{{end}}`, []string{"total", "sources", "clusters"})

// buildPrompt renders the insight prompt for the given clusters.
func buildPrompt(modelName string, temperature float64, total int, sources map[string]int, clusters []clusterSummary) (Prompt, error) {
	names := make([]string, 0, len(sources))
	for s := range sources {
		names = append(names, s)
	}
	sort.Strings(names)
	user, err := userPrompt.Format(map[string]any{
		"total":    total,
		"sources":  strings.Join(names, ", "),
		"clusters": clusters,
	})
	if err != nil {
		return Prompt{}, eris.Wrap(err, "analysis: render prompt")
	}
	return Prompt{Model: modelName, System: systemPrompt, User: user, Temperature: temperature}, nil
}

// flexFloat accepts a JSON number or numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*f = flexFloat(v)
		}
	}
	return nil
}

// flexText accepts a string or a list of strings.
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = flexText(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = flexText(strings.Join(list, "; "))
	}
	return nil
}

type rawInsights struct {
	Opportunities []struct {
		Title       string    `json:"title"`
		Confidence  flexFloat `json:"confidence"`
		Evidence    flexText  `json:"evidence"`
		Sources     []string  `json:"sources"`
		ClusterRefs []int     `json:"cluster_refs"`
	} `json:"opportunities"`
	Trends []struct {
		Topic    string    `json:"topic"`
		Momentum string    `json:"momentum"`
		Mentions flexFloat `json:"mentions"`
	} `json:"trends"`
	PainPoints []json.RawMessage `json:"pain_points"`
}

// parseInsights decodes LLM output and normalizes it. Sentiment is left
// zero for the caller to fill.
func parseInsights(text string, clusters []clusterSummary) (model.Insights, error) {
	body := extractJSONObject(text)
	if body == "" {
		return model.Insights{}, eris.New("analysis: no JSON object in model output")
	}
	var raw rawInsights
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return model.Insights{}, eris.Wrap(err, "analysis: decode model output")
	}

	byID := make(map[int]clusterSummary, len(clusters))
	for _, c := range clusters {
		byID[c.ID] = c
	}

	out := model.EmptyInsights()
	for _, o := range raw.Opportunities {
		title := strings.TrimSpace(o.Title)
		if title == "" {
			continue
		}
		sources := dedupe(o.Sources)
		if len(sources) == 0 {
			for _, ref := range o.ClusterRefs {
				sources = append(sources, byID[ref].Sources...)
			}
			sources = dedupe(sources)
		}
		out.Opportunities = append(out.Opportunities, model.Opportunity{
			Title:      title,
			Confidence: clamp01(float64(o.Confidence)),
			Sources:    sources,
			Evidence:   strings.TrimSpace(string(o.Evidence)),
		})
	}
	for _, t := range raw.Trends {
		topic := strings.TrimSpace(t.Topic)
		if topic == "" {
			continue
		}
		out.Trends = append(out.Trends, model.Trend{
			Topic:    topic,
			Momentum: model.ParseMomentum(strings.ToLower(strings.TrimSpace(t.Momentum))),
			Mentions: max(0, int(math.Round(float64(t.Mentions)))),
		})
	}
	for _, p := range raw.PainPoints {
		if s := painPointText(p); s != "" {
			out.PainPoints = append(out.PainPoints, s)
		}
	}
	return out, nil
}

// painPointText accepts "text" or {"issue": "text", ...}.
func painPointText(b json.RawMessage) string {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		if obj.Issue != "" {
			return strings.TrimSpace(obj.Issue)
		}
		return strings.TrimSpace(obj.Description)
	}
	return ""
}

// extractJSONObject strips code fences and surrounding prose.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func dedupe(in []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

var painMarkers = []string{
	"wish", "hate", "frustrat", "annoy", "struggl", "problem", "broken",
	"can't", "cannot", "doesn't work", "looking for", "is there a", "anyone know",
}

// heuristicInsights derives insights from cluster structure alone. One
// opportunity and one trend per cluster.
func heuristicInsights(clusters []clusterSummary) model.Insights {
	out := model.EmptyInsights()
	for _, c := range clusters {
		topic := clusterTopic(c)
		evidence := ""
		if len(c.TopTexts) > 0 {
			evidence = c.TopTexts[0]
		}
		out.Opportunities = append(out.Opportunities, model.Opportunity{
			Title:      topic,
			Confidence: clamp01(math.Round(c.Share*c.Cohesion*100) / 100),
			Sources:    append([]string{}, c.Sources...),
			Evidence:   evidence,
		})
		out.Trends = append(out.Trends, model.Trend{
			Topic:    topic,
			Momentum: c.Momentum,
			Mentions: c.Size,
		})
		if p := painText(c.TopTexts); p != "" {
			out.PainPoints = append(out.PainPoints, p)
		}
	}
	return out
}

func clusterTopic(c clusterSummary) string {
	if len(c.Keywords) == 0 {
		return "Cluster " + strconv.Itoa(c.ID)
	}
	// A Caser holds state, so each call gets its own.
	return cases.Title(language.English).String(strings.Join(c.Keywords, " "))
}

func painText(texts []string) string {
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, m := range painMarkers {
			if strings.Contains(lower, m) {
				return t
			}
		}
	}
	return ""
}
