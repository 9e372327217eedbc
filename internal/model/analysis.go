package model

import "time"

// AnalysisSuffix is appended to a result stem to name its analysis file.
const AnalysisSuffix = "_analysis"

// Momentum describes the direction of a trend.
type Momentum string

const (
	MomentumRising  Momentum = "rising"
	MomentumSteady  Momentum = "steady"
	MomentumFalling Momentum = "falling"
)

// ParseMomentum coerces free-form values to a known momentum, defaulting to steady.
func ParseMomentum(s string) Momentum {
	switch Momentum(s) {
	case MomentumRising, MomentumFalling:
		return Momentum(s)
	}
	switch s {
	case "up", "growing", "increasing", "high":
		return MomentumRising
	case "down", "declining", "decreasing", "low":
		return MomentumFalling
	}
	return MomentumSteady
}

// Opportunity is a product or market opportunity derived from a cluster.
type Opportunity struct {
	Title      string   `json:"title"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
	Evidence   string   `json:"evidence"`
}

// Trend is a recurring topic and its direction.
type Trend struct {
	Topic    string   `json:"topic"`
	Momentum Momentum `json:"momentum"`
	Mentions int      `json:"mentions"`
}

// Sentiment holds integer percentages that always sum to 100.
type Sentiment struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// Insights is the derived output of an analysis.
type Insights struct {
	Opportunities []Opportunity `json:"opportunities"`
	Trends        []Trend       `json:"trends"`
	PainPoints    []string      `json:"pain_points"`
	Sentiment     Sentiment     `json:"sentiment"`
}

// EmptyInsights returns insights with non-nil empty lists and neutral sentiment.
func EmptyInsights() Insights {
	return Insights{
		Opportunities: []Opportunity{},
		Trends:        []Trend{},
		PainPoints:    []string{},
		Sentiment:     Sentiment{Neutral: 100},
	}
}

// AnalysisStats summarizes the clustering stage.
type AnalysisStats struct {
	TotalItems         int            `json:"total_items"`
	ClustersFound      int            `json:"clusters_found"`
	MeaningfulClusters int            `json:"meaningful_clusters"`
	Sources            map[string]int `json:"sources"`
}

// AnalysisRecord is a persisted analysis of one result file.
type AnalysisRecord struct {
	SourceFilename   string        `json:"source_file"`
	AnalysisFilename string        `json:"analysis_filename,omitempty"`
	Model            string        `json:"model"`
	Backend          string        `json:"backend"`
	Insights         Insights      `json:"insights"`
	Stats            AnalysisStats `json:"stats"`
	AnalyzedAt       time.Time     `json:"analyzed_at"`
}

// AnalysisStatus is the cache lookup result for a source file.
type AnalysisStatus struct {
	Exists           bool           `json:"exists"`
	AnalysisFilename string         `json:"analysis_filename,omitempty"`
	AnalyzedAt       *time.Time     `json:"analyzed_at,omitempty"`
	Stats            *AnalysisStats `json:"stats,omitempty"`
}

// ModelInfo describes an available analysis model.
type ModelInfo struct {
	Name     string  `json:"name"`
	SizeGB   float64 `json:"size_gb"`
	Category string  `json:"category"`
}
