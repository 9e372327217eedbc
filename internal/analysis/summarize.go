package analysis

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

const (
	topTextsPerCluster = 3
	maxTextChars       = 200
	keywordsPerCluster = 3
)

// clusterSummary is the compact view of a cluster handed to the insight
// backend and to the heuristic fallback.
type clusterSummary struct {
	ID         int            `json:"cluster_id"`
	Size       int            `json:"size"`
	Sources    []string       `json:"sources"`
	TopTexts   []string       `json:"top_texts"`
	Engagement int            `json:"total_engagement"`
	Keywords   []string       `json:"keywords"`
	Share      float64        `json:"-"`
	Cohesion   float64        `json:"-"`
	Momentum   model.Momentum `json:"-"`
}

// summarize builds summaries for clusters of at least minSize members.
// Input order (size descending) is kept.
func summarize(docs []document, clusters []cluster, minSize int) []clusterSummary {
	split := recencySplit(docs)
	out := make([]clusterSummary, 0, len(clusters))
	for _, c := range clusters {
		if len(c.Members) < minSize {
			continue
		}
		members := make([]document, len(c.Members))
		for i, m := range c.Members {
			members[i] = docs[m]
		}
		sort.SliceStable(members, func(a, b int) bool {
			return members[a].Engagement > members[b].Engagement
		})

		s := clusterSummary{
			ID:       c.ID,
			Size:     len(members),
			Share:    float64(len(members)) / float64(len(docs)),
			Cohesion: c.Cohesion,
			Momentum: momentum(members, split),
		}
		sources := make(map[string]bool)
		texts := make([]string, 0, len(members))
		for i, d := range members {
			s.Engagement += d.Engagement
			sources[d.Source] = true
			texts = append(texts, d.Text)
			if i < topTextsPerCluster {
				s.TopTexts = append(s.TopTexts, truncate(d.Text, maxTextChars))
			}
		}
		for src := range sources {
			s.Sources = append(s.Sources, src)
		}
		sort.Strings(s.Sources)
		s.Keywords = keywords(texts, keywordsPerCluster)
		out = append(out, s)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// recencySplit returns the midpoint of the documents' time range, or the
// zero time when timestamps are missing or all equal.
func recencySplit(docs []document) time.Time {
	var lo, hi time.Time
	for _, d := range docs {
		if d.CreatedAt.IsZero() {
			continue
		}
		if lo.IsZero() || d.CreatedAt.Before(lo) {
			lo = d.CreatedAt
		}
		if hi.IsZero() || d.CreatedAt.After(hi) {
			hi = d.CreatedAt
		}
	}
	if lo.IsZero() || !hi.After(lo) {
		return time.Time{}
	}
	return lo.Add(hi.Sub(lo) / 2)
}

// momentum compares how many members fall in the recent half of the time
// range against the older half.
func momentum(members []document, split time.Time) model.Momentum {
	if split.IsZero() {
		return model.MomentumSteady
	}
	var recent, older int
	for _, d := range members {
		switch {
		case d.CreatedAt.IsZero():
		case d.CreatedAt.After(split):
			recent++
		default:
			older++
		}
	}
	switch {
	case recent+older == 0:
		return model.MomentumSteady
	case float64(recent) >= 1.5*float64(older) && recent > older:
		return model.MomentumRising
	case float64(older) >= 1.5*float64(recent) && older > recent:
		return model.MomentumFalling
	}
	return model.MomentumSteady
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true, "with": true,
	"you": true, "are": true, "was": true, "but": true, "not": true, "have": true,
	"has": true, "had": true, "any": true, "can": true, "how": true, "what": true,
	"when": true, "why": true, "who": true, "all": true, "there": true, "their": true,
	"they": true, "them": true, "from": true, "your": true, "just": true, "like": true,
	"about": true, "into": true, "out": true, "does": true, "did": true, "one": true,
	"get": true, "got": true, "would": true, "could": true, "should": true, "will": true,
	"been": true, "more": true, "some": true, "than": true, "then": true, "also": true,
	"its": true, "it's": true, "i'm": true, "don't": true, "our": true, "use": true,
	"using": true, "anyone": true, "know": true, "which": true, "where": true, "there's": true,
	"http": true, "https": true, "www": true, "com": true,
}

// keywords returns the n most frequent non-stopword terms, ties broken
// alphabetically.
func keywords(texts []string, n int) []string {
	counts := make(map[string]int)
	for _, t := range texts {
		seen := make(map[string]bool)
		for _, w := range tokenize(t) {
			if len(w) < 3 || stopwords[w] || seen[w] {
				continue
			}
			seen[w] = true
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(a, b int) bool {
		if counts[words[a]] != counts[words[b]] {
			return counts[words[a]] > counts[words[b]]
		}
		return words[a] < words[b]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
