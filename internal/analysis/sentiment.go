package analysis

import (
	"sort"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

var positiveWords = map[string]bool{
	"good": true, "great": true, "love": true, "awesome": true, "excellent": true,
	"amazing": true, "best": true, "nice": true, "helpful": true, "useful": true,
	"easy": true, "happy": true, "fantastic": true, "perfect": true, "recommend": true,
	"fast": true, "cool": true, "impressive": true, "enjoy": true, "works": true,
	"thanks": true, "solved": true, "beautiful": true, "reliable": true, "improved": true,
}

var negativeWords = map[string]bool{
	"bad": true, "hate": true, "terrible": true, "awful": true, "worst": true,
	"broken": true, "bug": true, "bugs": true, "slow": true, "annoying": true,
	"frustrating": true, "frustrated": true, "problem": true, "problems": true, "issue": true,
	"issues": true, "fail": true, "fails": true, "failed": true, "crash": true,
	"crashes": true, "confusing": true, "difficult": true, "hard": true, "expensive": true,
	"painful": true, "wish": true, "struggle": true, "struggling": true, "useless": true,
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "don't": true, "doesn't": true,
	"isn't": true, "wasn't": true, "can't": true, "won't": true,
}

// textPolarity scores one text: >0 positive, <0 negative. A negator
// directly before a lexicon word flips it.
func textPolarity(text string) int {
	score := 0
	words := tokenize(text)
	for i, w := range words {
		var v int
		switch {
		case positiveWords[w]:
			v = 1
		case negativeWords[w]:
			v = -1
		default:
			continue
		}
		if i > 0 && negators[words[i-1]] {
			v = -v
		}
		score += v
	}
	return score
}

// sentiment classifies every text and reports integer percentages that
// sum to 100. No texts is fully neutral.
func sentiment(docs []document) model.Sentiment {
	if len(docs) == 0 {
		return model.Sentiment{Neutral: 100}
	}
	var counts [3]int // positive, neutral, negative
	for _, d := range docs {
		switch p := textPolarity(d.Text); {
		case p > 0:
			counts[0]++
		case p < 0:
			counts[2]++
		default:
			counts[1]++
		}
	}
	pct := largestRemainder(counts[:], 100)
	return model.Sentiment{Positive: pct[0], Neutral: pct[1], Negative: pct[2]}
}

// largestRemainder apportions total across counts so the parts sum to
// total exactly. Leftover units go to the largest fractional remainders,
// ties to the earlier index.
func largestRemainder(counts []int, total int) []int {
	sum := 0
	for _, c := range counts {
		sum += c
	}
	out := make([]int, len(counts))
	if sum == 0 {
		return out
	}
	type rem struct {
		idx  int
		frac int
	}
	rems := make([]rem, len(counts))
	assigned := 0
	for i, c := range counts {
		out[i] = c * total / sum
		assigned += out[i]
		rems[i] = rem{idx: i, frac: c * total % sum}
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for k := 0; assigned < total; k++ {
		out[rems[k%len(rems)].idx]++
		assigned++
	}
	return out
}
