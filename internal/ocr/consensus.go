package ocr

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// Candidate is one engine's text for a page.
type Candidate struct {
	Engine string
	Text   string
}

// Similarity returns the character-level sequence-matcher ratio of a and b,
// in [0, 1]. Two empty strings are identical.
func Similarity(a, b string) float64 {
	m := difflib.NewMatcher(splitRunes(a), splitRunes(b))
	return m.Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// ChooseConsensus picks the medoid among candidates: the text with the highest
// mean similarity to the others. Ties go to the longer text, then to the
// candidate listed first. Candidates must be non-empty with unique engines.
func ChooseConsensus(candidates []Candidate) (string, ConsensusMeta, error) {
	if len(candidates) == 0 {
		return "", ConsensusMeta{}, fmt.Errorf("no OCR candidates provided")
	}
	if len(candidates) == 1 {
		return candidates[0].Text, ConsensusMeta{
			Winner:             candidates[0].Engine,
			PairwiseSimilarity: map[string]map[string]float64{},
		}, nil
	}

	pairwise := make(map[string]map[string]float64, len(candidates))
	for _, c := range candidates {
		pairwise[c.Engine] = make(map[string]float64, len(candidates)-1)
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			s := Similarity(a.Text, b.Text)
			pairwise[a.Engine][b.Engine] = s
			pairwise[b.Engine][a.Engine] = s
		}
	}

	best := -1
	var bestAvg float64
	var bestLen int
	for i, c := range candidates {
		var sum float64
		for j, other := range candidates {
			if j != i {
				sum += pairwise[c.Engine][other.Engine]
			}
		}
		avg := sum / float64(len(candidates)-1)
		length := utf8.RuneCountInString(c.Text)
		// strict comparisons keep the earlier candidate on a full tie
		if best < 0 || avg > bestAvg || (avg == bestAvg && length > bestLen) {
			best, bestAvg, bestLen = i, avg, length
		}
	}

	return candidates[best].Text, ConsensusMeta{
		Winner:             candidates[best].Engine,
		AvgSimilarity:      bestAvg,
		PairwiseSimilarity: pairwise,
	}, nil
}

// MergePages joins page consensus texts under "--- PAGE n ---" markers.
// The result ends with exactly one newline.
func MergePages(pages []PageResult) string {
	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "\n\n--- PAGE %d ---\n\n", p.PageNumber)
		b.WriteString(strings.TrimSpace(p.ConsensusText))
	}
	return strings.TrimSpace(b.String()) + "\n"
}
