package ocr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.InDelta(t, 0.75, Similarity("abcd", "abce"), 1e-9)
	assert.Equal(t, 0.0, Similarity("", "abc"))
}

func TestChooseConsensusSingleEngine(t *testing.T) {
	text, meta, err := ChooseConsensus([]Candidate{{Engine: "only", Text: "  raw text  "}})
	require.NoError(t, err)

	assert.Equal(t, "  raw text  ", text)
	assert.Equal(t, "only", meta.Winner)
	assert.Empty(t, meta.PairwiseSimilarity)
	assert.NotNil(t, meta.PairwiseSimilarity)
}

func TestChooseConsensusRejectsNoCandidates(t *testing.T) {
	_, _, err := ChooseConsensus(nil)
	assert.Error(t, err)
}

func TestChooseConsensusRejectsGarbageOutlier(t *testing.T) {
	candidates := []Candidate{
		{Engine: "a", Text: "The quick brown fox jumps over the lazy dog"},
		{Engine: "b", Text: "The quick brown fox jumps over the lazy dog."},
		{Engine: "c", Text: "#$%^&*()@!~"},
	}

	text, meta, err := ChooseConsensus(candidates)
	require.NoError(t, err)

	assert.NotEqual(t, "c", meta.Winner)
	// a and b score identically against the outlier; the longer text wins
	assert.Equal(t, "b", meta.Winner)
	assert.Equal(t, candidates[1].Text, text)
	assert.InDelta(t, Similarity(candidates[0].Text, candidates[1].Text)/2, meta.AvgSimilarity, 1e-12)

	require.Len(t, meta.PairwiseSimilarity, 3)
	for _, x := range candidates {
		assert.Len(t, meta.PairwiseSimilarity[x.Engine], 2)
		for _, y := range candidates {
			if x.Engine == y.Engine {
				continue
			}
			assert.Equal(t, meta.PairwiseSimilarity[x.Engine][y.Engine], meta.PairwiseSimilarity[y.Engine][x.Engine])
		}
	}
}

func TestConsensusMetaRecordsZeroAverage(t *testing.T) {
	_, meta, err := ChooseConsensus([]Candidate{
		{Engine: "a", Text: "abc"},
		{Engine: "b", Text: "xyz"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, meta.AvgSimilarity)

	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "avg_similarity")
	assert.Equal(t, 0.0, decoded["avg_similarity"])
}

func TestChooseConsensusLengthTieBreak(t *testing.T) {
	_, meta, err := ChooseConsensus([]Candidate{
		{Engine: "short", Text: "abc"},
		{Engine: "long", Text: "abcd"},
	})
	require.NoError(t, err)
	assert.Equal(t, "long", meta.Winner)
}

func TestChooseConsensusEarlierEngineWinsFullTie(t *testing.T) {
	_, meta, err := ChooseConsensus([]Candidate{
		{Engine: "first", Text: "abc"},
		{Engine: "second", Text: "abd"},
	})
	require.NoError(t, err)
	assert.Equal(t, "first", meta.Winner)

	_, meta, err = ChooseConsensus([]Candidate{
		{Engine: "second", Text: "abd"},
		{Engine: "first", Text: "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "second", meta.Winner)
}

func TestChooseConsensusDeterministic(t *testing.T) {
	candidates := []Candidate{
		{Engine: "a", Text: "Invoice 2024-001 total due 45.00"},
		{Engine: "b", Text: "Invoice 2024-00l total due 45.00"},
		{Engine: "c", Text: "lnvoice 2O24-001 tota1 due 45.0O"},
		{Engine: "d", Text: "Invoice 2024-001 total due 45.00"},
	}

	firstText, firstMeta, err := ChooseConsensus(candidates)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		text, meta, err := ChooseConsensus(candidates)
		require.NoError(t, err)
		assert.Equal(t, firstText, text)
		assert.Equal(t, firstMeta, meta)
	}

	found := false
	for _, c := range candidates {
		if c.Text == firstText {
			found = true
		}
	}
	assert.True(t, found, "consensus must be one candidate verbatim")
}

func TestMergePages(t *testing.T) {
	merged := MergePages([]PageResult{
		{PageNumber: 1, ConsensusText: "  Hello  "},
		{PageNumber: 2, ConsensusText: "World\n\n"},
	})
	assert.Equal(t, "--- PAGE 1 ---\n\nHello\n\n--- PAGE 2 ---\n\nWorld\n", merged)
}

func TestMergePagesTrailingNewline(t *testing.T) {
	assert.Equal(t, "\n", MergePages(nil))

	merged := MergePages([]PageResult{
		{PageNumber: 1, ConsensusText: "A"},
		{PageNumber: 2, ConsensusText: "   "},
	})
	assert.Equal(t, "--- PAGE 1 ---\n\nA\n\n--- PAGE 2 ---\n", merged)
}
