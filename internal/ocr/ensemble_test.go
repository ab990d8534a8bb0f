package ocr

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
)

// stubGateway answers from a table keyed by engine and page.
type stubGateway struct {
	mu      sync.Mutex
	texts   map[string]map[int]string
	fail    map[string]int // engine -> page that fails
	delay   func(page int) time.Duration
	calls   atomic.Int32
	order   map[int][]string
	prompts []string
	models  []string
	tokens  []int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		texts: map[string]map[int]string{},
		fail:  map[string]int{},
		order: map[int][]string{},
	}
}

func (s *stubGateway) set(engine string, page int, text string) {
	if s.texts[engine] == nil {
		s.texts[engine] = map[int]string{}
	}
	s.texts[engine][page] = text
}

func (s *stubGateway) OCRPage(ctx context.Context, engine EngineSpec, page PageInput, prompt string, maxTokens int) (string, error) {
	s.calls.Add(1)
	if s.delay != nil {
		select {
		case <-time.After(s.delay(page.PageNumber)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	s.order[page.PageNumber] = append(s.order[page.PageNumber], engine.Name)
	s.prompts = append(s.prompts, prompt)
	s.models = append(s.models, engine.Model())
	s.tokens = append(s.tokens, maxTokens)
	s.mu.Unlock()

	if p, ok := s.fail[engine.Name]; ok && p == page.PageNumber {
		return "", stderrors.New("HTTP 502: bad gateway")
	}
	return s.texts[engine.Name][page.PageNumber], nil
}

func engines(names ...string) []EngineSpec {
	out := make([]EngineSpec, len(names))
	for i, n := range names {
		out[i] = EngineSpec{Name: n}
	}
	return out
}

func pagesN(n int) []PageInput {
	out := make([]PageInput, n)
	for i := range out {
		out[i] = PageInput{PageNumber: i + 1, PNG: []byte{0x89, 'P', 'N', 'G'}}
	}
	return out
}

func TestRunEnsembleRejectsEmptyEngineList(t *testing.T) {
	gw := newStubGateway()

	result, err := RunEnsemble(context.Background(), gw, pagesN(2), EnsembleConfig{Gate: DefaultQualityGate()})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, apperrors.ErrorInvalidArgument, apperrors.CodeOf(err))
	assert.Equal(t, int32(0), gw.calls.Load())
}

func TestRunEnsembleRejectsBadConfig(t *testing.T) {
	gw := newStubGateway()

	tests := []struct {
		name string
		cfg  EnsembleConfig
	}{
		{"duplicate engine", DefaultEnsembleConfig(engines("a", "a")...)},
		{"blank engine name", DefaultEnsembleConfig(engines("")...)},
		{"bad gate", EnsembleConfig{Engines: engines("a"), Gate: QualityGate{MinAlphaRatio: 2}}},
		{"negative max tokens", EnsembleConfig{Engines: engines("a"), MaxTokens: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RunEnsemble(context.Background(), gw, pagesN(1), tt.cfg)
			assert.Equal(t, apperrors.ErrorInvalidArgument, apperrors.CodeOf(err))
		})
	}
	assert.Equal(t, int32(0), gw.calls.Load())
}

func TestRunEnsembleZeroPages(t *testing.T) {
	result, err := RunEnsemble(context.Background(), newStubGateway(), nil, DefaultEnsembleConfig(engines("a", "b")...))
	require.NoError(t, err)

	assert.NotNil(t, result.Pages)
	assert.Empty(t, result.Pages)
	assert.True(t, result.OverallPassed)
	assert.Equal(t, "\n", result.MergedText)
}

func TestRunEnsembleGateDecision(t *testing.T) {
	gw := newStubGateway()
	gw.set("a", 1, "Hello world")
	gw.set("b", 1, "Hello world")
	gw.set("c", 1, "He11o wor1d")
	gw.set("a", 2, "1234567890")
	gw.set("b", 2, "1234567890")
	gw.set("c", 2, "1234567B90")

	cfg := DefaultEnsembleConfig(engines("a", "b", "c")...)
	cfg.Gate = QualityGate{MinCharsPerPage: 5, MinAlphaRatio: 0.2, MinPrintableRatio: 0.9}

	result, err := RunEnsemble(context.Background(), gw, pagesN(2), cfg)
	require.NoError(t, err)
	require.Len(t, result.Pages, 2)

	p1, p2 := result.Pages[0], result.Pages[1]
	assert.Equal(t, "Hello world", p1.ConsensusText)
	assert.True(t, p1.PassedGate)
	assert.Equal(t, "1234567890", p2.ConsensusText)
	assert.False(t, p2.PassedGate)
	assert.False(t, result.OverallPassed)

	for _, p := range result.Pages {
		assert.Equal(t, PassesQualityGate(AssessTextQuality(p.ConsensusText), cfg.Gate), p.PassedGate)
		assert.Len(t, p.EngineTexts, 3)
		assert.Len(t, p.QualityByEngine, 3)
		assert.Contains(t, p.EngineTexts, p.ConsensusMeta.Winner)
		assert.Equal(t, p.EngineTexts[p.ConsensusMeta.Winner], p.ConsensusText)
	}
	assert.Equal(t, "--- PAGE 1 ---\n\nHello world\n\n--- PAGE 2 ---\n\n1234567890\n", result.MergedText)
}

func TestRunEnsembleOverallPassedWhenAllPagesPass(t *testing.T) {
	gw := newStubGateway()
	text := "A perfectly ordinary page of scanned text, long enough to pass."
	for page := 1; page <= 3; page++ {
		gw.set("a", page, text)
	}

	result, err := RunEnsemble(context.Background(), gw, pagesN(3), DefaultEnsembleConfig(engines("a")...))
	require.NoError(t, err)

	assert.True(t, result.OverallPassed)
	assert.Equal(t, 3, result.PagesPassed())
	for _, p := range result.Pages {
		assert.Empty(t, p.ConsensusMeta.PairwiseSimilarity)
		assert.Equal(t, "a", p.ConsensusMeta.Winner)
	}
}

func TestRunEnsembleCallsEnginesInOrderWithDefaults(t *testing.T) {
	gw := newStubGateway()
	cfg := EnsembleConfig{Engines: engines("x", "y", "z"), Gate: DefaultQualityGate()}

	_, err := RunEnsemble(context.Background(), gw, pagesN(2), cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "z"}, gw.order[1])
	assert.Equal(t, []string{"x", "y", "z"}, gw.order[2])
	assert.Equal(t, []string{"ocr/x", "ocr/y", "ocr/z", "ocr/x", "ocr/y", "ocr/z"}, gw.models)
	for i := range gw.prompts {
		assert.Equal(t, DefaultPrompt, gw.prompts[i])
		assert.Equal(t, DefaultMaxTokens, gw.tokens[i])
	}
}

func TestRunEnsemblePreservesPageOrderConcurrently(t *testing.T) {
	gw := newStubGateway()
	const n = 8
	for page := 1; page <= n; page++ {
		gw.set("a", page, fmt.Sprintf("page %d text", page))
		gw.set("b", page, fmt.Sprintf("page %d text", page))
	}
	// later pages finish first
	gw.delay = func(page int) time.Duration { return time.Duration(n-page+1) * 2 * time.Millisecond }

	cfg := DefaultEnsembleConfig(engines("a", "b")...)
	cfg.Concurrency = 4

	result, err := RunEnsemble(context.Background(), gw, pagesN(n), cfg)
	require.NoError(t, err)
	require.Len(t, result.Pages, n)
	for i, p := range result.Pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.Equal(t, fmt.Sprintf("page %d text", i+1), p.ConsensusText)
		assert.Equal(t, []string{"a", "b"}, gw.order[i+1])
	}
}

func TestRunEnsembleEngineFailureAbortsRun(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			gw := newStubGateway()
			gw.fail["b"] = 2

			cfg := DefaultEnsembleConfig(engines("a", "b")...)
			cfg.Concurrency = concurrency

			result, err := RunEnsemble(context.Background(), gw, pagesN(3), cfg)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, apperrors.ErrorEngineCallFailed, apperrors.CodeOf(err))

			engine, ok := apperrors.EngineOf(err)
			require.True(t, ok)
			assert.Equal(t, "b", engine)
			assert.Contains(t, err.Error(), "page 2")
		})
	}
}

func TestRunEnsembleKeepsGatewayEngineError(t *testing.T) {
	original := apperrors.NewEngineCallError("remote", 1, stderrors.New("timeout"))
	gw := GatewayFunc(func(ctx context.Context, engine EngineSpec, page PageInput, prompt string, maxTokens int) (string, error) {
		return "", original
	})

	_, err := RunEnsemble(context.Background(), gw, pagesN(1), DefaultEnsembleConfig(engines("remote")...))
	assert.Same(t, original, err)
}

func TestRunEnsembleCancelledContext(t *testing.T) {
	gw := newStubGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunEnsemble(ctx, gw, pagesN(2), DefaultEnsembleConfig(engines("a")...))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), gw.calls.Load())
}

func TestEnsembleConfigWithout(t *testing.T) {
	cfg := DefaultEnsembleConfig(engines("a", "b", "c")...)

	dropped := cfg.Without("b")

	assert.Equal(t, []string{"a", "c"}, dropped.EngineNames())
	assert.Equal(t, []string{"a", "b", "c"}, cfg.EngineNames())
}
