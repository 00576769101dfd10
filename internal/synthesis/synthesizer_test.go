package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.panel/internal/config"
	"dev.helix.panel/internal/llm"
	"dev.helix.panel/internal/models"
)

type promptCapture struct {
	prompt string
	text   string
	err    error
}

func (p *promptCapture) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (*llm.GenerationResult, error) {
	p.prompt = prompt
	if p.err != nil {
		return nil, p.err
	}
	return &llm.GenerationResult{Text: p.text, TokensUsed: 300, CostUSD: 0.01}, nil
}

func newSynthesizer(gen llm.TextGenerator) *Synthesizer {
	retry := llm.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, Multiplier: 2}
	return New(gen, config.LLMConfig{SynthesisModel: "test-model"}, retry, nil)
}

func sampleRounds() []models.DebateRound {
	return []models.DebateRound{
		{
			Number: 1,
			Messages: []models.DebateMessage{
				{Author: "finance-analyst", AuthorName: "Marcus Chen", Content: "Margins support the increase."},
				{Author: "devils-advocate", AuthorName: "Viktor Sorel", Content: "Churn risk is underpriced."},
			},
		},
		{
			Number: 2,
			Messages: []models.DebateMessage{
				{Author: models.ModeratorAuthor, Content: "Address the churn question directly."},
				{Author: "finance-analyst", AuthorName: "Marcus Chen", Content: "Phased rollout mitigates churn."},
			},
		},
	}
}

func sampleOptions() []models.RankedOption {
	return []models.RankedOption{
		{
			Option:      "Phase the increase over two quarters",
			SuccessRate: 78,
			Supporters:  []string{"finance-analyst", "product-lead"},
			Pros:        []string{"protects existing accounts"},
			Cons:        []string{"delays revenue"},
		},
		{Option: "Keep the current price", SuccessRate: 35, Supporters: []string{"devils-advocate"}},
	}
}

func TestSynthesize_ProducesSummaryAndRecommendation(t *testing.T) {
	gen := &promptCapture{text: "  The panel converged on a phased increase.  "}
	s := newSynthesizer(gen)

	synthesis, err := s.Synthesize(context.Background(), "Should we raise the price?", sampleRounds(), sampleOptions())

	require.NoError(t, err)
	assert.Equal(t, "The panel converged on a phased increase.", synthesis.Summary)
	assert.Equal(t, "Phase the increase over two quarters", synthesis.Recommendation)
	assert.Equal(t, 300, synthesis.TokensUsed)
	assert.InDelta(t, 0.01, synthesis.CostUSD, 1e-9)
}

func TestSynthesize_PromptContainsTranscriptAndRanking(t *testing.T) {
	gen := &promptCapture{text: "ok"}
	s := newSynthesizer(gen)

	_, err := s.Synthesize(context.Background(), "Should we raise the price?", sampleRounds(), sampleOptions())
	require.NoError(t, err)

	assert.Contains(t, gen.prompt, "Should we raise the price?")
	assert.Contains(t, gen.prompt, "Phase the increase over two quarters")
	assert.Contains(t, gen.prompt, "Marcus Chen")
	assert.Contains(t, gen.prompt, "--- Round 2 ---")
	assert.Contains(t, gen.prompt, "+ protects existing accounts")
	assert.Contains(t, gen.prompt, "- delays revenue")
}

func TestSynthesize_NoOptionsLeavesRecommendationEmpty(t *testing.T) {
	gen := &promptCapture{text: "inconclusive"}
	s := newSynthesizer(gen)

	synthesis, err := s.Synthesize(context.Background(), "q", sampleRounds(), nil)

	require.NoError(t, err)
	assert.Empty(t, synthesis.Recommendation)
}

func TestSynthesize_GenerationFailurePropagates(t *testing.T) {
	gen := &promptCapture{err: llm.Transient(errors.New("provider down"))}
	s := newSynthesizer(gen)

	_, err := s.Synthesize(context.Background(), "q", nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis generation failed")
}
