// Package synthesis compiles a terminated debate into an executive summary
// and a single recommendation.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/config"
	"dev.helix.panel/internal/llm"
	"dev.helix.panel/internal/models"
)

// Synthesizer produces the final synthesis from the full transcript.
type Synthesizer struct {
	gen    llm.TextGenerator
	llmCfg config.LLMConfig
	retry  llm.RetryConfig
	log    *logrus.Logger
}

// New creates a synthesizer.
func New(gen llm.TextGenerator, llmCfg config.LLMConfig, retry llm.RetryConfig, log *logrus.Logger) *Synthesizer {
	if log == nil {
		log = logrus.New()
	}
	return &Synthesizer{gen: gen, llmCfg: llmCfg, retry: retry, log: log}
}

// Synthesize compiles the transcript and final ranking into the terminal
// synthesis. The recommendation always names the top-ranked option; the
// generated text provides the executive framing around it.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	question string,
	rounds []models.DebateRound,
	finalOptions []models.RankedOption,
) (*models.Synthesis, error) {
	result, err := llm.GenerateWithRetry(ctx, s.gen, s.buildPrompt(question, rounds, finalOptions), llm.GenerationParams{
		Model:       s.llmCfg.SynthesisModel,
		Temperature: 0.3,
		MaxTokens:   1200,
	}, s.retry)
	if err != nil {
		return nil, fmt.Errorf("synthesis generation failed: %w", err)
	}

	synthesis := &models.Synthesis{
		Summary:    strings.TrimSpace(result.Text),
		TokensUsed: result.TokensUsed,
		CostUSD:    result.CostUSD,
	}
	if len(finalOptions) > 0 {
		synthesis.Recommendation = finalOptions[0].Option
	}

	s.log.WithFields(logrus.Fields{
		"rounds":  len(rounds),
		"options": len(finalOptions),
		"tokens":  result.TokensUsed,
	}).Info("Debate synthesized")

	return synthesis, nil
}

func (s *Synthesizer) buildPrompt(question string, rounds []models.DebateRound, finalOptions []models.RankedOption) string {
	var sb strings.Builder

	sb.WriteString("Write an executive synthesis of the following expert panel debate.\n\n")
	sb.WriteString(fmt.Sprintf("QUESTION: %s\n\n", question))

	sb.WriteString("FINAL OPTION RANKING:\n")
	for i, opt := range finalOptions {
		sb.WriteString(fmt.Sprintf("%d. %s (success rate %.0f%%, %d supporters)\n",
			i+1, opt.Option, opt.SuccessRate, len(opt.Supporters)))
		for _, pro := range opt.Pros {
			sb.WriteString(fmt.Sprintf("   + %s\n", pro))
		}
		for _, con := range opt.Cons {
			sb.WriteString(fmt.Sprintf("   - %s\n", con))
		}
	}

	sb.WriteString("\nTRANSCRIPT:\n")
	for _, round := range rounds {
		sb.WriteString(fmt.Sprintf("--- Round %d ---\n", round.Number))
		for _, msg := range round.Messages {
			author := msg.AuthorName
			if author == "" {
				author = msg.Author
			}
			sb.WriteString(fmt.Sprintf("[%s]: %s\n", author, msg.Content))
		}
	}

	sb.WriteString(`
Produce:
1. A concise executive summary of the debate (key arguments, where experts
   agreed and disagreed, how positions evolved).
2. The decisive trade-offs behind the top-ranked option.
3. Concrete next steps.
Write for a decision maker who did not read the transcript.`)

	return sb.String()
}
