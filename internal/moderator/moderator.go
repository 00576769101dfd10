// Package moderator decides when a debate needs a corrective nudge and
// generates the injected message. Cadence is driven purely by the quality
// signal; the consensus score never suppresses moderation.
package moderator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/config"
	"dev.helix.panel/internal/llm"
	"dev.helix.panel/internal/models"
)

// Moderator owns the intervention policy for running debates.
type Moderator struct {
	quality config.QualityConfig
	llmCfg  config.LLMConfig
	gen     llm.TextGenerator
	retry   llm.RetryConfig
	log     *logrus.Logger
}

// New creates a moderator.
func New(quality config.QualityConfig, llmCfg config.LLMConfig, gen llm.TextGenerator, retry llm.RetryConfig, log *logrus.Logger) *Moderator {
	if log == nil {
		log = logrus.New()
	}
	return &Moderator{
		quality: quality,
		llmCfg:  llmCfg,
		gen:     gen,
		retry:   retry,
		log:     log,
	}
}

// cadenceFor maps an overall quality score to the number of rounds between
// interventions: degraded debates get moderated often, healthy ones rarely.
func (m *Moderator) cadenceFor(overall float64) int {
	switch {
	case overall < m.quality.LowThreshold:
		return m.quality.CadenceLow
	case overall > m.quality.HighThreshold:
		return m.quality.CadenceHigh
	default:
		return m.quality.CadenceMedium
	}
}

// ShouldIntervene reports whether the moderator acts after the given round.
// lastIntervention is the round the previous intervention targeted, or 0 if
// none has happened yet.
func (m *Moderator) ShouldIntervene(round, lastIntervention int, analysis *models.QualityAnalysis) bool {
	if analysis == nil {
		return false
	}
	cadence := m.cadenceFor(analysis.Overall)
	if cadence < 1 {
		cadence = 1
	}
	sinceStart := round
	sinceLast := round - lastIntervention
	if lastIntervention == 0 {
		return sinceStart >= cadence
	}
	return sinceLast >= cadence
}

// interventionTypeFor picks the intervention flavor from the dominant issue.
func interventionTypeFor(issues []models.QualityIssue) models.InterventionType {
	for _, issue := range issues {
		switch issue {
		case models.IssuePrematureConsensus, models.IssueLowDiversity:
			return models.InterventionDevilsAdvocate
		case models.IssueStalledConvergence:
			return models.InterventionRefocus
		}
	}
	return models.InterventionSteering
}

// Intervene generates the corrective message for the next round. Generation
// failures degrade to a canned steering message rather than failing the
// session; moderation is advisory.
func (m *Moderator) Intervene(
	ctx context.Context,
	question string,
	analysis *models.QualityAnalysis,
	recent []models.DebateMessage,
	targetRound int,
) *models.ModeratorIntervention {
	kind := interventionTypeFor(analysis.Issues)

	intervention := &models.ModeratorIntervention{
		Type:        kind,
		TargetRound: targetRound,
	}

	result, err := llm.GenerateWithRetry(ctx, m.gen, m.buildPrompt(question, kind, analysis, recent), llm.GenerationParams{
		Model:       m.llmCfg.ModeratorModel,
		Temperature: 0.4,
		MaxTokens:   400,
	}, m.retry)
	if err != nil {
		m.log.WithError(err).Warn("Moderator generation failed, using fallback message")
		intervention.Message = fallbackMessage(kind)
		return intervention
	}

	intervention.Message = strings.TrimSpace(result.Text)
	intervention.TokensUsed = result.TokensUsed
	intervention.CostUSD = result.CostUSD
	return intervention
}

func (m *Moderator) buildPrompt(
	question string,
	kind models.InterventionType,
	analysis *models.QualityAnalysis,
	recent []models.DebateMessage,
) string {
	var sb strings.Builder

	sb.WriteString("You are the neutral moderator of an expert panel debate.\n")
	sb.WriteString(fmt.Sprintf("QUESTION UNDER DEBATE: %s\n\n", question))

	sb.WriteString("DETECTED QUALITY ISSUES:\n")
	if len(analysis.Issues) == 0 {
		sb.WriteString("- none, routine steering\n")
	}
	for _, issue := range analysis.Issues {
		sb.WriteString(fmt.Sprintf("- %s\n", issue))
	}
	sb.WriteString(fmt.Sprintf("\nRound quality: depth %.2f, diversity %.2f, convergence %.2f\n\n",
		analysis.Depth, analysis.Diversity, analysis.Convergence))

	if len(recent) > 0 {
		sb.WriteString("MOST RECENT EXCHANGES:\n")
		for _, msg := range recent {
			sb.WriteString(fmt.Sprintf("[%s]: %s\n", msg.AuthorName, truncate(msg.Content, 400)))
		}
		sb.WriteString("\n")
	}

	switch kind {
	case models.InterventionDevilsAdvocate:
		sb.WriteString("The panel is agreeing too quickly. Write a short message that forces the experts to confront the strongest unaddressed risk or counterargument before settling.")
	case models.InterventionRefocus:
		sb.WriteString("The debate has stalled without progress. Write a short message that narrows the disagreement to its decisive point and asks each expert to address it directly.")
	default:
		sb.WriteString("Write a short steering message that raises an important aspect the panel has not yet considered.")
	}
	sb.WriteString("\nRespond with the moderator message only.")

	return sb.String()
}

func fallbackMessage(kind models.InterventionType) string {
	switch kind {
	case models.InterventionDevilsAdvocate:
		return "Moderator note: before converging, each expert must name the strongest argument against the currently favored option and respond to it."
	case models.InterventionRefocus:
		return "Moderator note: the debate is circling. State the single point you most disagree on with another expert and argue it directly."
	default:
		return "Moderator note: consider risks and stakeholders the discussion has not yet addressed."
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so a multi-byte character is never split.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
