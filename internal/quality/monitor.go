// Package quality scores each debate round on depth, diversity, and
// convergence, and flags degradation patterns such as premature agreement.
// Quality signals feed the moderator's cadence and are deliberately computed
// without reference to the consensus threshold: fast false-agreement must not
// suppress moderation.
package quality

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/config"
	"dev.helix.panel/internal/models"
)

// Monitor analyzes round quality.
type Monitor struct {
	cfg config.QualityConfig
	log *logrus.Logger
}

// NewMonitor creates a quality monitor with the given policy.
func NewMonitor(cfg config.QualityConfig, log *logrus.Logger) *Monitor {
	if log == nil {
		log = logrus.New()
	}
	return &Monitor{cfg: cfg, log: log}
}

// Analyze scores one completed round. roundMessages holds only the messages
// of the analyzed round; consensusHistory holds the consensus score of every
// round up to and including it, ordered by round.
func (m *Monitor) Analyze(
	round int,
	roundMessages []models.DebateMessage,
	consensusHistory []float64,
) *models.QualityAnalysis {
	depth := m.depthScore(roundMessages)
	diversity := m.diversityScore(roundMessages)
	convergence := convergenceTrend(consensusHistory)

	analysis := &models.QualityAnalysis{
		Round:       round,
		Depth:       depth,
		Diversity:   diversity,
		Convergence: convergence,
	}

	if depth < m.cfg.DepthFloor {
		analysis.Issues = append(analysis.Issues, models.IssueShallowArguments)
	}
	if diversity < m.cfg.DiversityFloor && round <= m.cfg.PrematureRounds+1 {
		// Positions collapsing while the debate is young signals groupthink
		// rather than genuine convergence.
		analysis.Issues = append(analysis.Issues, models.IssueLowDiversity)
	}
	if convergence > 0.8 && round <= m.cfg.PrematureRounds {
		analysis.Issues = append(analysis.Issues, models.IssuePrematureConsensus)
	}
	if round > m.cfg.PrematureRounds+1 && isStalled(consensusHistory) {
		analysis.Issues = append(analysis.Issues, models.IssueStalledConvergence)
	}

	overall := 0.4*depth + 0.35*diversity + 0.25*convergence
	// A premature-consensus flag caps the round's quality so the moderator
	// falls into its aggressive cadence tier.
	if hasIssue(analysis.Issues, models.IssuePrematureConsensus) && overall > m.cfg.LowThreshold {
		overall = m.cfg.LowThreshold
	}
	analysis.Overall = clamp01(overall)

	m.log.WithFields(logrus.Fields{
		"round":       round,
		"depth":       depth,
		"diversity":   diversity,
		"convergence": convergence,
		"overall":     analysis.Overall,
		"issues":      analysis.Issues,
	}).Debug("Round quality analyzed")

	return analysis
}

var (
	numberRe    = regexp.MustCompile(`\d`)
	markerRe    = regexp.MustCompile(`(?im)^\s*(RECOMMENDATION|PRO|CON|CONFIDENCE):`)
	referenceRe = regexp.MustCompile(`(?i)\b(as .{0,40}(noted|argued|said)|disagree|agree with|counter)`)
)

// depthScore measures argument specificity across the round's expert
// messages: concrete numbers, structured stance markers, engagement with
// other experts' points, and adequate length all contribute.
func (m *Monitor) depthScore(roundMessages []models.DebateMessage) float64 {
	expertMsgs := 0
	total := 0.0
	for _, msg := range roundMessages {
		if msg.Author == models.ModeratorAuthor {
			continue
		}
		expertMsgs++
		total += messageDepth(msg.Content)
	}
	if expertMsgs == 0 {
		return 0
	}
	return clamp01(total / float64(expertMsgs))
}

func messageDepth(content string) float64 {
	score := 0.0

	// Length factor: too short is shallow, moderately long is thorough.
	n := len(content)
	switch {
	case n < 80:
		score += 0.1
	case n < 300:
		score += 0.25
	default:
		score += 0.35
	}

	if numberRe.MatchString(content) {
		score += 0.2
	}
	if markers := markerRe.FindAllString(content, -1); len(markers) >= 3 {
		score += 0.25
	} else if len(markers) > 0 {
		score += 0.15
	}
	if referenceRe.MatchString(content) {
		score += 0.2
	}

	return clamp01(score)
}

// diversityScore measures how many distinct positions the round holds,
// normalized by participant count. One shared position across every expert
// scores low; everyone holding their own position scores 1.
func (m *Monitor) diversityScore(roundMessages []models.DebateMessage) float64 {
	positions := make(map[string]bool)
	experts := 0
	for _, msg := range roundMessages {
		if msg.Author == models.ModeratorAuthor {
			continue
		}
		experts++
		positions[positionKey(msg.Content)] = true
	}
	if experts <= 1 {
		return 0
	}
	// Map distinct/experts from [1/n, 1] onto [0, 1].
	distinct := float64(len(positions))
	n := float64(experts)
	return clamp01((distinct - 1) / (n - 1))
}

var recommendationLineRe = regexp.MustCompile(`(?im)^\s*RECOMMENDATION:\s*(.+)$`)

func positionKey(content string) string {
	line := ""
	if m := recommendationLineRe.FindStringSubmatch(content); m != nil {
		line = m[1]
	} else {
		line = content
		if len(line) > 120 {
			line = line[:120]
		}
	}
	line = strings.ToLower(line)
	line = strings.Join(strings.Fields(line), " ")
	return line
}

// convergenceTrend maps the consensus score trajectory to [0,1]: the current
// level blended with how fast the last step moved toward agreement.
func convergenceTrend(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	current := history[len(history)-1]
	if len(history) == 1 {
		return clamp01(current)
	}
	previous := history[len(history)-2]
	delta := current - previous
	// A positive step amplifies the trend, a regression dampens it.
	return clamp01(0.7*current + 0.3*(0.5+delta))
}

// isStalled reports a consensus score that is both low and flat: the debate
// keeps running without moving toward agreement.
func isStalled(history []float64) bool {
	if len(history) < 2 {
		return false
	}
	current := history[len(history)-1]
	previous := history[len(history)-2]
	return current < 0.3 && current-previous < 0.05
}

func hasIssue(issues []models.QualityIssue, target models.QualityIssue) bool {
	for _, issue := range issues {
		if issue == target {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
