package experts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/models"
)

// Scoring weights and bonuses. The weights mirror how much a matched
// knowledge area counts against a matched topic; the bonuses bias panels
// toward strategic generalists and, on hard questions, toward the critic.
const (
	areaWeight  = 0.6
	topicWeight = 0.3

	strategicBonus            = 15.0
	highComplexityCriticBonus = 10.0
	highComplexityThreshold   = 7
	criticBaselineScore       = 30.0
)

// MatchOptions bounds panel selection.
type MatchOptions struct {
	MinExperts          int
	MaxExperts          int
	MinScore            float64
	AlwaysIncludeCritic bool
}

// Matcher selects a panel from the registry for an analyzed question.
type Matcher struct {
	registry *Registry
	log      *logrus.Logger
}

// NewMatcher creates a matcher over the given registry snapshot.
func NewMatcher(registry *Registry, log *logrus.Logger) *Matcher {
	if log == nil {
		log = logrus.New()
	}
	return &Matcher{registry: registry, log: log}
}

// Match scores every registered expert against the analysis and assembles
// the panel: scores above MinScore capped at MaxExperts, a critic appended
// when requested and missing, and a backfill below the cutoff when the
// filtered set is smaller than MinExperts.
func (m *Matcher) Match(analysis *models.QuestionAnalysis, opts MatchOptions) []models.ExpertMatch {
	scored := make([]models.ExpertMatch, 0, m.registry.Len())
	for _, profile := range m.registry.All() {
		score, rationale := m.scoreExpert(profile, analysis)
		scored = append(scored, models.ExpertMatch{
			Expert:    profile,
			Score:     score,
			Rationale: rationale,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	selected := make([]models.ExpertMatch, 0, opts.MaxExperts)
	for _, match := range scored {
		if match.Score < opts.MinScore {
			continue
		}
		if len(selected) == opts.MaxExperts {
			break
		}
		selected = append(selected, match)
	}

	// Backfill below the cutoff so a weakly matched question still gets a
	// viable panel.
	if len(selected) < opts.MinExperts {
		for _, match := range scored {
			if len(selected) >= opts.MinExperts {
				break
			}
			if containsExpert(selected, match.Expert.ID) {
				continue
			}
			selected = append(selected, match)
		}
	}

	if opts.AlwaysIncludeCritic && !hasCritic(selected) {
		if critic := m.findCritic(); critic != nil {
			selected = append(selected, models.ExpertMatch{
				Expert:    critic,
				Score:     criticBaselineScore,
				Rationale: "appended to guarantee a critic on the panel",
			})
		}
	}

	assignRoles(selected)

	m.log.WithFields(logrus.Fields{
		"candidates": len(scored),
		"selected":   len(selected),
		"decision":   analysis.DecisionType,
		"complexity": analysis.Complexity,
	}).Info("Expert panel selected")

	return selected
}

// scoreExpert computes the relevance score of one expert for the analysis.
func (m *Matcher) scoreExpert(profile *models.ExpertProfile, analysis *models.QuestionAnalysis) (float64, string) {
	score := 0.0
	var matched []string

	for _, area := range analysis.Areas {
		if tagMatches(profile.Expertise, area.Name) {
			score += float64(area.Weight) * areaWeight
			matched = append(matched, "area:"+area.Name)
		}
	}
	for _, topic := range analysis.Topics {
		if tagMatches(profile.Topics, topic.Name) {
			score += float64(topic.Relevance) * topicWeight
			matched = append(matched, "topic:"+topic.Name)
		}
	}

	if analysis.DecisionType == models.DecisionStrategic && tagMatches(profile.Expertise, "strategy") {
		score += strategicBonus
		matched = append(matched, "strategic decision bonus")
	}
	if profile.IsCritic && analysis.Complexity >= highComplexityThreshold {
		score += highComplexityCriticBonus
		matched = append(matched, "high-complexity critic bonus")
	}

	rationale := "no tag overlap"
	if len(matched) > 0 {
		rationale = "matched " + strings.Join(matched, ", ")
	}
	return score, rationale
}

// assignRoles sets the role on every selected match in place: the critic
// keeps role critic; among the rest, the top half (bounded by 3) are
// primary, the remainder secondary.
func assignRoles(selected []models.ExpertMatch) {
	nonCritic := 0
	for i := range selected {
		if selected[i].Expert.IsCritic {
			selected[i].Role = models.RoleCritic
		} else {
			nonCritic++
		}
	}

	primaries := nonCritic / 2
	if primaries < 1 && nonCritic > 0 {
		primaries = 1
	}
	if primaries > 3 {
		primaries = 3
	}

	// selected is already sorted by score except for an appended critic,
	// which carries a role of its own.
	assigned := 0
	for i := range selected {
		if selected[i].Expert.IsCritic {
			continue
		}
		if assigned < primaries {
			selected[i].Role = models.RolePrimary
		} else {
			selected[i].Role = models.RoleSecondary
		}
		assigned++
	}
}

func (m *Matcher) findCritic() *models.ExpertProfile {
	for _, profile := range m.registry.All() {
		if profile.IsCritic {
			return profile
		}
	}
	return nil
}

func hasCritic(matches []models.ExpertMatch) bool {
	for _, match := range matches {
		if match.Expert.IsCritic {
			return true
		}
	}
	return false
}

func containsExpert(matches []models.ExpertMatch, id string) bool {
	for _, match := range matches {
		if match.Expert.ID == id {
			return true
		}
	}
	return false
}

// tagMatches reports whether any tag matches the name, case-insensitively.
// A tag matches on token equality or containment in either direction, so
// "competitive analysis" matches the area "analysis".
func tagMatches(tags []string, name string) bool {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return false
	}
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == needle || strings.Contains(t, needle) || strings.Contains(needle, t) {
			return true
		}
	}
	return false
}

// ValidatePanel checks panel viability and returns human-readable issues
// instead of failing, so callers decide whether to proceed.
func ValidatePanel(matches []models.ExpertMatch, qualityFloor float64) []string {
	var issues []string

	if len(matches) < 3 {
		issues = append(issues, fmt.Sprintf("panel has %d experts, need at least 3", len(matches)))
	}

	primaries := 0
	critics := 0
	total := 0.0
	for _, match := range matches {
		switch match.Role {
		case models.RolePrimary:
			primaries++
		case models.RoleCritic:
			critics++
		}
		total += match.Score
	}

	if primaries == 0 {
		issues = append(issues, "panel has no primary expert")
	}
	if critics == 0 {
		issues = append(issues, "panel has no critic")
	}
	if len(matches) > 0 {
		mean := total / float64(len(matches))
		if mean < qualityFloor {
			issues = append(issues, fmt.Sprintf("mean panel score %.1f is below the quality floor %.1f", mean, qualityFloor))
		}
	}

	return issues
}
