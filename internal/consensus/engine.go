// Package consensus ranks the options held in a debate transcript and scores
// how strongly the top option dominates the alternatives.
package consensus

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/models"
)

// Stance markers experts are instructed to use in their responses. The
// runner's prompts establish this protocol; parsing tolerates absence by
// falling back to the first sentence of a message.
var (
	recommendationRe = regexp.MustCompile(`(?im)^\s*RECOMMENDATION:\s*(.+)$`)
	confidenceRe     = regexp.MustCompile(`(?im)^\s*CONFIDENCE:\s*(\d{1,3})\s*%?\s*$`)
	proRe            = regexp.MustCompile(`(?im)^\s*PRO:\s*(.+)$`)
	conRe            = regexp.MustCompile(`(?im)^\s*CON:\s*(.+)$`)
)

// Engine computes ranked options and consensus scores from transcripts.
type Engine struct {
	log *logrus.Logger
}

// NewEngine creates a consensus engine.
func NewEngine(log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{log: log}
}

// stance is one expert's extracted position from a single message.
type stance struct {
	author     string
	option     string
	normalized string
	confidence float64 // 0-100
	pros       []string
	cons       []string
}

// RankOptions derives the current option ranking from the full message
// history. The ranking is always recomputed from scratch; only each author's
// latest stance counts, so experts changing their mind supersede their
// earlier positions.
func (e *Engine) RankOptions(messages []models.DebateMessage) []models.RankedOption {
	// Latest stance per author wins. Messages are already ordered by
	// (round, position).
	latest := make(map[string]stance)
	for _, msg := range messages {
		if msg.Author == models.ModeratorAuthor {
			continue
		}
		s, ok := extractStance(msg)
		if !ok {
			continue
		}
		latest[msg.Author] = s
	}

	// Group stances whose normalized options are near-identical.
	type group struct {
		option     string
		supporters []string
		confSum    float64
		pros       []string
		cons       []string
	}
	groups := make([]*group, 0, len(latest))

	authors := make([]string, 0, len(latest))
	for a := range latest {
		authors = append(authors, a)
	}
	sort.Strings(authors)

	for _, author := range authors {
		s := latest[author]
		var g *group
		for _, cand := range groups {
			if similar(normalize(cand.option), s.normalized) {
				g = cand
				break
			}
		}
		if g == nil {
			g = &group{option: s.option}
			groups = append(groups, g)
		}
		g.supporters = append(g.supporters, author)
		g.confSum += s.confidence
		g.pros = appendUnique(g.pros, s.pros...)
		g.cons = appendUnique(g.cons, s.cons...)
	}

	options := make([]models.RankedOption, 0, len(groups))
	for _, g := range groups {
		n := float64(len(g.supporters))
		avgConf := g.confSum / n
		options = append(options, models.RankedOption{
			Option:      g.option,
			SuccessRate: avgConf,
			Supporters:  g.supporters,
			Pros:        g.pros,
			Cons:        g.cons,
			Confidence:  clamp01(avgConf / 100),
		})
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].SuccessRate != options[j].SuccessRate {
			return options[i].SuccessRate > options[j].SuccessRate
		}
		return len(options[i].Supporters) > len(options[j].Supporters)
	})

	return options
}

// Score computes the consensus score for a ranked option set.
//
// No options yields 0. A single option scores its success rate directly.
// With two or more options the score blends the top option's success rate,
// the gap to the runner-up, and how broad the top option's support is.
func (e *Engine) Score(options []models.RankedOption) float64 {
	switch len(options) {
	case 0:
		return 0
	case 1:
		return clamp01(options[0].SuccessRate / 100)
	}

	top, second := options[0], options[1]

	topStrength := top.SuccessRate / 100
	gap := (top.SuccessRate - second.SuccessRate) / 100
	if gap < 0 {
		gap = 0
	}

	totalSupporters := 0
	for _, opt := range options {
		n := len(opt.Supporters)
		if n == 0 {
			n = 1
		}
		totalSupporters += n
	}
	topSupporters := len(top.Supporters)
	if topSupporters == 0 {
		topSupporters = 1
	}
	breadth := float64(topSupporters) / float64(totalSupporters)

	score := 0.5*topStrength + 0.3*gap + 0.2*breadth
	return clamp01(score)
}

// Check runs a full consensus evaluation for the transcript at the given
// round. ShouldContinue stays true until the score crosses threshold and at
// least minRounds rounds have elapsed, so a single premature exchange cannot
// terminate a debate.
func (e *Engine) Check(messages []models.DebateMessage, round, minRounds int, threshold float64) *models.ConsensusResult {
	options := e.RankOptions(messages)
	score := e.Score(options)

	reached := score >= threshold && round >= minRounds
	e.log.WithFields(logrus.Fields{
		"round":   round,
		"options": len(options),
		"score":   score,
		"reached": reached,
	}).Debug("Consensus check")

	return &models.ConsensusResult{
		Score:          score,
		Options:        options,
		ShouldContinue: !reached,
	}
}

// extractStance pulls the structured stance out of a message. Messages with
// no recommendation marker fall back to the first sentence with a neutral
// confidence, so unstructured responses still register a position.
func extractStance(msg models.DebateMessage) (stance, bool) {
	content := msg.Content
	if strings.TrimSpace(content) == "" {
		return stance{}, false
	}

	option := ""
	if m := recommendationRe.FindStringSubmatch(content); m != nil {
		option = strings.TrimSpace(m[1])
	} else {
		option = firstSentence(content)
	}
	if option == "" {
		return stance{}, false
	}

	confidence := 50.0
	if m := confidenceRe.FindStringSubmatch(content); m != nil {
		if v := parsePercent(m[1]); v >= 0 {
			confidence = v
		}
	}

	s := stance{
		author:     msg.Author,
		option:     option,
		normalized: normalize(option),
		confidence: confidence,
	}
	for _, m := range proRe.FindAllStringSubmatch(content, -1) {
		s.pros = append(s.pros, strings.TrimSpace(m[1]))
	}
	for _, m := range conRe.FindAllStringSubmatch(content, -1) {
		s.cons = append(s.cons, strings.TrimSpace(m[1]))
	}
	return s, true
}

func parsePercent(raw string) float64 {
	v := 0.0
	for _, r := range raw {
		v = v*10 + float64(r-'0')
	}
	if v > 100 {
		return 100
	}
	return v
}

func firstSentence(content string) string {
	trimmed := strings.TrimSpace(content)
	for i, r := range trimmed {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return strings.TrimSpace(trimmed[:i])
		}
	}
	if len(trimmed) > 200 {
		cut := 200
		// Back off to a rune boundary so a multi-byte character is never split.
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		return strings.TrimSpace(trimmed[:cut])
	}
	return trimmed
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9\s]+`)

func normalize(s string) string {
	s = strings.ToLower(s)
	s = nonWordRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// similar reports whether two normalized option texts describe the same
// option, using token overlap.
func similar(a, b string) bool {
	if a == b {
		return true
	}
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	set := make(map[string]bool, len(ta))
	for _, w := range ta {
		set[w] = true
	}
	common := 0
	for _, w := range tb {
		if set[w] {
			common++
		}
	}
	union := len(ta) + len(tb) - common
	return float64(common)/float64(union) >= 0.6
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		dup := false
		for _, existing := range dst {
			if existing == item {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, item)
		}
	}
	return dst
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
