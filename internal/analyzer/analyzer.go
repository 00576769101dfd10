// Package analyzer classifies a question into weighted knowledge areas,
// topics, complexity and decision type by delegating to the text-generation
// capability with a strict output schema.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/cache"
	"dev.helix.panel/internal/config"
	"dev.helix.panel/internal/llm"
	"dev.helix.panel/internal/models"
)

// Analyzer produces immutable QuestionAnalysis values.
type Analyzer struct {
	gen      llm.TextGenerator
	llmCfg   config.LLMConfig
	retry    llm.RetryConfig
	cache    *cache.RedisClient // optional
	cacheTTL time.Duration
	log      *logrus.Logger
}

// New creates an analyzer. cacheClient may be nil to disable reuse of
// analyses across sessions.
func New(gen llm.TextGenerator, llmCfg config.LLMConfig, retry llm.RetryConfig, cacheClient *cache.RedisClient, cacheTTL time.Duration, log *logrus.Logger) *Analyzer {
	if log == nil {
		log = logrus.New()
	}
	return &Analyzer{
		gen:      gen,
		llmCfg:   llmCfg,
		retry:    retry,
		cache:    cacheClient,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// analysisSchema is the exact shape the generation call must return.
type analysisSchema struct {
	Areas []struct {
		Name      string `json:"name"`
		Weight    int    `json:"weight"`
		Rationale string `json:"rationale"`
	} `json:"areas"`
	Topics []struct {
		Name      string `json:"name"`
		Relevance int    `json:"relevance"`
	} `json:"topics"`
	Complexity   int    `json:"complexity"`
	DecisionType string `json:"decision_type"`
}

// Analyze classifies the question. Identical (question, context) pairs are
// served from cache when one is configured. Malformed structured output
// fails with llm.ErrSchemaParse and is never silently reinterpreted.
func (a *Analyzer) Analyze(ctx context.Context, question, questionContext string) (*models.QuestionAnalysis, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	key := cacheKey(question, questionContext)
	if a.cache != nil {
		var cached models.QuestionAnalysis
		if err := a.cache.Get(ctx, key, &cached); err == nil {
			a.log.WithField("key", key).Debug("Question analysis served from cache")
			return &cached, nil
		}
	}

	result, err := llm.GenerateWithRetry(ctx, a.gen, a.buildPrompt(question, questionContext), llm.GenerationParams{
		Model:       a.llmCfg.AnalyzerModel,
		Temperature: a.llmCfg.AnalyzerTemp,
		MaxTokens:   800,
	}, a.retry)
	if err != nil {
		return nil, fmt.Errorf("question analysis generation failed: %w", err)
	}

	analysis, err := parseAnalysis(result.Text)
	if err != nil {
		return nil, err
	}

	analysis.Question = question
	analysis.Context = questionContext
	analysis.TokensUsed = result.TokensUsed
	analysis.CostUSD = result.CostUSD
	analysis.CreatedAt = time.Now()

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, analysis, a.cacheTTL); err != nil {
			a.log.WithError(err).Warn("Failed to cache question analysis")
		}
	}

	a.log.WithFields(logrus.Fields{
		"areas":      len(analysis.Areas),
		"topics":     len(analysis.Topics),
		"complexity": analysis.Complexity,
		"decision":   analysis.DecisionType,
	}).Info("Question analyzed")

	return analysis, nil
}

func (a *Analyzer) buildPrompt(question, questionContext string) string {
	var sb strings.Builder

	sb.WriteString("Classify the following decision question for expert panel assembly.\n\n")
	sb.WriteString(fmt.Sprintf("QUESTION: %s\n", question))
	if questionContext != "" {
		sb.WriteString(fmt.Sprintf("CONTEXT: %s\n", questionContext))
	}
	sb.WriteString(`
Respond with JSON only, exactly this shape:
{
  "areas": [{"name": "...", "weight": 0-100, "rationale": "..."}],
  "topics": [{"name": "...", "relevance": 0-100}],
  "complexity": 1-10,
  "decision_type": "strategic" | "tactical" | "operational"
}

Rules: 2-5 areas, 2-6 topics, weights and relevance are integers.
No prose, no markdown fences.`)

	return sb.String()
}

// parseAnalysis validates the structured output. Every violation wraps
// llm.ErrSchemaParse so callers can distinguish a malformed response from a
// provider failure.
func parseAnalysis(raw string) (*models.QuestionAnalysis, error) {
	cleaned := stripFences(raw)

	var schema analysisSchema
	if err := json.Unmarshal([]byte(cleaned), &schema); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", llm.ErrSchemaParse, err)
	}

	if len(schema.Areas) == 0 {
		return nil, fmt.Errorf("%w: no knowledge areas returned", llm.ErrSchemaParse)
	}
	if schema.Complexity < 1 || schema.Complexity > 10 {
		return nil, fmt.Errorf("%w: complexity %d out of range 1-10", llm.ErrSchemaParse, schema.Complexity)
	}

	decisionType := models.DecisionType(schema.DecisionType)
	switch decisionType {
	case models.DecisionStrategic, models.DecisionTactical, models.DecisionOperational:
	default:
		return nil, fmt.Errorf("%w: unknown decision type %q", llm.ErrSchemaParse, schema.DecisionType)
	}

	analysis := &models.QuestionAnalysis{
		Complexity:   schema.Complexity,
		DecisionType: decisionType,
	}
	for _, area := range schema.Areas {
		if area.Name == "" {
			return nil, fmt.Errorf("%w: knowledge area without a name", llm.ErrSchemaParse)
		}
		if area.Weight < 0 || area.Weight > 100 {
			return nil, fmt.Errorf("%w: area weight %d out of range 0-100", llm.ErrSchemaParse, area.Weight)
		}
		analysis.Areas = append(analysis.Areas, models.KnowledgeArea{
			Name:      area.Name,
			Weight:    area.Weight,
			Rationale: area.Rationale,
		})
	}
	for _, topic := range schema.Topics {
		if topic.Name == "" {
			return nil, fmt.Errorf("%w: topic without a name", llm.ErrSchemaParse)
		}
		if topic.Relevance < 0 || topic.Relevance > 100 {
			return nil, fmt.Errorf("%w: topic relevance %d out of range 0-100", llm.ErrSchemaParse, topic.Relevance)
		}
		analysis.Topics = append(analysis.Topics, models.Topic{
			Name:      topic.Name,
			Relevance: topic.Relevance,
		})
	}

	sort.SliceStable(analysis.Areas, func(i, j int) bool {
		return analysis.Areas[i].Weight > analysis.Areas[j].Weight
	})
	sort.SliceStable(analysis.Topics, func(i, j int) bool {
		return analysis.Topics[i].Relevance > analysis.Topics[j].Relevance
	})

	return analysis, nil
}

// stripFences removes a surrounding markdown code fence if the model added
// one despite instructions.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func cacheKey(question, questionContext string) string {
	h := sha256.Sum256([]byte(question + "\x00" + questionContext))
	return "panel:analysis:" + hex.EncodeToString(h[:])
}
