// Package debate drives a deliberation session end to end: credit gating,
// question analysis, panel selection, the bounded round loop with consensus
// and quality checks, moderator interventions, and final synthesis. The
// caller always receives a structured DebateResult; failures are reported
// through its status, never as a panic or bare error.
package debate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/config"
	"dev.helix.panel/internal/consensus"
	"dev.helix.panel/internal/events"
	"dev.helix.panel/internal/experts"
	"dev.helix.panel/internal/llm"
	"dev.helix.panel/internal/metrics"
	"dev.helix.panel/internal/models"
	"dev.helix.panel/internal/moderator"
	"dev.helix.panel/internal/quality"
)

// Phase labels used in per-session cost accounting and metrics.
const (
	phaseAnalysis   = "analysis"
	phaseDebate     = "debate"
	phaseModeration = "moderation"
	phaseSynthesis  = "synthesis"
)

// QuestionAnalyzer classifies a question into the immutable QuestionAnalysis.
type QuestionAnalyzer interface {
	Analyze(ctx context.Context, question, questionContext string) (*models.QuestionAnalysis, error)
}

// CreditLedger is the billing gate. Deduct must be atomic: either the full
// amount comes off the balance or nothing does.
type CreditLedger interface {
	HasSufficientCredits(ctx context.Context, userID string, required int) (bool, error)
	Deduct(ctx context.Context, userID string, amount int, sessionID string) (int, error)
	Refund(ctx context.Context, userID string, amount int, sessionID, reason string) (int, error)
}

// Synthesizer produces the terminal executive summary.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, rounds []models.DebateRound, finalOptions []models.RankedOption) (*models.Synthesis, error)
}

// TranscriptStore persists session state and the append-only transcript.
// Persistence is best-effort: a write failure is logged, not fatal.
type TranscriptStore interface {
	CreateSession(ctx context.Context, sessionID, userID, question string) error
	UpdateState(ctx context.Context, sessionID string, state models.SessionState, pauseReason string, resumeRound int) error
	AppendMessage(ctx context.Context, msg models.DebateMessage) error
	SaveRound(ctx context.Context, sessionID string, round models.DebateRound) error
	SetExtraInput(ctx context.Context, sessionID, input string) error
}

// Deps bundles the collaborators a Runner drives. Store may be nil when no
// durable transcript is wanted; Bus and Metrics default when nil.
type Deps struct {
	Analyzer    QuestionAnalyzer
	Matcher     *experts.Matcher
	Ledger      CreditLedger
	Consensus   *consensus.Engine
	Quality     *quality.Monitor
	Moderator   *moderator.Moderator
	Synthesizer Synthesizer
	Generator   llm.TextGenerator
	Bus         *events.Bus
	Metrics     *metrics.Metrics
	Store       TranscriptStore
}

// Request describes one debate to run.
type Request struct {
	SessionID string // generated when empty
	UserID    string
	Question  string
	Context   string
	MaxRounds int // 0 falls back to the configured default
}

// Runner executes debate sessions. Independent sessions run concurrently;
// the credit ledger is the only shared mutable state between them.
type Runner struct {
	cfg   *config.Config
	deps  Deps
	retry llm.RetryConfig
	log   *logrus.Logger

	mu     sync.Mutex
	active map[string]*session
}

// NewRunner creates a runner over the given collaborators.
func NewRunner(cfg *config.Config, deps Deps, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.New()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Runner{
		cfg:  cfg,
		deps: deps,
		retry: llm.RetryConfig{
			MaxRetries:   cfg.LLM.MaxRetries,
			InitialDelay: cfg.LLM.InitialBackoff,
			MaxDelay:     cfg.LLM.MaxBackoff,
			Multiplier:   2.0,
		},
		log:    log,
		active: make(map[string]*session),
	}
}

// Bus exposes the event stream consumers subscribe to for live progress.
func (r *Runner) Bus() *events.Bus {
	return r.deps.Bus
}

// run carries the mutable state of one session through the pipeline.
type run struct {
	req       Request
	maxRounds int
	result    *models.DebateResult
	sess      *session
	panel     []models.ExpertMatch

	charged       bool
	analysisDone  bool
	synthesisDone bool
	roundsDone    int
	history       []float64
	tally         map[string]*models.PhaseCost
}

// consumed values the work actually performed, capped at the session cost.
// The refund on failure is the session cost minus this.
func (rn *run) consumed(c config.CreditConfig) int {
	total := rn.roundsDone * c.CostPerRound
	if rn.analysisDone {
		total += c.AnalysisCost
	}
	if rn.synthesisDone {
		total += c.SynthesisCost
	}
	if total > c.SessionCost {
		total = c.SessionCost
	}
	return total
}

func (rn *run) addCost(phase string, tokens int, costUSD float64) {
	pc, ok := rn.tally[phase]
	if !ok {
		pc = &models.PhaseCost{Phase: phase}
		rn.tally[phase] = pc
	}
	pc.TokensUsed += tokens
	pc.CostUSD += costUSD
}

// Run executes one debate to termination. It never returns an error: every
// outcome, including validation and generation failures, is reported through
// the result's status and error fields with the partial transcript preserved.
func (r *Runner) Run(ctx context.Context, req Request) *models.DebateResult {
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = r.cfg.Debate.MaxRounds
	}

	rn := &run{
		req:       req,
		maxRounds: maxRounds,
		sess:      newSession(req.SessionID),
		tally:     make(map[string]*models.PhaseCost),
		result: &models.DebateResult{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Question:  req.Question,
			StartedAt: time.Now(),
		},
	}

	r.register(rn.sess)
	defer r.unregister(rn.sess)

	if strings.TrimSpace(req.Question) == "" {
		return r.fail(ctx, rn, errors.New("question must not be empty"))
	}
	if req.UserID == "" {
		return r.fail(ctx, rn, errors.New("user id must not be empty"))
	}

	r.log.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"user_id":    req.UserID,
		"max_rounds": maxRounds,
	}).Info("Starting debate session")

	if r.deps.Store != nil {
		if err := r.deps.Store.CreateSession(ctx, req.SessionID, req.UserID, req.Question); err != nil {
			r.log.WithError(err).Warn("Failed to persist session record")
		}
	}

	// Advisory pre-flight; the atomic deduct below is the actual gate.
	cost := r.cfg.Credits.SessionCost
	ok, err := r.deps.Ledger.HasSufficientCredits(ctx, req.UserID, cost)
	if err != nil {
		return r.fail(ctx, rn, fmt.Errorf("credit pre-flight failed: %w", err))
	}
	if !ok {
		return r.fail(ctx, rn, fmt.Errorf("insufficient credits: session requires %d", cost))
	}

	balance, err := r.deps.Ledger.Deduct(ctx, req.UserID, cost, req.SessionID)
	if err != nil {
		return r.fail(ctx, rn, fmt.Errorf("credit deduction failed: %w", err))
	}
	rn.charged = true
	rn.result.CreditsCharged = cost
	r.publish(events.EventCreditsDeducted, rn, map[string]interface{}{
		"amount":  cost,
		"balance": balance,
	})

	analysis, err := r.deps.Analyzer.Analyze(ctx, req.Question, req.Context)
	if err != nil {
		return r.fail(ctx, rn, fmt.Errorf("question analysis failed: %w", err))
	}
	rn.analysisDone = true
	rn.result.Analysis = analysis
	rn.addCost(phaseAnalysis, analysis.TokensUsed, analysis.CostUSD)

	rn.panel = r.deps.Matcher.Match(analysis, experts.MatchOptions{
		MinExperts:          r.cfg.Experts.MinExperts,
		MaxExperts:          r.cfg.Experts.MaxExperts,
		MinScore:            r.cfg.Experts.MinScore,
		AlwaysIncludeCritic: r.cfg.Experts.AlwaysIncludeCritic,
	})
	if len(rn.panel) == 0 {
		return r.fail(ctx, rn, errors.New("expert matching produced an empty panel"))
	}
	for _, issue := range experts.ValidatePanel(rn.panel, r.cfg.Experts.QualityFloor) {
		r.log.WithField("session_id", req.SessionID).Warnf("Panel validation: %s", issue)
	}
	rn.result.Panel = rn.panel

	r.storeState(ctx, rn, models.StateRunning, "", 0)
	r.publish(events.EventDebateStarted, rn, map[string]interface{}{
		"question":      req.Question,
		"experts":       len(rn.panel),
		"max_rounds":    maxRounds,
		"decision_type": string(analysis.DecisionType),
	})
	r.deps.Metrics.SessionsStarted.WithLabelValues(string(analysis.DecisionType)).Inc()
	r.deps.Metrics.ActiveSessions.Inc()
	defer r.deps.Metrics.ActiveSessions.Dec()

	return r.runRounds(ctx, rn)
}

// runRounds executes the bounded round loop and the terminal synthesis.
func (r *Runner) runRounds(ctx context.Context, rn *run) *models.DebateResult {
	var (
		transcript       []models.DebateMessage
		pending          *models.ModeratorIntervention
		lastIntervention int
		finalCheck       *models.ConsensusResult
	)

	for round := 1; round <= rn.maxRounds; round++ {
		extra, err := r.waitIfSuspended(ctx, rn, round)
		if err != nil {
			return r.fail(ctx, rn, err)
		}

		dr := models.DebateRound{Number: round, StartedAt: time.Now()}
		position := 0

		for _, note := range extra {
			msg := r.moderatorMessage(rn, round, position,
				"Additional context provided while the debate was suspended: "+note)
			position++
			transcript = append(transcript, msg)
			dr.Messages = append(dr.Messages, msg)
			r.recordMessage(ctx, rn, msg)
		}
		if pending != nil && pending.TargetRound == round {
			msg := r.moderatorMessage(rn, round, position, pending.Message)
			position++
			transcript = append(transcript, msg)
			dr.Messages = append(dr.Messages, msg)
			dr.Intervention = pending
			pending = nil
			r.recordMessage(ctx, rn, msg)
		}

		r.publish(events.EventRoundStarted, rn, map[string]interface{}{"round": round})

		for _, match := range rn.panel {
			msg, err := r.invokeExpert(ctx, rn, match, transcript, round, position)
			if err != nil {
				// Preserve whatever the round produced before the failure.
				if len(dr.Messages) > 0 {
					dr.CompletedAt = time.Now()
					rn.result.Rounds = append(rn.result.Rounds, dr)
				}
				return r.fail(ctx, rn, err)
			}
			position++
			transcript = append(transcript, msg)
			dr.Messages = append(dr.Messages, msg)
			rn.addCost(phaseDebate, msg.TokensUsed, msg.CostUSD)
			r.recordMessage(ctx, rn, msg)
		}

		check := r.deps.Consensus.Check(transcript, round, r.cfg.Debate.MinRoundsConsensus, r.cfg.Debate.ConsensusThreshold)
		finalCheck = check
		dr.Consensus = check
		rn.history = append(rn.history, check.Score)
		r.publish(events.EventConsensusChecked, rn, map[string]interface{}{
			"round":           round,
			"score":           check.Score,
			"options":         len(check.Options),
			"should_continue": check.ShouldContinue,
		})

		dr.Quality = r.deps.Quality.Analyze(round, dr.Messages, rn.history)
		r.deps.Metrics.RoundsTotal.Inc()

		if check.ShouldContinue && round < rn.maxRounds &&
			r.deps.Moderator.ShouldIntervene(round, lastIntervention, dr.Quality) {
			intervention := r.deps.Moderator.Intervene(ctx, rn.req.Question, dr.Quality, dr.Messages, round+1)
			pending = intervention
			lastIntervention = round
			rn.addCost(phaseModeration, intervention.TokensUsed, intervention.CostUSD)
			r.deps.Metrics.Interventions.WithLabelValues(string(intervention.Type)).Inc()
			r.publish(events.EventIntervention, rn, map[string]interface{}{
				"type":         string(intervention.Type),
				"target_round": intervention.TargetRound,
			})
		}

		dr.CompletedAt = time.Now()
		rn.result.Rounds = append(rn.result.Rounds, dr)
		rn.roundsDone++
		if r.deps.Store != nil {
			if err := r.deps.Store.SaveRound(ctx, rn.req.SessionID, dr); err != nil {
				r.log.WithError(err).Warn("Failed to persist round")
			}
		}
		r.publish(events.EventRoundCompleted, rn, map[string]interface{}{
			"round": round,
			"score": check.Score,
		})

		if !check.ShouldContinue {
			r.storeState(ctx, rn, models.StateConsensusReached, "", 0)
			rn.result.Status = models.StatusCompleted
			break
		}
		if round == rn.maxRounds {
			r.storeState(ctx, rn, models.StateForceConcluded, "", 0)
			rn.result.Status = models.StatusForceConcluded
		}
	}

	if finalCheck != nil {
		rn.result.FinalOptions = finalCheck.Options
		rn.result.FinalConsensus = finalCheck.Score
	}

	synthesis, err := r.deps.Synthesizer.Synthesize(ctx, rn.req.Question, rn.result.Rounds, rn.result.FinalOptions)
	if err != nil {
		return r.fail(ctx, rn, fmt.Errorf("final synthesis failed: %w", err))
	}
	rn.synthesisDone = true
	rn.result.Synthesis = synthesis
	rn.addCost(phaseSynthesis, synthesis.TokensUsed, synthesis.CostUSD)

	r.storeState(ctx, rn, models.StateCompleted, "", 0)
	r.finalize(rn)
	r.publish(events.EventDebateCompleted, rn, map[string]interface{}{
		"status":    string(rn.result.Status),
		"rounds":    rn.roundsDone,
		"consensus": rn.result.FinalConsensus,
	})
	r.deps.Metrics.SessionsCompleted.WithLabelValues(string(rn.result.Status)).Inc()
	r.deps.Metrics.ConsensusScore.Observe(rn.result.FinalConsensus)
	r.deps.Metrics.SessionDuration.Observe(rn.result.Duration.Seconds())

	r.log.WithFields(logrus.Fields{
		"session_id": rn.req.SessionID,
		"status":     rn.result.Status,
		"rounds":     rn.roundsDone,
		"consensus":  rn.result.FinalConsensus,
	}).Info("Debate session finished")

	return rn.result
}

// invokeExpert blocks on one generation call with the per-call timeout.
func (r *Runner) invokeExpert(
	ctx context.Context,
	rn *run,
	match models.ExpertMatch,
	transcript []models.DebateMessage,
	round, position int,
) (models.DebateMessage, error) {
	model := match.Expert.Model
	if model == "" {
		model = r.cfg.LLM.DefaultModel
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Debate.CallTimeout)
	defer cancel()

	result, err := llm.GenerateWithRetry(callCtx, r.deps.Generator,
		r.expertPrompt(rn, match, transcript, round), llm.GenerationParams{
			Model:       model,
			Temperature: match.Expert.Temperature,
			MaxTokens:   r.cfg.Debate.MaxTokensPerMsg,
		}, r.retry)
	if err != nil {
		return models.DebateMessage{}, fmt.Errorf("expert %s failed in round %d: %w", match.Expert.ID, round, err)
	}

	return models.DebateMessage{
		ID:         uuid.New().String(),
		SessionID:  rn.req.SessionID,
		Round:      round,
		Position:   position,
		Author:     match.Expert.ID,
		AuthorName: match.Expert.Name,
		Role:       match.Role,
		Content:    strings.TrimSpace(result.Text),
		TokensUsed: result.TokensUsed,
		CostUSD:    result.CostUSD,
		Timestamp:  time.Now(),
	}, nil
}

func (r *Runner) expertPrompt(rn *run, match models.ExpertMatch, transcript []models.DebateMessage, round int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, %s.\n%s\n\n", match.Expert.Name, match.Expert.Title, match.Expert.Directive)
	fmt.Fprintf(&sb, "Question under debate: %s\n", rn.req.Question)
	if rn.req.Context != "" {
		fmt.Fprintf(&sb, "Background: %s\n", rn.req.Context)
	}
	fmt.Fprintf(&sb, "\nThis is round %d of at most %d.\n", round, rn.maxRounds)

	if len(transcript) > 0 {
		sb.WriteString("\nDebate so far:\n")
		for _, msg := range transcript {
			author := msg.Author
			if msg.AuthorName != "" {
				author = msg.AuthorName
			}
			fmt.Fprintf(&sb, "[Round %d] %s: %s\n", msg.Round, author, msg.Content)
		}
	}

	if match.Role == models.RoleCritic {
		sb.WriteString("\nAs the panel's critic, challenge the strongest assumption the other experts share before stating your own position.\n")
	} else {
		sb.WriteString("\nEngage the strongest prior arguments directly, then state your own position.\n")
	}
	sb.WriteString(`
End your response with exactly these lines:
RECOMMENDATION: <your recommended course of action in one sentence>
CONFIDENCE: <0-100>%
PRO: <strongest argument for your recommendation>
CON: <strongest risk or drawback of it>
`)
	return sb.String()
}

func (r *Runner) moderatorMessage(rn *run, round, position int, content string) models.DebateMessage {
	return models.DebateMessage{
		ID:        uuid.New().String(),
		SessionID: rn.req.SessionID,
		Round:     round,
		Position:  position,
		Author:    models.ModeratorAuthor,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// waitIfSuspended blocks at a round boundary while the session is paused or
// waiting for input, and drains any extra context queued by the resume.
func (r *Runner) waitIfSuspended(ctx context.Context, rn *run, round int) ([]string, error) {
	for {
		state, reason, resume := rn.sess.suspension()
		if state == "" {
			return rn.sess.takeExtra(), nil
		}

		r.storeState(ctx, rn, state, reason, round)
		r.publish(events.EventDebatePaused, rn, map[string]interface{}{
			"state":  string(state),
			"reason": reason,
			"round":  round,
		})
		r.log.WithFields(logrus.Fields{
			"session_id": rn.req.SessionID,
			"state":      state,
			"round":      round,
		}).Info("Debate suspended at round boundary")

		select {
		case <-resume:
			r.storeState(ctx, rn, models.StateRunning, "", round)
			r.publish(events.EventDebateResumed, rn, map[string]interface{}{"round": round})
		case <-ctx.Done():
			return nil, fmt.Errorf("session cancelled while %s: %w", state, ctx.Err())
		}
	}
}

// Pause suspends the session at the next round boundary.
func (r *Runner) Pause(sessionID, reason string) error {
	sess, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.suspend(models.StatePaused, reason)
}

// RequestInput suspends the session pending additional user context.
func (r *Runner) RequestInput(sessionID, prompt string) error {
	sess, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.suspend(models.StateWaitingInput, prompt)
}

// Resume lifts a suspension. Non-empty extraContext is injected into the
// transcript at the start of the resumed round.
func (r *Runner) Resume(sessionID, extraContext string) error {
	sess, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := sess.resumeWith(extraContext); err != nil {
		return err
	}
	if r.deps.Store != nil && extraContext != "" {
		if err := r.deps.Store.SetExtraInput(context.Background(), sessionID, extraContext); err != nil {
			r.log.WithError(err).Warn("Failed to persist extra input")
		}
	}
	return nil
}

// fail terminates the session with status failed, refunds the unconsumed
// budget, and preserves every round completed so far.
func (r *Runner) fail(ctx context.Context, rn *run, cause error) *models.DebateResult {
	rn.result.Status = models.StatusFailed
	rn.result.Error = cause.Error()
	r.log.WithError(cause).WithField("session_id", rn.req.SessionID).Error("Debate session failed")

	// Refund and state writes must survive the triggering cancellation.
	bg := context.WithoutCancel(ctx)
	if rn.charged {
		refund := r.cfg.Credits.SessionCost - rn.consumed(r.cfg.Credits)
		if refund > 0 {
			balance, err := r.deps.Ledger.Refund(bg, rn.req.UserID, refund, rn.req.SessionID, "debate failure: unconsumed budget")
			if err != nil {
				// Money safety trumps status optimism: the session still
				// reports failed, but this anomaly needs an operator.
				r.log.WithError(err).WithFields(logrus.Fields{
					"session_id": rn.req.SessionID,
					"user_id":    rn.req.UserID,
					"amount":     refund,
				}).Error("CRITICAL: refund failed after session failure")
			} else {
				rn.result.CreditsRefunded = refund
				r.publish(events.EventCreditsRefunded, rn, map[string]interface{}{
					"amount":  refund,
					"balance": balance,
				})
			}
		}
	}

	r.storeState(bg, rn, models.StateFailed, rn.result.Error, 0)
	r.finalize(rn)
	r.publish(events.EventDebateFailed, rn, map[string]interface{}{"error": rn.result.Error})
	r.deps.Metrics.SessionsCompleted.WithLabelValues(string(models.StatusFailed)).Inc()
	return rn.result
}

// finalize stamps totals, duration, and the per-phase cost breakdown.
func (r *Runner) finalize(rn *run) {
	for _, phase := range []string{phaseAnalysis, phaseDebate, phaseModeration, phaseSynthesis} {
		pc, ok := rn.tally[phase]
		if !ok {
			continue
		}
		rn.result.PhaseCosts = append(rn.result.PhaseCosts, *pc)
		rn.result.TotalTokens += pc.TokensUsed
		rn.result.TotalCostUSD += pc.CostUSD
		r.deps.Metrics.TokensTotal.WithLabelValues(phase).Add(float64(pc.TokensUsed))
		r.deps.Metrics.CostUSDTotal.WithLabelValues(phase).Add(pc.CostUSD)
	}
	rn.result.CompletedAt = time.Now()
	rn.result.Duration = rn.result.CompletedAt.Sub(rn.result.StartedAt)
}

func (r *Runner) recordMessage(ctx context.Context, rn *run, msg models.DebateMessage) {
	r.publish(events.EventMessageGenerated, rn, msg)
	if r.deps.Store != nil {
		if err := r.deps.Store.AppendMessage(ctx, msg); err != nil {
			r.log.WithError(err).Warn("Failed to persist message")
		}
	}
}

func (r *Runner) storeState(ctx context.Context, rn *run, state models.SessionState, reason string, round int) {
	if r.deps.Store == nil {
		return
	}
	if err := r.deps.Store.UpdateState(ctx, rn.req.SessionID, state, reason, round); err != nil {
		r.log.WithError(err).WithField("state", state).Warn("Failed to persist session state")
	}
}

func (r *Runner) publish(eventType events.EventType, rn *run, payload interface{}) {
	r.deps.Bus.Publish(events.NewEvent(eventType, rn.req.SessionID, payload))
}

func (r *Runner) register(sess *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[sess.id] = sess
}

func (r *Runner) unregister(sess *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sess.id)
}

func (r *Runner) lookup(sessionID string) (*session, error) {
	r.mu.Lock()
	sess, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active session %s", sessionID)
	}
	return sess, nil
}
