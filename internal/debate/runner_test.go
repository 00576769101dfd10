package debate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dev.helix.panel/internal/config"
	"dev.helix.panel/internal/consensus"
	"dev.helix.panel/internal/events"
	"dev.helix.panel/internal/experts"
	"dev.helix.panel/internal/llm"
	"dev.helix.panel/internal/models"
	"dev.helix.panel/internal/moderator"
	"dev.helix.panel/internal/quality"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	return &config.Config{
		Debate: config.DebateConfig{
			MaxRounds:          5,
			MinRoundsConsensus: 2,
			ConsensusThreshold: 0.75,
			MaxTokensPerMsg:    512,
			CallTimeout:        5 * time.Second,
		},
		Experts: config.ExpertConfig{
			MinExperts:          3,
			MaxExperts:          6,
			MinScore:            20,
			AlwaysIncludeCritic: true,
			QualityFloor:        25,
		},
		Quality: config.QualityConfig{
			LowThreshold:    0.4,
			HighThreshold:   0.7,
			CadenceLow:      2,
			CadenceMedium:   3,
			CadenceHigh:     5,
			DepthFloor:      0.35,
			DiversityFloor:  0.3,
			PrematureRounds: 2,
		},
		Credits: config.CreditConfig{
			SessionCost:   50,
			CostPerRound:  8,
			AnalysisCost:  5,
			SynthesisCost: 5,
		},
		LLM: config.LLMConfig{
			MaxRetries:     0,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			DefaultModel:   "test-model",
			ModeratorModel: "moderator-model",
		},
	}
}

func pricingAnalysis() *models.QuestionAnalysis {
	return &models.QuestionAnalysis{
		Question: "Should we raise the price from 29 to 49?",
		Areas: []models.KnowledgeArea{
			{Name: "finance", Weight: 80},
			{Name: "marketing", Weight: 60},
		},
		Topics:       []models.Topic{{Name: "pricing", Relevance: 90}},
		Complexity:   6,
		DecisionType: models.DecisionStrategic,
		TokensUsed:   120,
		CostUSD:      0.002,
	}
}

type stubAnalyzer struct {
	analysis *models.QuestionAnalysis
	err      error
}

func (s *stubAnalyzer) Analyze(ctx context.Context, question, questionContext string) (*models.QuestionAnalysis, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.analysis, nil
}

type stubSynthesizer struct {
	err error
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, question string, rounds []models.DebateRound, options []models.RankedOption) (*models.Synthesis, error) {
	if s.err != nil {
		return nil, s.err
	}
	synthesis := &models.Synthesis{
		Summary:    "The panel leans toward a staged price increase.",
		TokensUsed: 300,
		CostUSD:    0.006,
	}
	if len(options) > 0 {
		synthesis.Recommendation = options[0].Option
	}
	return synthesis, nil
}

type refundCall struct {
	amount int
	reason string
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int
	refunds  []refundCall
}

func newFakeLedger(userID string, balance int) *fakeLedger {
	return &fakeLedger{balances: map[string]int{userID: balance}}
}

func (f *fakeLedger) HasSufficientCredits(ctx context.Context, userID string, required int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID] >= required, nil
}

func (f *fakeLedger) Deduct(ctx context.Context, userID string, amount int, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[userID] < amount {
		return 0, errors.New("insufficient credits")
	}
	f.balances[userID] -= amount
	return f.balances[userID], nil
}

func (f *fakeLedger) Refund(ctx context.Context, userID string, amount int, sessionID, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] += amount
	f.refunds = append(f.refunds, refundCall{amount: amount, reason: reason})
	return f.balances[userID], nil
}

func (f *fakeLedger) balance(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

// fakeGen scripts generation responses. Expert calls are recognized by the
// configured per-message token cap; everything else is a moderator call.
type fakeGen struct {
	mu           sync.Mutex
	expertTokens int
	expertCalls  int
	onExpertCall func(expertCall int)
	respond      func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error)
}

func (g *fakeGen) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (*llm.GenerationResult, error) {
	g.mu.Lock()
	expertCall := 0
	if params.MaxTokens == g.expertTokens {
		g.expertCalls++
		expertCall = g.expertCalls
	}
	hook := g.onExpertCall
	g.mu.Unlock()

	if expertCall > 0 && hook != nil {
		hook(expertCall)
	}
	return g.respond(expertCall, params)
}

func agreeText() string {
	return "The revenue upside is clear and the rollout can absorb the churn.\n" +
		"RECOMMENDATION: Raise the price to 49 with a staged rollout.\n" +
		"CONFIDENCE: 90%\n" +
		"PRO: Revenue uplift outweighs the churn risk.\n" +
		"CON: Some churn among price-sensitive users."
}

func disagreeText(n int) string {
	variants := []struct {
		rec  string
		conf int
	}{
		{"Raise the price to 49 immediately.", 60},
		{"Keep the price at 29 for another year.", 55},
		{"Introduce a mid tier at 39 first.", 50},
	}
	v := variants[n%len(variants)]
	return fmt.Sprintf("Position %d.\nRECOMMENDATION: %s\nCONFIDENCE: %d%%\nPRO: It fits the growth plan.\nCON: It carries execution risk.", n, v.rec, v.conf)
}

func textResult(text string) *llm.GenerationResult {
	return &llm.GenerationResult{Text: text, TokensUsed: 100, CostUSD: 0.001}
}

type fakeStore struct {
	mu         sync.Mutex
	created    int
	states     []models.SessionState
	messages   []models.DebateMessage
	rounds     []models.DebateRound
	extraInput []string
}

func (f *fakeStore) CreateSession(ctx context.Context, sessionID, userID, question string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return nil
}

func (f *fakeStore) UpdateState(ctx context.Context, sessionID string, state models.SessionState, pauseReason string, resumeRound int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, msg models.DebateMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) SaveRound(ctx context.Context, sessionID string, round models.DebateRound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds = append(f.rounds, round)
	return nil
}

func (f *fakeStore) SetExtraInput(ctx context.Context, sessionID, input string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extraInput = append(f.extraInput, input)
	return nil
}

func (f *fakeStore) recordedStates() []models.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SessionState(nil), f.states...)
}

// buildRunner wires a runner over the built-in expert catalog with stubbed
// analysis and synthesis. It returns the panel size the matcher will select
// so tests can reason about generation call counts.
func buildRunner(t *testing.T, cfg *config.Config, gen *fakeGen, ledger *fakeLedger, synth Synthesizer, store TranscriptStore, bus *events.Bus) (*Runner, int) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	registry, err := experts.NewBuilder("", log).WithEnv(func(string) string { return "" }).Build()
	require.NoError(t, err)
	matcher := experts.NewMatcher(registry, log)

	if synth == nil {
		synth = &stubSynthesizer{}
	}
	gen.expertTokens = cfg.Debate.MaxTokensPerMsg

	retry := llm.RetryConfig{
		MaxRetries:   cfg.LLM.MaxRetries,
		InitialDelay: cfg.LLM.InitialBackoff,
		MaxDelay:     cfg.LLM.MaxBackoff,
		Multiplier:   2.0,
	}

	runner := NewRunner(cfg, Deps{
		Analyzer:    &stubAnalyzer{analysis: pricingAnalysis()},
		Matcher:     matcher,
		Ledger:      ledger,
		Consensus:   consensus.NewEngine(log),
		Quality:     quality.NewMonitor(cfg.Quality, log),
		Moderator:   moderator.New(cfg.Quality, cfg.LLM, gen, retry, log),
		Synthesizer: synth,
		Generator:   gen,
		Bus:         bus,
		Store:       store,
	}, log)

	panel := matcher.Match(pricingAnalysis(), experts.MatchOptions{
		MinExperts:          cfg.Experts.MinExperts,
		MaxExperts:          cfg.Experts.MaxExperts,
		MinScore:            cfg.Experts.MinScore,
		AlwaysIncludeCritic: cfg.Experts.AlwaysIncludeCritic,
	})
	require.NotEmpty(t, panel)
	return runner, len(panel)
}

func TestRun_ConsensusPath(t *testing.T) {
	cfg := testConfig()
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		return textResult(agreeText()), nil
	}}
	ledger := newFakeLedger("user-1", 100)
	runner, _ := buildRunner(t, cfg, gen, ledger, nil, nil, nil)

	result := runner.Run(context.Background(), Request{
		UserID:   "user-1",
		Question: "Should we raise the price from 29 to 49?",
	})

	require.Equal(t, models.StatusCompleted, result.Status)
	assert.Empty(t, result.Error)

	// Unanimous agreement is accepted only once the minimum round count
	// has elapsed, never after a single exchange.
	require.Len(t, result.Rounds, cfg.Debate.MinRoundsConsensus)
	assert.True(t, result.Rounds[0].Consensus.ShouldContinue)
	assert.False(t, result.Rounds[1].Consensus.ShouldContinue)
	assert.InDelta(t, 0.9, result.FinalConsensus, 1e-9)

	require.NotNil(t, result.Synthesis)
	assert.NotEmpty(t, result.Synthesis.Recommendation)

	assert.Equal(t, cfg.Credits.SessionCost, result.CreditsCharged)
	assert.Zero(t, result.CreditsRefunded)
	assert.Equal(t, 50, 100-ledger.balance("user-1"))

	phases := make(map[string]bool)
	for _, pc := range result.PhaseCosts {
		phases[pc.Phase] = true
	}
	assert.True(t, phases[phaseAnalysis])
	assert.True(t, phases[phaseDebate])
	assert.True(t, phases[phaseSynthesis])
	assert.Greater(t, result.TotalTokens, 0)
}

func TestRun_TranscriptOrdering(t *testing.T) {
	cfg := testConfig()
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		return textResult(agreeText()), nil
	}}
	runner, panelSize := buildRunner(t, cfg, gen, newFakeLedger("user-1", 100), nil, nil, nil)

	result := runner.Run(context.Background(), Request{UserID: "user-1", Question: "Should we raise the price?"})

	require.Equal(t, models.StatusCompleted, result.Status)
	for i, round := range result.Rounds {
		assert.Equal(t, i+1, round.Number)
		require.Len(t, round.Messages, panelSize)
		for pos, msg := range round.Messages {
			assert.Equal(t, round.Number, msg.Round)
			assert.Equal(t, pos, msg.Position)
			assert.NotEqual(t, models.ModeratorAuthor, msg.Author)
		}
	}
}

func TestRun_ForceConcludedAtMaxRounds(t *testing.T) {
	cfg := testConfig()
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		if expertCall == 0 {
			return textResult("Consider the unaddressed pricing risk."), nil
		}
		return textResult(disagreeText(expertCall)), nil
	}}
	runner, _ := buildRunner(t, cfg, gen, newFakeLedger("user-1", 100), nil, nil, nil)

	result := runner.Run(context.Background(), Request{
		UserID:    "user-1",
		Question:  "Should we raise the price from 29 to 49?",
		MaxRounds: 3,
	})

	require.Equal(t, models.StatusForceConcluded, result.Status)
	require.Len(t, result.Rounds, 3)
	assert.GreaterOrEqual(t, len(result.FinalOptions), 2)
	assert.Less(t, result.FinalConsensus, cfg.Debate.ConsensusThreshold)
	require.NotNil(t, result.Synthesis)
	assert.Zero(t, result.CreditsRefunded)
}

func TestRun_InsufficientCredits(t *testing.T) {
	cfg := testConfig()
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		t.Error("no generation should happen without credits")
		return nil, errors.New("unexpected call")
	}}
	ledger := newFakeLedger("user-1", 20)
	runner, _ := buildRunner(t, cfg, gen, ledger, nil, nil, nil)

	result := runner.Run(context.Background(), Request{UserID: "user-1", Question: "Should we raise the price?"})

	require.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "insufficient credits")
	assert.Empty(t, result.Rounds)
	assert.Zero(t, result.CreditsCharged)
	assert.Equal(t, 20, ledger.balance("user-1"))
	assert.Empty(t, ledger.refunds)
}

func TestRun_MidDebateFailureRefundsUnconsumedBudget(t *testing.T) {
	cfg := testConfig()
	ledger := newFakeLedger("user-1", 100)

	var panelSize int
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		// First expert of round 2 hits a permanent provider failure.
		if expertCall == panelSize+1 {
			return nil, errors.New("provider rejected the request")
		}
		return textResult(agreeText()), nil
	}}
	runner, n := buildRunner(t, cfg, gen, ledger, nil, nil, nil)
	panelSize = n

	result := runner.Run(context.Background(), Request{UserID: "user-1", Question: "Should we raise the price?"})

	require.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "round 2")

	// Round 1 survives the failure intact.
	require.Len(t, result.Rounds, 1)
	assert.Len(t, result.Rounds[0].Messages, panelSize)

	consumed := cfg.Credits.AnalysisCost + 1*cfg.Credits.CostPerRound
	wantRefund := cfg.Credits.SessionCost - consumed
	assert.Equal(t, wantRefund, result.CreditsRefunded)
	assert.Equal(t, 100-consumed, ledger.balance("user-1"))

	require.Len(t, ledger.refunds, 1)
	assert.Equal(t, wantRefund, ledger.refunds[0].amount)
	assert.Contains(t, ledger.refunds[0].reason, "unconsumed budget")
}

func TestRun_SynthesisFailureRefundsSynthesisShare(t *testing.T) {
	cfg := testConfig()
	ledger := newFakeLedger("user-1", 100)
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		return textResult(agreeText()), nil
	}}
	synth := &stubSynthesizer{err: errors.New("model unavailable")}
	runner, _ := buildRunner(t, cfg, gen, ledger, synth, nil, nil)

	result := runner.Run(context.Background(), Request{UserID: "user-1", Question: "Should we raise the price?"})

	require.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "synthesis")
	require.Len(t, result.Rounds, cfg.Debate.MinRoundsConsensus)

	consumed := cfg.Credits.AnalysisCost + cfg.Debate.MinRoundsConsensus*cfg.Credits.CostPerRound
	assert.Equal(t, cfg.Credits.SessionCost-consumed, result.CreditsRefunded)
}

func TestRun_EmptyQuestionFailsStructurally(t *testing.T) {
	cfg := testConfig()
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		return textResult(agreeText()), nil
	}}
	runner, _ := buildRunner(t, cfg, gen, newFakeLedger("user-1", 100), nil, nil, nil)

	result := runner.Run(context.Background(), Request{UserID: "user-1", Question: "   "})

	require.NotNil(t, result)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "question")
	assert.Zero(t, result.CreditsCharged)
}

func TestRun_PersistsStateTransitions(t *testing.T) {
	cfg := testConfig()
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		return textResult(agreeText()), nil
	}}
	store := &fakeStore{}
	runner, panelSize := buildRunner(t, cfg, gen, newFakeLedger("user-1", 100), nil, store, nil)

	result := runner.Run(context.Background(), Request{UserID: "user-1", Question: "Should we raise the price?"})

	require.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 1, store.created)
	assert.Equal(t, []models.SessionState{
		models.StateRunning,
		models.StateConsensusReached,
		models.StateCompleted,
	}, store.recordedStates())
	assert.Len(t, store.rounds, cfg.Debate.MinRoundsConsensus)
	assert.Len(t, store.messages, cfg.Debate.MinRoundsConsensus*panelSize)
}

func TestRun_PauseAndResumeWithExtraContext(t *testing.T) {
	cfg := testConfig()
	bus := events.NewBus(nil)
	store := &fakeStore{}
	ledger := newFakeLedger("user-1", 100)

	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		return textResult(agreeText()), nil
	}}
	runner, panelSize := buildRunner(t, cfg, gen, ledger, nil, store, bus)

	const sessionID = "session-pause"
	gen.onExpertCall = func(expertCall int) {
		// Request the pause mid round 1; it must take effect only at the
		// round boundary.
		if expertCall == panelSize {
			assert.NoError(t, runner.Pause(sessionID, "operator pause"))
		}
	}

	paused := bus.Subscribe(events.EventDebatePaused)
	defer bus.Unsubscribe(paused)

	results := make(chan *models.DebateResult, 1)
	go func() {
		results <- runner.Run(context.Background(), Request{
			SessionID: sessionID,
			UserID:    "user-1",
			Question:  "Should we raise the price?",
		})
	}()

	select {
	case ev := <-paused.Channel:
		assert.Equal(t, sessionID, ev.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the pause event")
	}

	require.NoError(t, runner.Resume(sessionID, "Finance sign-off arrives next quarter."))

	var result *models.DebateResult
	select {
	case result = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the debate result")
	}

	require.Equal(t, models.StatusCompleted, result.Status)
	require.Len(t, result.Rounds, 2)

	// Round 1 completed before the suspension took effect.
	assert.Len(t, result.Rounds[0].Messages, panelSize)

	// The resumed round opens with the injected context.
	first := result.Rounds[1].Messages[0]
	assert.Equal(t, models.ModeratorAuthor, first.Author)
	assert.True(t, strings.Contains(first.Content, "Finance sign-off arrives next quarter."))

	states := store.recordedStates()
	assert.Contains(t, states, models.StatePaused)
	assert.Equal(t, models.StateCompleted, states[len(states)-1])

	// Resume context is also written through to the store.
	store.mu.Lock()
	extras := append([]string(nil), store.extraInput...)
	store.mu.Unlock()
	assert.Equal(t, []string{"Finance sign-off arrives next quarter."}, extras)
}

func TestRun_CancellationWhileSuspendedFailsAndRefunds(t *testing.T) {
	cfg := testConfig()
	bus := events.NewBus(nil)
	store := &fakeStore{}
	ledger := newFakeLedger("user-1", 100)

	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		return textResult(agreeText()), nil
	}}
	runner, panelSize := buildRunner(t, cfg, gen, ledger, nil, store, bus)

	const sessionID = "session-shutdown"
	gen.onExpertCall = func(expertCall int) {
		if expertCall == panelSize {
			assert.NoError(t, runner.Pause(sessionID, "operator pause"))
		}
	}

	paused := bus.Subscribe(events.EventDebatePaused)
	defer bus.Unsubscribe(paused)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan *models.DebateResult, 1)
	go func() {
		results <- runner.Run(ctx, Request{
			SessionID: sessionID,
			UserID:    "user-1",
			Question:  "Should we raise the price?",
		})
	}()

	select {
	case <-paused.Channel:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the pause event")
	}

	// A shutdown cancels the run context instead of resuming the session.
	cancel()

	var result *models.DebateResult
	select {
	case result = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the debate result")
	}

	require.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "cancelled while paused")

	// Round 1 completed before the suspension; nothing else ran.
	require.Len(t, result.Rounds, 1)
	assert.Len(t, result.Rounds[0].Messages, panelSize)

	consumed := cfg.Credits.AnalysisCost + 1*cfg.Credits.CostPerRound
	wantRefund := cfg.Credits.SessionCost - consumed
	assert.Equal(t, wantRefund, result.CreditsRefunded)
	assert.Equal(t, 100-consumed, ledger.balance("user-1"))

	states := store.recordedStates()
	assert.Contains(t, states, models.StatePaused)
	assert.Equal(t, models.StateFailed, states[len(states)-1])
}

func TestRun_InterventionInjectedNextRound(t *testing.T) {
	cfg := testConfig()
	// An aggressive cadence forces moderation after every eligible round.
	cfg.Quality.CadenceLow = 1
	cfg.Quality.CadenceMedium = 1
	cfg.Quality.CadenceHigh = 1

	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		if expertCall == 0 {
			return textResult("Address the churn scenario nobody has quantified."), nil
		}
		return textResult(disagreeText(expertCall)), nil
	}}
	runner, _ := buildRunner(t, cfg, gen, newFakeLedger("user-1", 100), nil, nil, nil)

	result := runner.Run(context.Background(), Request{
		UserID:    "user-1",
		Question:  "Should we raise the price?",
		MaxRounds: 2,
	})

	require.Equal(t, models.StatusForceConcluded, result.Status)
	require.Len(t, result.Rounds, 2)

	intervention := result.Rounds[1].Intervention
	require.NotNil(t, intervention)
	assert.Equal(t, 2, intervention.TargetRound)

	first := result.Rounds[1].Messages[0]
	assert.Equal(t, models.ModeratorAuthor, first.Author)
	assert.Equal(t, intervention.Message, first.Content)
}

func TestPauseUnknownSession(t *testing.T) {
	cfg := testConfig()
	gen := &fakeGen{respond: func(expertCall int, params llm.GenerationParams) (*llm.GenerationResult, error) {
		return textResult(agreeText()), nil
	}}
	runner, _ := buildRunner(t, cfg, gen, newFakeLedger("user-1", 100), nil, nil, nil)

	err := runner.Pause("ghost", "reason")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active session")
}

func TestSessionSuspendResume(t *testing.T) {
	sess := newSession("s-1")

	require.NoError(t, sess.suspend(models.StatePaused, "operator"))
	require.Error(t, sess.suspend(models.StateWaitingInput, "again"))

	state, reason, resume := sess.suspension()
	assert.Equal(t, models.StatePaused, state)
	assert.Equal(t, "operator", reason)
	require.NotNil(t, resume)

	require.NoError(t, sess.resumeWith("extra"))
	require.Error(t, sess.resumeWith("twice"))

	state, _, _ = sess.suspension()
	assert.Empty(t, state)
	assert.Equal(t, []string{"extra"}, sess.takeExtra())
	assert.Empty(t, sess.takeExtra())
}
