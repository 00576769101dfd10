package models

import (
	"time"
)

// DecisionType classifies the kind of decision a question asks for.
type DecisionType string

const (
	DecisionStrategic   DecisionType = "strategic"
	DecisionTactical    DecisionType = "tactical"
	DecisionOperational DecisionType = "operational"
)

// KnowledgeArea is a weighted domain of knowledge detected in a question.
type KnowledgeArea struct {
	Name      string `json:"name"`
	Weight    int    `json:"weight"` // 0-100
	Rationale string `json:"rationale,omitempty"`
}

// Topic is a concrete subject detected in a question.
type Topic struct {
	Name      string `json:"name"`
	Relevance int    `json:"relevance"` // 0-100
}

// QuestionAnalysis is the immutable classification of a question, produced
// once per session by the analyzer. Areas are ordered by weight and topics
// by relevance, both descending.
type QuestionAnalysis struct {
	Question     string          `json:"question"`
	Context      string          `json:"context,omitempty"`
	Areas        []KnowledgeArea `json:"areas"`
	Topics       []Topic         `json:"topics"`
	Complexity   int             `json:"complexity"` // 1-10
	DecisionType DecisionType    `json:"decision_type"`
	TokensUsed   int             `json:"tokens_used"`
	CostUSD      float64         `json:"cost_usd"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ExpertRole is the role an expert plays on a panel.
type ExpertRole string

const (
	RolePrimary   ExpertRole = "primary"
	RoleSecondary ExpertRole = "secondary"
	RoleCritic    ExpertRole = "critic"
)

// ExpertProfile is a fixed behavioral persona. Profiles are loaded into an
// immutable registry snapshot at startup and are read-only at runtime.
type ExpertProfile struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Title       string   `json:"title" yaml:"title"`
	Expertise   []string `json:"expertise" yaml:"expertise"`
	Topics      []string `json:"topics" yaml:"topics"`
	Directive   string   `json:"directive" yaml:"directive"`
	Provider    string   `json:"provider" yaml:"provider"`
	Model       string   `json:"model" yaml:"model"`
	Temperature float64  `json:"temperature" yaml:"temperature"`
	IsCritic    bool     `json:"is_critic" yaml:"is_critic"`
}

// ExpertMatch pairs an expert with its panel score and assigned role.
// Computed once per session and never mutated after selection.
type ExpertMatch struct {
	Expert    *ExpertProfile `json:"expert"`
	Score     float64        `json:"score"`
	Role      ExpertRole     `json:"role"`
	Rationale string         `json:"rationale,omitempty"`
}

// ModeratorAuthor is the author recorded on injected moderator messages.
const ModeratorAuthor = "moderator"

// DebateMessage is one utterance in the transcript. Messages are append-only
// and totally ordered by (Round, Position).
type DebateMessage struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Round      int        `json:"round"`
	Position   int        `json:"position"`
	Author     string     `json:"author"` // expert id or "moderator"
	AuthorName string     `json:"author_name,omitempty"`
	Role       ExpertRole `json:"role,omitempty"`
	Content    string     `json:"content"`
	TokensUsed int        `json:"tokens_used"`
	CostUSD    float64    `json:"cost_usd"`
	Timestamp  time.Time  `json:"timestamp"`
}

// RankedOption is one candidate answer extracted from the transcript.
// Options are recomputed fresh at every consensus check, never accumulated.
type RankedOption struct {
	Option      string   `json:"option"`
	SuccessRate float64  `json:"success_rate"` // 0-100
	Supporters  []string `json:"supporters"`
	Pros        []string `json:"pros,omitempty"`
	Cons        []string `json:"cons,omitempty"`
	Confidence  float64  `json:"confidence"` // 0-1
}

// ConsensusResult is the outcome of one consensus check. Score is derived
// from Options and has no meaning apart from them.
type ConsensusResult struct {
	Score          float64        `json:"score"` // 0-1
	Options        []RankedOption `json:"options"`
	ShouldContinue bool           `json:"should_continue"`
}

// QualityIssue names a detected debate degradation pattern.
type QualityIssue string

const (
	IssuePrematureConsensus QualityIssue = "premature_consensus"
	IssueLowDiversity       QualityIssue = "low_diversity"
	IssueShallowArguments   QualityIssue = "shallow_arguments"
	IssueStalledConvergence QualityIssue = "stalled_convergence"
)

// QualityAnalysis holds the per-round quality scores and detected issues.
type QualityAnalysis struct {
	Round       int            `json:"round"`
	Depth       float64        `json:"depth"`       // 0-1
	Diversity   float64        `json:"diversity"`   // 0-1
	Convergence float64        `json:"convergence"` // 0-1
	Overall     float64        `json:"overall"`     // 0-1
	Issues      []QualityIssue `json:"issues,omitempty"`
}

// InterventionType classifies a moderator intervention.
type InterventionType string

const (
	InterventionSteering       InterventionType = "steering"
	InterventionDevilsAdvocate InterventionType = "devils_advocate"
	InterventionRefocus        InterventionType = "refocus"
)

// ModeratorIntervention is a corrective message injected at the start of a
// round. At most one intervention targets any given round.
type ModeratorIntervention struct {
	Type        InterventionType `json:"type"`
	Message     string           `json:"message"`
	TargetRound int              `json:"target_round"`
	TokensUsed  int              `json:"tokens_used"`
	CostUSD     float64          `json:"cost_usd"`
}

// DebateRound groups the messages of one round with that round's consensus
// check and any quality analysis or intervention attached to it.
type DebateRound struct {
	Number       int                    `json:"number"`
	Messages     []DebateMessage        `json:"messages"`
	Consensus    *ConsensusResult       `json:"consensus,omitempty"`
	Quality      *QualityAnalysis       `json:"quality,omitempty"`
	Intervention *ModeratorIntervention `json:"intervention,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at"`
}

// SessionState is the debate runner's lifecycle state.
type SessionState string

const (
	StateInitializing     SessionState = "initializing"
	StateRunning          SessionState = "running"
	StatePaused           SessionState = "paused"
	StateWaitingInput     SessionState = "waiting_input"
	StateConsensusReached SessionState = "consensus_reached"
	StateForceConcluded   SessionState = "force_concluded"
	StateFailed           SessionState = "failed"
	StateCompleted        SessionState = "completed"
)

// DebateStatus is the terminal status reported on a DebateResult.
type DebateStatus string

const (
	StatusCompleted      DebateStatus = "completed"
	StatusForceConcluded DebateStatus = "force_concluded"
	StatusFailed         DebateStatus = "failed"
)

// PhaseCost is the cost incurred by one phase of a session.
type PhaseCost struct {
	Phase      string  `json:"phase"` // analysis, debate, moderation, synthesis
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// Synthesis is the executive summary produced after termination.
type Synthesis struct {
	Summary        string  `json:"summary"`
	Recommendation string  `json:"recommendation"`
	TokensUsed     int     `json:"tokens_used"`
	CostUSD        float64 `json:"cost_usd"`
}

// DebateResult is the terminal aggregate of a session. It is created once,
// at termination, and is immutable afterwards.
type DebateResult struct {
	SessionID       string            `json:"session_id"`
	UserID          string            `json:"user_id"`
	Question        string            `json:"question"`
	Status          DebateStatus      `json:"status"`
	Error           string            `json:"error,omitempty"`
	Analysis        *QuestionAnalysis `json:"analysis,omitempty"`
	Panel           []ExpertMatch     `json:"panel,omitempty"`
	Rounds          []DebateRound     `json:"rounds"`
	FinalOptions    []RankedOption    `json:"final_options,omitempty"`
	FinalConsensus  float64           `json:"final_consensus"`
	Synthesis       *Synthesis        `json:"synthesis,omitempty"`
	TotalTokens     int               `json:"total_tokens"`
	TotalCostUSD    float64           `json:"total_cost_usd"`
	CreditsCharged  int               `json:"credits_charged"`
	CreditsRefunded int               `json:"credits_refunded"`
	PhaseCosts      []PhaseCost       `json:"phase_costs"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at"`
	Duration        time.Duration     `json:"duration"`
}

// CreditLedgerEntry records one atomic balance mutation. Balance is the
// materialized running total after the delta was applied.
type CreditLedgerEntry struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Delta     int       `json:"delta" db:"delta"`
	Balance   int       `json:"balance" db:"balance"`
	Reason    string    `json:"reason" db:"reason"`
	SessionID string    `json:"session_id,omitempty" db:"session_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
