package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"dev.helix.panel/internal/models"
)

// ErrSessionNotFound is returned when no session row matches.
var ErrSessionNotFound = errors.New("debate session not found")

// SessionRecord is the persisted state of one debate session.
type SessionRecord struct {
	ID          string              `json:"id" db:"id"`
	UserID      string              `json:"user_id" db:"user_id"`
	Question    string              `json:"question" db:"question"`
	State       models.SessionState `json:"state" db:"state"`
	PauseReason string              `json:"pause_reason,omitempty" db:"pause_reason"`
	ResumeRound int                 `json:"resume_round" db:"resume_round"`
	ExtraInput  string              `json:"extra_input,omitempty" db:"extra_input"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at" db:"updated_at"`
}

// SessionRepository persists session state, rounds and messages. Rounds and
// messages are append-only; the repository never updates or deletes them.
type SessionRepository struct {
	pool Pool
	log  *logrus.Logger
}

// NewSessionRepository creates a session repository.
func NewSessionRepository(pool Pool, log *logrus.Logger) *SessionRepository {
	if log == nil {
		log = logrus.New()
	}
	return &SessionRepository{pool: pool, log: log}
}

// CreateTables creates the session tables if they do not exist.
func (r *SessionRepository) CreateTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS debate_sessions (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			question TEXT NOT NULL,
			state VARCHAR(50) NOT NULL DEFAULT 'initializing',
			pause_reason TEXT,
			resume_round INT DEFAULT 0,
			extra_input TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS debate_messages (
			id VARCHAR(255) PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			round INT NOT NULL,
			position INT NOT NULL,
			author VARCHAR(255) NOT NULL,
			author_name VARCHAR(255),
			role VARCHAR(50),
			content TEXT NOT NULL,
			tokens_used INT DEFAULT 0,
			cost_usd DECIMAL(12,6) DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS debate_rounds (
			session_id VARCHAR(255) NOT NULL,
			round INT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (session_id, round)
		);

		CREATE INDEX IF NOT EXISTS idx_debate_messages_session ON debate_messages(session_id, round, position);
		CREATE INDEX IF NOT EXISTS idx_debate_sessions_state ON debate_sessions(state);
	`
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create session tables: %w", err)
	}
	return nil
}

// CreateSession inserts the initial session record.
func (r *SessionRepository) CreateSession(ctx context.Context, sessionID, userID, question string) error {
	query := `
		INSERT INTO debate_sessions (id, user_id, question, state)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, query, sessionID, userID, question, string(models.StateInitializing)); err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// UpdateState records a state transition together with pause metadata.
func (r *SessionRepository) UpdateState(ctx context.Context, sessionID string, state models.SessionState, pauseReason string, resumeRound int) error {
	query := `
		UPDATE debate_sessions
		SET state = $2, pause_reason = $3, resume_round = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, sessionID, string(state), pauseReason, resumeRound)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

// SetExtraInput attaches context supplied while a session waits for input.
func (r *SessionRepository) SetExtraInput(ctx context.Context, sessionID, input string) error {
	query := `
		UPDATE debate_sessions
		SET extra_input = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, sessionID, input)
	if err != nil {
		return fmt.Errorf("failed to set extra input: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

// GetSession loads a session record.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	query := `
		SELECT id, user_id, question, state, COALESCE(pause_reason, ''),
		       resume_round, COALESCE(extra_input, ''), created_at, updated_at
		FROM debate_sessions
		WHERE id = $1
	`
	record := &SessionRecord{}
	var state string
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&record.ID, &record.UserID, &record.Question, &state,
		&record.PauseReason, &record.ResumeRound, &record.ExtraInput,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	record.State = models.SessionState(state)
	return record, nil
}

// AppendMessage appends one transcript message.
func (r *SessionRepository) AppendMessage(ctx context.Context, msg models.DebateMessage) error {
	query := `
		INSERT INTO debate_messages
			(id, session_id, round, position, author, author_name, role, content, tokens_used, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := r.pool.Exec(ctx, query,
		msg.ID, msg.SessionID, msg.Round, msg.Position, msg.Author, msg.AuthorName,
		string(msg.Role), msg.Content, msg.TokensUsed, msg.CostUSD, msg.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// SaveRound appends the completed round aggregate as JSON.
func (r *SessionRepository) SaveRound(ctx context.Context, sessionID string, round models.DebateRound) error {
	payload, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	query := `
		INSERT INTO debate_rounds (session_id, round, payload)
		VALUES ($1, $2, $3)
	`
	if _, err := r.pool.Exec(ctx, query, sessionID, round.Number, payload); err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}
	return nil
}

// ListMessages returns the transcript in (round, position) order.
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string) ([]models.DebateMessage, error) {
	query := `
		SELECT id, session_id, round, position, author, COALESCE(author_name, ''),
		       COALESCE(role, ''), content, tokens_used, cost_usd, created_at
		FROM debate_messages
		WHERE session_id = $1
		ORDER BY round, position
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.DebateMessage
	for rows.Next() {
		var msg models.DebateMessage
		var role string
		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Round, &msg.Position, &msg.Author, &msg.AuthorName,
			&role, &msg.Content, &msg.TokensUsed, &msg.CostUSD, &msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.ExpertRole(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
