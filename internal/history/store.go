// Package history records question/answer exchanges per user.
//
// Streaming answers are recorded in two steps: a stub row is inserted before
// generation begins, and the row is finalized with the full answer once the
// stream completes. A crash mid-stream leaves the stub with an empty answer,
// which readers should treat as an interrupted exchange.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the referenced exchange does not exist.
var ErrNotFound = errors.New("exchange not found")

// Exchange is one recorded question/answer pair.
type Exchange struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages chat history persistence with a PostgreSQL backend.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// CreateExchange records a completed question/answer pair.
func (s *Store) CreateExchange(ctx context.Context, userID int64, question, answer string) (*Exchange, error) {
	ex := &Exchange{UserID: userID, Question: question, Answer: answer}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_history (user_id, question, answer)
		 VALUES ($1, $2, $3) RETURNING id, created_at`,
		userID, question, answer,
	).Scan(&ex.ID, &ex.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating exchange: %w", err)
	}
	return ex, nil
}

// CreateStub records a question with an empty answer before generation starts.
// The returned exchange is finalized with FinalizeExchange once the answer is
// complete.
func (s *Store) CreateStub(ctx context.Context, userID int64, question string) (*Exchange, error) {
	return s.CreateExchange(ctx, userID, question, "")
}

// FinalizeExchange fills in the answer of a previously created stub.
// Returns ErrNotFound when the exchange does not exist.
func (s *Store) FinalizeExchange(ctx context.Context, id int64, answer string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_history SET answer = $2 WHERE id = $1`, id, answer)
	if err != nil {
		return fmt.Errorf("finalizing exchange %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exchange %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetByID retrieves one exchange. Returns ErrNotFound when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Exchange, error) {
	ex := &Exchange{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, question, answer, created_at
		 FROM chat_history WHERE id = $1`, id,
	).Scan(&ex.ID, &ex.UserID, &ex.Question, &ex.Answer, &ex.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("exchange %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting exchange %d: %w", id, err)
	}
	return ex, nil
}

// ListByUser returns the user's exchanges, newest first, capped at limit.
// A limit of 0 applies the default of 50.
func (s *Store) ListByUser(ctx context.Context, userID int64, limit int) ([]*Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, question, answer, created_at
		 FROM chat_history WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*Exchange
	for rows.Next() {
		ex := &Exchange{}
		if err := rows.Scan(&ex.ID, &ex.UserID, &ex.Question, &ex.Answer, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchanges: %w", err)
	}
	return exchanges, nil
}
