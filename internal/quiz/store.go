// Package quiz reads quiz content from the document store.
package quiz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

// Postgres is a quiz store backed by the quizzes table, questions are a JSONB document.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(c Config) *Postgres {
	return &Postgres{db: c.DB}
}

// Get returns the quiz with the given id, or a NotFound error.
func (s *Postgres) Get(ctx context.Context, quizID string) (*domain.Quiz, error) {
	const stmt = `SELECT quiz_id, owner_id, title, questions FROM quizzes WHERE quiz_id = $1;`

	var (
		q   domain.Quiz
		raw []byte
	)
	err := s.db.QueryRow(ctx, stmt, quizID).Scan(&q.QuizID, &q.OwnerID, &q.Title, &raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("quiz not found: quiz=%s", quizID)
	}
	if err != nil {
		return nil, fmt.Errorf("select quiz %s: %w", quizID, err)
	}

	if err := json.Unmarshal(raw, &q.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of quiz %s: %w", quizID, err)
	}

	return &q, nil
}

// Memory is an in-process quiz store, used for local runs without Postgres and in tests.
type Memory struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
}

func NewMemory(quizzes ...domain.Quiz) *Memory {
	m := &Memory{quizzes: make(map[string]domain.Quiz)}
	for _, q := range quizzes {
		m.Put(q)
	}
	return m
}

func (m *Memory) Put(q domain.Quiz) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.quizzes[q.QuizID] = q.Clone()
}

func (m *Memory) Get(_ context.Context, quizID string) (*domain.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quizzes[quizID]
	if !ok {
		return nil, errors.NotFound("quiz not found: quiz=%s", quizID)
	}

	c := q.Clone()
	return &c, nil
}
