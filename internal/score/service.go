// Package score archives the final standings of ended live sessions in Postgres.
package score

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

// Schema creates the archive tables.
const Schema = `
CREATE TABLE IF NOT EXISTS live_sessions (
	session_id UUID PRIMARY KEY,
	code       TEXT NOT NULL,
	quiz_id    TEXT NOT NULL,
	end_reason TEXT NOT NULL,
	end_time   TIMESTAMPTZ NOT NULL,
	UNIQUE (code, end_time)
);

CREATE TABLE IF NOT EXISTS live_results (
	session_id     UUID NOT NULL REFERENCES live_sessions (session_id),
	participant_id TEXT NOT NULL,
	name           TEXT NOT NULL,
	rank           INT NOT NULL,
	score          INT NOT NULL,
	answered       INT NOT NULL,
	accuracy       NUMERIC NOT NULL,
	PRIMARY KEY (session_id, participant_id)
);`

const defaultListLimit = 100

// DB is the part of *pgxpool.Pool the service uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Config struct {
	EventBus *event.Bus
	DB       DB
}

type Service struct {
	db DB
}

func NewService(c Config) *Service {
	s := &Service{db: c.DB}

	event.Handle(c.EventBus, s.ArchiveResults)

	return s
}

// ArchiveResults stores the final standings of an ended session. Archiving the same
// session twice is reported as AlreadyExists and otherwise ignored.
func (s *Service) ArchiveResults(ctx context.Context, e domain.EventSessionEnded) error {
	id, err := s.insertResults(ctx, e)
	if errors.Is(err, errors.ReasonAlreadyExists) {
		slog.InfoContext(ctx, "score: results already archived", "code", e.Code)
		return nil
	}
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "score: results archived", "code", e.Code, "session_id", id, "participants", len(e.Standings))
	return nil
}

func (s *Service) insertResults(ctx context.Context, e domain.EventSessionEnded) (_ string, err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insSessionStmt = `INSERT INTO live_sessions (session_id, code, quiz_id, end_reason, end_time) VALUES ($1, $2, $3, $4, $5);`
		insResultStmt  = `
INSERT INTO live_results (session_id, participant_id, name, rank, score, answered, accuracy)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	)

	_, err = tx.Exec(ctx, insSessionStmt, id, e.Code, e.QuizID, e.Reason, e.Time)
	if isUniqueViolation(err) {
		return "", errors.AlreadyExists(err, "results already archived: code=%s", e.Code)
	}
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	ranks := domain.Ranks(e.Standings)
	for i, st := range e.Standings {
		_, err = tx.Exec(ctx, insResultStmt, id, st.ParticipantID, st.Name, ranks[i], st.Score, st.Answered, st.Accuracy)
		if err != nil {
			return "", fmt.Errorf("insert result of %s: %w", st.ParticipantID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	return id.String(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

type ListResultsRequest struct {
	QuizID string
	Limit  int
}

// ListResults returns the archived results of a quiz, latest session first and by rank
// within a session.
func (s *Service) ListResults(ctx context.Context, req ListResultsRequest) ([]domain.Result, error) {
	const stmt = `
SELECT s.session_id, s.code, s.quiz_id, s.end_reason, s.end_time,
       r.participant_id, r.name, r.rank, r.score, r.answered, r.accuracy
FROM live_sessions s
JOIN live_results r ON r.session_id = s.session_id
WHERE s.quiz_id = $1
ORDER BY s.end_time DESC, r.rank ASC
LIMIT $2;`

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.Query(ctx, stmt, req.QuizID, limit)
	if err != nil {
		return nil, fmt.Errorf("select results of quiz %s: %w", req.QuizID, err)
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Result, error) {
		var (
			res domain.Result
			id  uuid.UUID
		)
		if err := r.Scan(&id, &res.Code, &res.QuizID, &res.Reason, &res.EndTime,
			&res.ParticipantID, &res.Name, &res.Rank, &res.Score, &res.Answered, &res.Accuracy); err != nil {
			return domain.Result{}, err
		}
		res.SessionID = id.String()
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect results of quiz %s: %w", req.QuizID, err)
	}

	return results, nil
}
