package live

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/identity"
)

// QuizStore fetches quiz content by id. Absent quizzes are reported as NotFound.
type QuizStore interface {
	Get(ctx context.Context, quizID string) (*domain.Quiz, error)
}

type Config struct {
	Registry *Registry
	Groups   Groups
	Quizzes  QuizStore
	EventBus *event.Bus
	Now      func() time.Time
}

// Router dispatches connection events to live sessions and fans out the resulting notifications.
type Router struct {
	registry *Registry
	groups   Groups
	quizzes  QuizStore
	eb       *event.Bus
	now      func() time.Time
}

func NewRouter(c Config) *Router {
	r := &Router{
		registry: c.Registry,
		groups:   c.Groups,
		quizzes:  c.Quizzes,
		eb:       c.EventBus,
		now:      c.Now,
	}

	if r.registry == nil {
		r.registry = NewRegistry(nil)
	}
	if r.eb == nil {
		r.eb = event.NewBus()
	}
	if r.now == nil {
		r.now = time.Now
	}

	return r
}

func (r *Router) Registry() *Registry {
	return r.registry
}

// CreateLive starts a session for quizID hosted by conn. The caller must be a teacher owning the quiz.
func (r *Router) CreateLive(ctx context.Context, conn ConnID, quizID string) (*CreateReply, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return nil, errors.InvalidCredential(nil)
	}
	if id.Role != identity.RoleTeacher {
		return nil, errors.PermissionDenied("only teachers can create a live session")
	}

	quizID = strings.TrimSpace(quizID)
	if quizID == "" {
		return nil, errors.NotFound("quiz not found: quiz id is empty")
	}

	q, err := r.quizzes.Get(ctx, quizID)
	if err != nil {
		if e := errors.Convert(err); e.Code != errors.CodeInternal {
			return nil, e
		}
		slog.ErrorContext(ctx, "live: fetch quiz failed", "quiz", quizID, "error", err)
		return nil, errors.Internal(err)
	}
	if q.OwnerID != id.ID {
		return nil, errors.OwnershipMismatch("quiz %s is not owned by %s", quizID, id.ID)
	}

	now := r.now()
	s, err := r.registry.Create(func(code string) *Session {
		return newSession(code, conn, id.ID, *q, now)
	})
	if err != nil {
		slog.ErrorContext(ctx, "live: register session failed", "quiz", quizID, "error", err)
		return nil, err
	}

	s.mu.Lock()
	r.groups.Join(s.code, conn)
	r.groups.Send(conn, Message{
		Event: MessageLiveCreated,
		Data: LiveCreated{
			Code:          s.code,
			QuizID:        s.quiz.QuizID,
			Title:         s.quiz.Title,
			QuestionCount: len(s.quiz.Questions),
		},
	})
	s.mu.Unlock()

	slog.InfoContext(ctx, "live: session created", "code", s.code, "quiz", quizID, "host", id.ID)
	r.eb.Publish(ctx, domain.EventSessionCreated{
		Code:          s.code,
		QuizID:        quizID,
		HostID:        id.ID,
		QuestionCount: len(s.quiz.Questions),
		Time:          now,
	})

	return &CreateReply{Code: s.code}, nil
}

// JoinLive adds the caller as a participant of the session with the given code.
// A repeated join by the same identity resets its score and answers, and a previous
// connection of that identity leaves the session.
//
// ack, if not nil, is called with the reply while the session is locked, before a
// late joiner is sent the current question.
func (r *Router) JoinLive(ctx context.Context, conn ConnID, code string, ack func(*JoinReply)) (*JoinReply, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return nil, errors.InvalidCredential(nil)
	}

	s, ok := r.registry.Get(code)
	if !ok {
		return nil, errors.InvalidCode("live session not found: code=%s", NormalizeCode(code))
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, errors.InvalidCode("live session not found: code=%s", s.code)
	}

	r.groups.Join(s.code, conn)
	p, prev := s.join(id, conn)
	rejoin := prev != nil
	if rejoin && prev.conn != conn && prev.conn != s.hostConn {
		r.groups.Leave(s.code, prev.conn)
	}
	count := len(s.participants)

	r.groups.BroadcastExcept(s.code, conn, Message{
		Event: MessageParticipantJoined,
		Data:  ParticipantJoined{Name: p.Name, Count: count},
	})

	reply := &JoinReply{Success: true, Code: s.code}
	if ack != nil {
		ack(reply)
	}

	if i, q, ok := s.currentQuestion(); ok {
		r.groups.Send(conn, newQuestion(i, q, len(s.quiz.Questions), true))
	}
	s.mu.Unlock()

	slog.InfoContext(ctx, "live: participant joined", "code", s.code, "participant", id.ID, "count", count, "rejoin", rejoin)
	r.eb.Publish(ctx, domain.EventParticipantJoined{
		Code:            s.code,
		ParticipantID:   id.ID,
		ParticipantName: p.Name,
		Generation:      p.Generation,
		Count:           count,
		Rejoin:          rejoin,
	})

	return reply, nil
}

// NextQuestion broadcasts the next question, or ends the session once every question was sent.
// Calls from any connection but the host are ignored.
func (r *Router) NextQuestion(ctx context.Context, conn ConnID, code string) {
	s, ok := r.hostedSession(conn, code)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.hostConn != conn {
		return
	}

	total := len(s.quiz.Questions)
	if s.currentIndex >= total {
		r.end(ctx, s, domain.EndReasonQuizCompleted)
		return
	}

	i := s.currentIndex
	r.groups.Broadcast(s.code, newQuestion(i, s.quiz.Questions[i], total, false))
	s.currentIndex++

	r.eb.Publish(ctx, domain.EventQuestionSent{
		Code:  s.code,
		Index: i,
		Total: total,
	})
}

// SubmitAnswer records the caller's answer to the most recently sent question.
// Submissions without a participant, without an active question, or for an
// already answered question are dropped.
func (r *Router) SubmitAnswer(ctx context.Context, conn ConnID, code string, answerIndex int) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return
	}

	s, ok := r.registry.Get(code)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	p, ok := s.participants[id.ID]
	if !ok {
		return
	}

	qi, q, ok := s.currentQuestion()
	if !ok {
		return
	}

	if _, answered := p.Answers[qi]; answered {
		slog.DebugContext(ctx, "live: duplicate answer dropped", "code", s.code, "participant", id.ID, "question", qi)
		return
	}

	p.Answers[qi] = answerIndex
	correct := q.IsCorrect(answerIndex)
	if correct {
		p.Score++
		p.Correct++
	}

	r.groups.Send(s.hostConn, Message{
		Event: MessageAnswerReceived,
		Data:  AnswerReceived{Name: p.Name, Correct: &correct},
	})
	r.groups.BroadcastExcept(s.code, s.hostConn, Message{
		Event: MessageAnswerReceived,
		Data:  AnswerReceived{Name: p.Name},
	})

	r.eb.Publish(ctx, domain.EventAnswerScored{
		Code:            s.code,
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		Generation:      p.Generation,
		QuestionIndex:   qi,
		Correct:         correct,
		TotalScore:      p.Score,
		Time:            r.now(),
	})
}

// EndLive ends the session on the host's request. Calls from other connections are ignored.
func (r *Router) EndLive(ctx context.Context, conn ConnID, code string) {
	s, ok := r.hostedSession(conn, code)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	r.end(ctx, s, domain.EndReasonTeacherEnded)
}

// Disconnect ends the sessions hosted by conn. Participant disconnects leave sessions untouched.
func (r *Router) Disconnect(ctx context.Context, conn ConnID) {
	for _, s := range r.registry.HostedBy(conn) {
		s.mu.Lock()
		if !s.ended {
			r.end(ctx, s, domain.EndReasonTeacherDisconnected)
		}
		s.mu.Unlock()
	}
}

// Shutdown ends every live session.
func (r *Router) Shutdown(ctx context.Context) {
	for _, s := range r.registry.List() {
		s.mu.Lock()
		if !s.ended {
			r.end(ctx, s, domain.EndReasonServerShutdown)
		}
		s.mu.Unlock()
	}
}

func (r *Router) hostedSession(conn ConnID, code string) (*Session, bool) {
	s, ok := r.registry.Get(code)
	if !ok || s.hostConn != conn {
		return nil, false
	}
	return s, true
}

// end must be called with s.mu held.
func (r *Router) end(ctx context.Context, s *Session, reason string) {
	s.ended = true
	standings := s.standings()

	r.groups.Broadcast(s.code, liveEnded(s.code, reason, standings))
	r.registry.Delete(s.code)
	r.groups.Dissolve(s.code)

	slog.InfoContext(ctx, "live: session ended", "code", s.code, "reason", reason, "participants", len(s.participants))
	r.eb.Publish(ctx, domain.EventSessionEnded{
		Code:      s.code,
		QuizID:    s.quiz.QuizID,
		Reason:    reason,
		Standings: standings,
		Time:      r.now(),
	})
}
