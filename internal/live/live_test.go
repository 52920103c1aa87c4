package live_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/identity"
	"github.com/victornm/livequiz/internal/live"
	"github.com/victornm/livequiz/internal/quiz"
)

// recorder is an in-memory live.Groups that keeps every delivered message per connection.
type recorder struct {
	mu     sync.Mutex
	groups map[string]map[live.ConnID]struct{}
	inbox  map[live.ConnID][]live.Message
}

func newRecorder() *recorder {
	return &recorder{
		groups: make(map[string]map[live.ConnID]struct{}),
		inbox:  make(map[live.ConnID][]live.Message),
	}
}

func (r *recorder) Join(group string, conn live.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.groups[group] == nil {
		r.groups[group] = make(map[live.ConnID]struct{})
	}
	r.groups[group][conn] = struct{}{}
}

func (r *recorder) Leave(group string, conn live.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.groups[group], conn)
}

func (r *recorder) Dissolve(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.groups, group)
}

func (r *recorder) Send(conn live.ConnID, m live.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inbox[conn] = append(r.inbox[conn], m)
}

func (r *recorder) Broadcast(group string, m live.Message) {
	r.BroadcastExcept(group, "", m)
}

func (r *recorder) BroadcastExcept(group string, except live.ConnID, m live.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.groups[group] {
		if conn != except {
			r.inbox[conn] = append(r.inbox[conn], m)
		}
	}
}

// take returns and clears the messages delivered to conn.
func (r *recorder) take(conn live.ConnID) []live.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.inbox[conn]
	delete(r.inbox, conn)
	return msgs
}

func (r *recorder) members(group string) []live.ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conns []live.ConnID
	for c := range r.groups[group] {
		conns = append(conns, c)
	}
	return conns
}

// fixedCodes generates the given codes in order, then repeats the last one.
type fixedCodes struct {
	mu    sync.Mutex
	codes []string
}

func (f *fixedCodes) Generate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.codes) == 0 {
		return "", stderrors.New("no more codes")
	}
	c := f.codes[0]
	if len(f.codes) > 1 {
		f.codes = f.codes[1:]
	}
	return c, nil
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*domain.Quiz, error) {
	return nil, stderrors.New("connection refused")
}

var (
	teacher = identity.Identity{ID: "t1", DisplayName: "Teacher", Role: identity.RoleTeacher}
	other   = identity.Identity{ID: "t2", DisplayName: "Other Teacher", Role: identity.RoleTeacher}
	alice   = identity.Identity{ID: "s1", DisplayName: "A", Role: identity.RoleStudent}
	bob     = identity.Identity{ID: "s2", DisplayName: "B", Role: identity.RoleStudent}
)

func twoQuestions() domain.Quiz {
	return domain.Quiz{
		QuizID:  "q1",
		OwnerID: teacher.ID,
		Title:   "Basics",
		Questions: []domain.Question{
			{Text: "2+2?", Options: []string{"3", "4", "5"}, CorrectAnswers: []int{1}},
			{Text: "Pick a prime", Options: []string{"2", "4", "5", "9"}, CorrectAnswers: []int{0, 2}},
		},
	}
}

type fixture struct {
	router   *live.Router
	groups   *recorder
	store    *quiz.Memory
	eb       *event.Bus
	registry *live.Registry
}

type fixtureOption func(c *live.Config)

func withStore(s live.QuizStore) fixtureOption {
	return func(c *live.Config) {
		c.Quizzes = s
	}
}

func withCodes(codes ...string) fixtureOption {
	return func(c *live.Config) {
		c.Registry = live.NewRegistry(&fixedCodes{codes: codes})
	}
}

func makeFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		groups: newRecorder(),
		store:  quiz.NewMemory(twoQuestions()),
		eb:     event.NewBus(),
	}

	c := live.Config{
		Registry: live.NewRegistry(nil),
		Groups:   f.groups,
		Quizzes:  f.store,
		EventBus: f.eb,
	}
	for _, opt := range opts {
		opt(&c)
	}

	f.registry = c.Registry
	f.router = live.NewRouter(c)
	t.Cleanup(f.eb.Stop)
	return f
}

func as(id identity.Identity) context.Context {
	return identity.NewContext(context.Background(), id)
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()

	reply, err := f.router.CreateLive(as(teacher), "conn-teacher", "q1")
	require.NoError(t, err)
	f.groups.take("conn-teacher")
	return reply.Code
}

func (f *fixture) join(t *testing.T, id identity.Identity, conn live.ConnID, code string) {
	t.Helper()

	reply, err := f.router.JoinLive(as(id), conn, code, nil)
	require.NoError(t, err)
	require.True(t, reply.Success)
}

func (f *fixture) status(t *testing.T, code string) live.Status {
	t.Helper()

	s, ok := f.registry.Get(code)
	require.True(t, ok, "session %s should be live", code)
	return s.Status()
}

func events(msgs []live.Message) []string {
	names := make([]string, 0, len(msgs))
	for _, m := range msgs {
		names = append(names, m.Event)
	}
	return names
}
