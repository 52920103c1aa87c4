package live

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/identity"
)

type State string

const (
	StateLobby      State = "lobby"
	StateInProgress State = "in_progress"
	StateEnded      State = "ended"
)

// Session is one running instance of a quiz. All fields past mu are guarded by it;
// code, hostConn, hostID and quiz never change after creation.
type Session struct {
	mu sync.Mutex

	code      string
	hostConn  ConnID
	hostID    string
	quiz      domain.Quiz
	createdAt time.Time

	// currentIndex is the number of questions already sent.
	currentIndex int
	participants map[string]*Participant
	ended        bool
}

// Participant is a joined identity's running score and answers.
type Participant struct {
	ID      string
	Name    string
	Score   int
	Correct int
	// Answers maps question index to the submitted answer index.
	Answers map[int]int
	// Generation counts the joins of this identity, starting at 1.
	Generation int

	conn ConnID
}

func newSession(code string, host ConnID, hostID string, q domain.Quiz, now time.Time) *Session {
	return &Session{
		code:         code,
		hostConn:     host,
		hostID:       hostID,
		quiz:         q.Clone(),
		createdAt:    now,
		participants: make(map[string]*Participant),
	}
}

func (s *Session) Code() string { return s.code }

// state must be called with s.mu held.
func (s *Session) state() State {
	switch {
	case s.ended:
		return StateEnded
	case s.currentIndex == 0:
		return StateLobby
	default:
		return StateInProgress
	}
}

// join creates or resets the participant for id, joined from conn. It returns the
// replaced participant on a rejoin.
func (s *Session) join(id identity.Identity, conn ConnID) (p, prev *Participant) {
	prev = s.participants[id.ID]

	p = &Participant{
		ID:         id.ID,
		Name:       id.DisplayName,
		Answers:    make(map[int]int),
		Generation: 1,
		conn:       conn,
	}
	if prev != nil {
		p.Generation = prev.Generation + 1
	}
	s.participants[id.ID] = p
	return p, prev
}

// currentQuestion returns the most recently sent question.
func (s *Session) currentQuestion() (int, domain.Question, bool) {
	if s.currentIndex == 0 {
		return 0, domain.Question{}, false
	}

	i := s.currentIndex - 1
	return i, s.quiz.Questions[i], true
}

func (s *Session) standings() []domain.Standing {
	out := make([]domain.Standing, 0, len(s.participants))
	for _, p := range s.participants {
		acc := decimal.Zero
		if n := len(p.Answers); n > 0 {
			acc = decimal.NewFromInt(int64(p.Correct)).Div(decimal.NewFromInt(int64(n))).Round(2)
		}

		out = append(out, domain.Standing{
			ParticipantID: p.ID,
			Name:          p.Name,
			Score:         p.Score,
			Answered:      len(p.Answers),
			Accuracy:      acc,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})

	return out
}

// Status is a point-in-time copy of a session.
type Status struct {
	Code         string              `json:"code"`
	QuizID       string              `json:"quizId"`
	Title        string              `json:"title"`
	HostID       string              `json:"hostId"`
	State        State               `json:"state"`
	CurrentIndex int                 `json:"currentIndex"`
	Total        int                 `json:"total"`
	CreatedAt    time.Time           `json:"createdAt"`
	Participants []ParticipantStatus `json:"participants"`
}

type ParticipantStatus struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Score   int         `json:"score"`
	Answers map[int]int `json:"answers"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Code:         s.code,
		QuizID:       s.quiz.QuizID,
		Title:        s.quiz.Title,
		HostID:       s.hostID,
		State:        s.state(),
		CurrentIndex: s.currentIndex,
		Total:        len(s.quiz.Questions),
		CreatedAt:    s.createdAt,
		Participants: make([]ParticipantStatus, 0, len(s.participants)),
	}

	for _, p := range s.participants {
		answers := make(map[int]int, len(p.Answers))
		for k, v := range p.Answers {
			answers[k] = v
		}
		st.Participants = append(st.Participants, ParticipantStatus{
			ID:      p.ID,
			Name:    p.Name,
			Score:   p.Score,
			Answers: answers,
		})
	}
	sort.Slice(st.Participants, func(i, j int) bool { return st.Participants[i].ID < st.Participants[j].ID })

	return st
}
