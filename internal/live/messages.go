package live

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
)

// ConnID addresses one live connection.
type ConnID string

// Outbound notification names.
const (
	MessageLiveCreated       = "liveCreated"
	MessageParticipantJoined = "participantJoined"
	MessageNewQuestion       = "newQuestion"
	MessageAnswerReceived    = "answerReceived"
	MessageLiveEnded         = "liveEnded"
)

// Message is a notification pushed to one connection or a group.
type Message struct {
	Event string
	Data  any
}

// Groups is the multicast capability of the transport. A group is named by the session code.
// Messages sent to one connection are delivered in the order they were sent.
type Groups interface {
	Join(group string, conn ConnID)
	Leave(group string, conn ConnID)
	// Dissolve removes every member from the group.
	Dissolve(group string)
	Send(conn ConnID, m Message)
	Broadcast(group string, m Message)
	BroadcastExcept(group string, except ConnID, m Message)
}

type (
	CreateReply struct {
		Code string `json:"code"`
	}

	JoinReply struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}

	LiveCreated struct {
		Code          string `json:"code"`
		QuizID        string `json:"quizId"`
		Title         string `json:"title"`
		QuestionCount int    `json:"questionCount"`
	}

	ParticipantJoined struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	// QuestionView is a question as shown to players, without its correct answers.
	QuestionView struct {
		Text    string   `json:"text"`
		Options []string `json:"options"`
	}

	NewQuestion struct {
		Index    int          `json:"index"`
		Total    int          `json:"total"`
		Question QuestionView `json:"question"`
		CatchUp  bool         `json:"catchUp,omitempty"`
	}

	// AnswerReceived carries Correct only when sent to the host.
	AnswerReceived struct {
		Name    string `json:"name"`
		Correct *bool  `json:"correct,omitempty"`
	}

	LiveEnded struct {
		Code      string         `json:"code"`
		Reason    string         `json:"reason"`
		Standings []StandingView `json:"standings"`
	}

	StandingView struct {
		Name     string          `json:"name"`
		Score    int             `json:"score"`
		Answered int             `json:"answered"`
		Accuracy decimal.Decimal `json:"accuracy"`
	}
)

func newQuestion(index int, q domain.Question, total int, catchUp bool) Message {
	return Message{
		Event: MessageNewQuestion,
		Data: NewQuestion{
			Index:   index,
			Total:   total,
			CatchUp: catchUp,
			Question: QuestionView{
				Text:    q.Text,
				Options: q.Options,
			},
		},
	}
}

func liveEnded(code, reason string, standings []domain.Standing) Message {
	views := make([]StandingView, 0, len(standings))
	for _, s := range standings {
		views = append(views, StandingView{
			Name:     s.Name,
			Score:    s.Score,
			Answered: s.Answered,
			Accuracy: s.Accuracy,
		})
	}

	return Message{
		Event: MessageLiveEnded,
		Data: LiveEnded{
			Code:      code,
			Reason:    reason,
			Standings: views,
		},
	}
}
