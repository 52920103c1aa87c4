package domain

import "time"

const (
	EventNameSessionCreated     = "session.created"
	EventNameParticipantJoined  = "participant.joined"
	EventNameQuestionSent       = "question.sent"
	EventNameAnswerScored       = "answer.scored"
	EventNameSessionEnded       = "session.ended"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// End reasons of a live session.
const (
	EndReasonQuizCompleted       = "quiz_completed"
	EndReasonTeacherEnded        = "teacher_ended"
	EndReasonTeacherDisconnected = "teacher_disconnected"
	EndReasonServerShutdown      = "server_shutdown"
)

type EventSessionCreated struct {
	Code          string
	QuizID        string
	HostID        string
	QuestionCount int
	Time          time.Time
}

func (EventSessionCreated) Name() string { return EventNameSessionCreated }

type EventParticipantJoined struct {
	Code            string
	ParticipantID   string
	ParticipantName string
	// Generation counts the joins of the participant; events of an older generation are stale.
	Generation int
	Count      int
	Rejoin     bool
}

func (EventParticipantJoined) Name() string { return EventNameParticipantJoined }

type EventQuestionSent struct {
	Code  string
	Index int
	Total int
}

func (EventQuestionSent) Name() string { return EventNameQuestionSent }

type EventAnswerScored struct {
	Code            string
	ParticipantID   string
	ParticipantName string
	Generation      int
	QuestionIndex   int
	Correct         bool
	TotalScore      int
	Time            time.Time
}

func (EventAnswerScored) Name() string { return EventNameAnswerScored }

type EventSessionEnded struct {
	Code      string
	QuizID    string
	Reason    string
	Standings []Standing
	Time      time.Time
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
