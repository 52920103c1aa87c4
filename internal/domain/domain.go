package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Quiz is the content of a quiz as stored by its owner.
type Quiz struct {
	QuizID    string
	OwnerID   string
	Title     string
	Questions []Question
}

// Clone returns a deep copy so a running session is not affected by later edits.
func (q Quiz) Clone() Quiz {
	c := q
	c.Questions = make([]Question, len(q.Questions))
	for i, qq := range q.Questions {
		c.Questions[i] = qq.Clone()
	}
	return c
}

type Question struct {
	Text           string   `json:"text"`
	Options        []string `json:"options"`
	CorrectAnswers []int    `json:"correctAnswers"`
}

func (q Question) Clone() Question {
	return Question{
		Text:           q.Text,
		Options:        slices.Clone(q.Options),
		CorrectAnswers: slices.Clone(q.CorrectAnswers),
	}
}

// IsCorrect reports whether answer is one of the question's correct answers.
func (q Question) IsCorrect(answer int) bool {
	return slices.Contains(q.CorrectAnswers, answer)
}

// Standing is a participant's final position in a live session.
type Standing struct {
	ParticipantID string
	Name          string
	Score         int
	Answered      int
	Accuracy      decimal.Decimal
}

// Ranks returns the competition rank of each standing, which must be sorted by score
// descending. Equal scores share a rank and the following rank skips the tied places,
// so scores 3, 2, 2, 1 rank 1, 2, 2, 4.
func Ranks(standings []Standing) []int {
	ranks := make([]int, len(standings))
	for i, st := range standings {
		if i > 0 && st.Score == standings[i-1].Score {
			ranks[i] = ranks[i-1]
			continue
		}
		ranks[i] = i + 1
	}
	return ranks
}

// Leaderboard represents a list of participants and their scores within a live session.
// The list is sorted by score in descending order.
type Leaderboard struct {
	Code    string             `json:"code"`
	Entries []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Result is the archived standing of one participant in an ended live session.
type Result struct {
	SessionID     string
	Code          string
	QuizID        string
	Reason        string
	ParticipantID string
	Name          string
	Rank          int
	Score         int
	Answered      int
	Accuracy      decimal.Decimal
	EndTime       time.Time
}
