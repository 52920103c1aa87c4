package ws

import (
	"encoding/json"
	"log/slog"
)

// Inbound frame types.
const (
	TypeCreateLive   = "createLive"
	TypeJoinLive     = "joinLive"
	TypeNextQuestion = "nextQuestion"
	TypeSubmitAnswer = "submitAnswer"
	TypeEndLive      = "endLive"
)

// Outbound frame types besides the live notifications, which use the notification name.
const (
	TypeReply = "reply"
	TypeError = "error"
)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type (
	createLivePayload struct {
		QuizID string `json:"quizId"`
	}

	codePayload struct {
		Code string `json:"code"`
	}

	submitAnswerPayload struct {
		Code        string `json:"code"`
		AnswerIndex *int   `json:"answerIndex"`
	}
)

func encode(f Frame) ([]byte, bool) {
	b, err := json.Marshal(f)
	if err != nil {
		slog.Error("ws: encode frame failed", "type", f.Type, "error", err)
		return nil, false
	}
	return b, true
}

func encodeWith(typ, requestID string, payload any) ([]byte, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("ws: encode payload failed", "type", typ, "error", err)
		return nil, false
	}
	return encode(Frame{Type: typ, RequestID: requestID, Payload: raw})
}
