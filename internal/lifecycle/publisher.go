// Package lifecycle announces live session lifecycle events on a RabbitMQ topic exchange.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const (
	DefaultExchange = "livequiz.sessions"

	RoutingKeySessionCreated = "session.created"
	RoutingKeySessionEnded   = "session.ended"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Config struct {
	EventBus *event.Bus
	Channel  Channel
	Exchange string
}

type Publisher struct {
	ch       Channel
	exchange string
}

func NewPublisher(c Config) (*Publisher, error) {
	p := &Publisher{
		ch:       c.Channel,
		exchange: c.Exchange,
	}
	if p.exchange == "" {
		p.exchange = DefaultExchange
	}

	if err := p.ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("lifecycle: declare exchange %s: %w", p.exchange, err)
	}

	event.Handle(c.EventBus, p.PublishSessionCreated)
	event.Handle(c.EventBus, p.PublishSessionEnded)

	return p, nil
}

// Dial opens a connection and a channel to the broker at url.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("lifecycle: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("lifecycle: open channel: %w", err)
	}

	return conn, ch, nil
}

type (
	SessionCreated struct {
		Code          string    `json:"code"`
		QuizID        string    `json:"quiz_id"`
		HostID        string    `json:"host_id"`
		QuestionCount int       `json:"question_count"`
		CreatedAt     time.Time `json:"created_at"`
	}

	SessionEnded struct {
		Code      string     `json:"code"`
		QuizID    string     `json:"quiz_id"`
		Reason    string     `json:"reason"`
		Standings []Standing `json:"standings"`
		EndedAt   time.Time  `json:"ended_at"`
	}

	Standing struct {
		ParticipantID string          `json:"participant_id"`
		Name          string          `json:"name"`
		Score         int             `json:"score"`
		Answered      int             `json:"answered"`
		Accuracy      decimal.Decimal `json:"accuracy"`
	}
)

func (p *Publisher) PublishSessionCreated(ctx context.Context, e domain.EventSessionCreated) error {
	return p.publish(ctx, RoutingKeySessionCreated, e.Name(), e.Time, SessionCreated{
		Code:          e.Code,
		QuizID:        e.QuizID,
		HostID:        e.HostID,
		QuestionCount: e.QuestionCount,
		CreatedAt:     e.Time,
	})
}

func (p *Publisher) PublishSessionEnded(ctx context.Context, e domain.EventSessionEnded) error {
	standings := make([]Standing, 0, len(e.Standings))
	for _, st := range e.Standings {
		standings = append(standings, Standing{
			ParticipantID: st.ParticipantID,
			Name:          st.Name,
			Score:         st.Score,
			Answered:      st.Answered,
			Accuracy:      st.Accuracy,
		})
	}

	return p.publish(ctx, RoutingKeySessionEnded, e.Name(), e.Time, SessionEnded{
		Code:      e.Code,
		QuizID:    e.QuizID,
		Reason:    e.Reason,
		Standings: standings,
		EndedAt:   e.Time,
	})
}

func (p *Publisher) publish(ctx context.Context, key, typ string, at time.Time, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal %s: %w", typ, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    at,
		Type:         typ,
		Body:         b,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("lifecycle: publish %s: %w", typ, err)
	}

	slog.DebugContext(ctx, "lifecycle: published", "exchange", p.exchange, "key", key, "message_id", msg.MessageId)
	return nil
}
