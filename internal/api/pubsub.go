package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		Code    string             `json:"code"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Name  string `json:"name"`
		Score string `json:"score"`
	}

	QuestionSent struct {
		Code  string `json:"code"`
		Index int    `json:"index"`
		Total int    `json:"total"`
	}

	SessionEnded struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	}

	// ParticipantResult is the final standing of one participant, sent to that participant only.
	ParticipantResult struct {
		Code     string `json:"code"`
		Rank     int    `json:"rank"`
		Score    int    `json:"score"`
		Answered int    `json:"answered"`
		Accuracy string `json:"accuracy"`
	}
)

func newLeaderboard(l domain.Leaderboard) Leaderboard {
	data := Leaderboard{
		Code:    l.Code,
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Name:  entry.Name,
			Score: strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	return data
}

func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publishNotification(ctx, a.liveChannel(e.Leaderboard.Code), e.Name(), newLeaderboard(e.Leaderboard))
}

func (a *API) PublishQuestionSent(ctx context.Context, e domain.EventQuestionSent) error {
	return a.publishNotification(ctx, a.liveChannel(e.Code), e.Name(), QuestionSent{
		Code:  e.Code,
		Index: e.Index,
		Total: e.Total,
	})
}

// PublishSessionEnded notifies the session channel, then every participant of its own result.
func (a *API) PublishSessionEnded(ctx context.Context, e domain.EventSessionEnded) error {
	if err := a.publishNotification(ctx, a.liveChannel(e.Code), e.Name(), SessionEnded{
		Code:   e.Code,
		Reason: e.Reason,
	}); err != nil {
		return err
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	ranks := domain.Ranks(e.Standings)
	for i, st := range e.Standings {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.participantChannel(st.ParticipantID), e.Name(), ParticipantResult{
				Code:     e.Code,
				Rank:     ranks[i],
				Score:    st.Score,
				Answered: st.Answered,
				Accuracy: st.Accuracy.String(),
			})
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) liveChannel(code string) string {
	return fmt.Sprintf("%s:live:%s", a.prefix, code)
}

func (a *API) participantChannel(id string) string {
	return fmt.Sprintf("%s:participant:%s", a.prefix, id)
}
