package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()

	require.NoError(t, s.AddParticipant(ctx, domain.EventParticipantJoined{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1}))
	require.NoError(t, s.AddParticipant(ctx, domain.EventParticipantJoined{Code: "QZ-AAAAAA", ParticipantID: "s2", ParticipantName: "B", Generation: 1}))
	require.NoError(t, s.UpdateLeaderboard(ctx, domain.EventAnswerScored{
		Code:            "QZ-AAAAAA",
		ParticipantID:   "s2",
		ParticipantName: "B",
		Generation:      1,
		Correct:         true,
		TotalScore:      1,
		Time:            time.Now(),
	}))

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Code: "QZ-AAAAAA"})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		Code: "QZ-AAAAAA",
		Entries: []domain.LeaderboardEntry{
			{Name: "B", Score: 1},
			{Name: "A", Score: 0},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_ScoresNeverDecrease(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()

	for _, total := range []int{2, 1} {
		require.NoError(t, s.UpdateLeaderboard(ctx, domain.EventAnswerScored{
			Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1, TotalScore: total, Time: time.Now(),
		}))
	}

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Code: "QZ-AAAAAA"})
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{{Name: "A", Score: 2}}, resp.Entries)
}

func TestService_RejoinResetsScore(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()

	require.NoError(t, s.AddParticipant(ctx, domain.EventParticipantJoined{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1}))
	require.NoError(t, s.UpdateLeaderboard(ctx, domain.EventAnswerScored{
		Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1, TotalScore: 1, Time: time.Now(),
	}))

	// A repeated event of the same join does not touch the score.
	require.NoError(t, s.AddParticipant(ctx, domain.EventParticipantJoined{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1}))
	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Code: "QZ-AAAAAA"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), resp.Entries[0].Score)

	require.NoError(t, s.AddParticipant(ctx, domain.EventParticipantJoined{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 2, Rejoin: true}))
	resp, err = s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Code: "QZ-AAAAAA"})
	require.NoError(t, err)
	assert.Equal(t, float64(0), resp.Entries[0].Score)
}

func TestService_OutOfOrderEvents(t *testing.T) {
	joined := func(gen int) domain.EventParticipantJoined {
		return domain.EventParticipantJoined{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: gen, Rejoin: gen > 1}
	}
	scored := func(gen, total int) domain.EventAnswerScored {
		return domain.EventAnswerScored{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: gen, TotalScore: total, Time: time.Now()}
	}

	tests := map[string]struct {
		events    []event.Event
		wantScore float64
	}{
		"score of an earlier join handled after the rejoin is ignored": {
			events:    []event.Event{joined(1), joined(2), scored(1, 3), scored(2, 1)},
			wantScore: 1,
		},
		"score handled before its join is kept": {
			events:    []event.Event{scored(1, 1), joined(1)},
			wantScore: 1,
		},
		"score of a rejoin handled before the rejoin replaces the earlier score": {
			events:    []event.Event{joined(1), scored(1, 3), scored(2, 1), joined(2)},
			wantScore: 1,
		},
		"join of an earlier generation is ignored": {
			events:    []event.Event{joined(2), scored(2, 2), joined(1)},
			wantScore: 2,
		},
		"lower total of the same join is ignored": {
			events:    []event.Event{joined(1), scored(1, 2), scored(1, 1)},
			wantScore: 2,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, _ := makeService(t)
			ctx := context.Background()

			for _, e := range tc.events {
				switch e := e.(type) {
				case domain.EventParticipantJoined:
					require.NoError(t, s.AddParticipant(ctx, e))
				case domain.EventAnswerScored:
					require.NoError(t, s.UpdateLeaderboard(ctx, e))
				}
			}

			resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Code: "QZ-AAAAAA"})
			require.NoError(t, err)
			assert.Equal(t, []domain.LeaderboardEntry{{Name: "A", Score: tc.wantScore}}, resp.Entries)
		})
	}
}

func TestService_GetLeaderboard_NotFound(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{Code: "QZ-NOPE00"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ReasonNotFound))
}

func TestService_FinalizeLeaderboard(t *testing.T) {
	s, rs := makeService(t, withRetention(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.FinalizeLeaderboard(ctx, domain.EventSessionEnded{
		Code:   "QZ-AAAAAA",
		Reason: domain.EndReasonQuizCompleted,
		Standings: []domain.Standing{
			{ParticipantID: "s1", Name: "A", Score: 2},
			{ParticipantID: "s2", Name: "B", Score: 1},
		},
		Time: time.Now(),
	}))

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Code: "QZ-AAAAAA"})
	require.NoError(t, err)
	assert.Equal(t, []domain.LeaderboardEntry{{Name: "A", Score: 2}, {Name: "B", Score: 1}}, resp.Entries)
	assert.Equal(t, time.Minute, rs.TTL("lb:QZ-AAAAAA:leaderboard"))
	assert.Equal(t, time.Minute, rs.TTL("lb:QZ-AAAAAA:names"))

	rs.FastForward(2 * time.Minute)

	_, err = s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Code: "QZ-AAAAAA"})
	assert.True(t, errors.Is(err, errors.ReasonNotFound))
}

func TestService_HandlesBusEvents(t *testing.T) {
	eb := event.NewBus()
	s, _ := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), domain.EventParticipantJoined{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1})
	eb.Wait()
	eb.Publish(context.Background(), domain.EventAnswerScored{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1, TotalScore: 1, Time: time.Now()})
	eb.Stop()

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{Code: "QZ-AAAAAA"})
	require.NoError(t, err)
	assert.Equal(t, []domain.LeaderboardEntry{{Name: "A", Score: 1}}, resp.Entries)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventAnswerScored
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after receiving answer.scored": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerScored{
						{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1, TotalScore: 1, Time: time.Now()},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					Code: "QZ-AAAAAA",
					Entries: []domain.LeaderboardEntry{
						{Name: "A", Score: 1},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 2 events leaderboard.updated for 2 different sessions": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerScored{
						{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1, TotalScore: 1, Time: time.Now()},
						{Code: "QZ-BBBBBB", ParticipantID: "s2", ParticipantName: "B", Generation: 1, TotalScore: 1, Time: time.Now()},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated event")
			},
		},

		"should publish 1 event leaderboard.updated for the same session within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerScored{
						{Code: "QZ-AAAAAA", ParticipantID: "s1", ParticipantName: "A", Generation: 1, TotalScore: 1, Time: time.Now()},
						{Code: "QZ-AAAAAA", ParticipantID: "s2", ParticipantName: "B", Generation: 1, TotalScore: 1, Time: time.Now()},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			event.Handle(eb, func(ctx context.Context, e domain.EventLeaderboardUpdated) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e)
				mu.Unlock()
				return nil
			})

			s, _ := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.UpdateLeaderboard(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "lb",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rs
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withRetention(d time.Duration) options {
	return func(c *leaderboard.Config) {
		c.Retention = d
	}
}
