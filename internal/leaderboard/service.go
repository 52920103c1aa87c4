package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	publishInterval  = 200 * time.Millisecond
	defaultRetention = time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// Retention is how long a leaderboard stays readable after its session ended.
	Retention time.Duration
}

// Service mirrors live session scores into Redis sorted sets, so they can be read
// outside the process that hosts the session.
type Service struct {
	eb        *event.Bus
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:        c.EventBus,
		redis:     c.Redis,
		prefix:    c.Prefix,
		retention: c.Retention,
	}
	if s.retention <= 0 {
		s.retention = defaultRetention
	}

	event.Handle(s.eb, s.AddParticipant)
	event.Handle(s.eb, s.UpdateLeaderboard)
	event.Handle(s.eb, s.FinalizeLeaderboard)

	return s
}

type GetLeaderboardRequest struct {
	Code string
}

// GetLeaderboard returns the leaderboard for a session, including all participants and their scores.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.Code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.NotFound("leaderboard not found: code=%s", req.Code)
	}

	ids := make([]string, 0, len(res))
	for _, z := range res {
		ids = append(ids, z.Member.(string))
	}

	names, err := s.redis.HMGet(ctx, s.getNamesKey(req.Code), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get participant names: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		name, _ := names[i].(string)
		if name == "" {
			name = ids[i]
		}
		entries = append(entries, domain.LeaderboardEntry{
			Name:  name,
			Score: z.Score,
		})
	}

	return &domain.Leaderboard{
		Code:    req.Code,
		Entries: entries,
	}, nil
}

// joinScript registers a join of generation ARGV[3]. A newer generation resets the
// score, an older one is stale and ignored.
//
// KEYS: leaderboard, names, generations. ARGV: participant id, name, generation.
var joinScript = redis.NewScript(`
local gen = tonumber(ARGV[3])
local cur = tonumber(redis.call('HGET', KEYS[3], ARGV[1]) or '0')
if gen < cur then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
if gen > cur then
	redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
	redis.call('ZADD', KEYS[1], '0', ARGV[1])
end
return 1
`)

// scoreScript records the total of generation ARGV[3]. Within a generation totals only
// grow, a newer generation replaces the score, an older one is stale and ignored.
//
// KEYS: leaderboard, names, generations. ARGV: participant id, name, generation, total.
var scoreScript = redis.NewScript(`
local gen = tonumber(ARGV[3])
local cur = tonumber(redis.call('HGET', KEYS[3], ARGV[1]) or '0')
if gen < cur then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
if gen > cur then
	redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
	redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
else
	redis.call('ZADD', KEYS[1], 'GT', ARGV[4], ARGV[1])
end
return 1
`)

// AddParticipant puts a joined participant on the leaderboard with no score.
// A rejoin resets the participant's score.
func (s *Service) AddParticipant(ctx context.Context, e domain.EventParticipantJoined) error {
	err := joinScript.Run(ctx, s.redis, s.getKeys(e.Code),
		e.ParticipantID, e.ParticipantName, e.Generation).Err()
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}

	return nil
}

// UpdateLeaderboard sets the participant's score to the scored total. Events of an
// earlier join of the participant, or handled after a higher total, are ignored.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventAnswerScored) error {
	applied, err := scoreScript.Run(ctx, s.redis, s.getKeys(e.Code),
		e.ParticipantID, e.ParticipantName, e.Generation, e.TotalScore).Int()
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	if applied == 0 {
		return nil
	}

	return s.schedulePublishLeaderboard(ctx, e.Code, e.Time)
}

// FinalizeLeaderboard writes the final standings of an ended session and lets its keys expire.
func (s *Service) FinalizeLeaderboard(ctx context.Context, e domain.EventSessionEnded) error {
	if len(e.Standings) == 0 {
		return nil
	}

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		members := make([]redis.Z, 0, len(e.Standings))
		for _, st := range e.Standings {
			members = append(members, redis.Z{Score: float64(st.Score), Member: st.ParticipantID})
			p.HSet(ctx, s.getNamesKey(e.Code), st.ParticipantID, st.Name)
		}
		p.ZAdd(ctx, s.getLeaderboardKey(e.Code), members...)

		for _, key := range s.getKeys(e.Code) {
			p.Expire(ctx, key, s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("finalize leaderboard: %w", err)
	}

	return s.publishLeaderboard(ctx, e.Code, e.Time)
}

// schedulePublishLeaderboard publishes the leaderboard at most once per publish interval per session.
// Answers arrive in bursts right after a question is sent.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, code string, at time.Time) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(code), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, code, at)
}

func (s *Service) publishLeaderboard(ctx context.Context, code string, at time.Time) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		Code: code,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: code=%s: %w", code, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.getLeaderboardTimeKey(code), at.UnixMilli(), publishInterval).Err()
}

func (s *Service) getLeaderboardKey(code string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, code)
}

func (s *Service) getNamesKey(code string) string {
	return fmt.Sprintf("%s:%s:names", s.prefix, code)
}

func (s *Service) getGenerationsKey(code string) string {
	return fmt.Sprintf("%s:%s:generations", s.prefix, code)
}

func (s *Service) getKeys(code string) []string {
	return []string{s.getLeaderboardKey(code), s.getNamesKey(code), s.getGenerationsKey(code)}
}

func (s *Service) getLeaderboardTimeKey(code string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, code)
}
