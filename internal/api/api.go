// Package api exposes read-only views of live sessions over HTTP and relays session
// notifications to Redis pub/sub for other services.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/live"
	"github.com/victornm/livequiz/internal/score"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Registry     *live.Registry
	Leaderboard  LeaderboardReader
	Results      ResultsReader // optional
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type LeaderboardReader interface {
	GetLeaderboard(ctx context.Context, req leaderboard.GetLeaderboardRequest) (*domain.Leaderboard, error)
}

// ResultsReader lists the archived results of ended sessions.
type ResultsReader interface {
	ListResults(ctx context.Context, req score.ListResultsRequest) ([]domain.Result, error)
}

type API struct {
	registry *live.Registry
	ls       LeaderboardReader
	results  ResultsReader

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		registry: c.Registry,
		ls:       c.Leaderboard,
		results:  c.Results,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	// HTTP APIs
	c.Router.GET("/live/:code", a.GetLive)
	c.Router.GET("/live/:code/leaderboard", a.GetLeaderboard)
	if a.results != nil {
		c.Router.GET("/quizzes/:quizId/results", a.ListResults)
	}

	// Register event handlers
	if a.redis != nil {
		event.Handle(c.EventBus, a.PublishQuestionSent)
		event.Handle(c.EventBus, a.PublishLeaderboardUpdated)
		event.Handle(c.EventBus, a.PublishSessionEnded)
	}

	return a
}

type (
	LiveStatus struct {
		Code         string     `json:"code"`
		QuizID       string     `json:"quiz_id"`
		Title        string     `json:"title"`
		State        live.State `json:"state"`
		CurrentIndex int        `json:"current_index"`
		Total        int        `json:"total"`
		Participants int        `json:"participants"`
	}

	Result struct {
		SessionID     string    `json:"session_id"`
		Code          string    `json:"code"`
		Reason        string    `json:"reason"`
		ParticipantID string    `json:"participant_id"`
		Name          string    `json:"name"`
		Rank          int       `json:"rank"`
		Score         int       `json:"score"`
		Answered      int       `json:"answered"`
		Accuracy      string    `json:"accuracy"`
		EndTime       time.Time `json:"end_time"`
	}

	ErrorResponse struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// GetLive returns the status of a live session.
func (a *API) GetLive(c *gin.Context) {
	s, ok := a.registry.Get(c.Param("code"))
	if !ok {
		writeError(c, errors.InvalidCode("live session not found: code=%s", live.NormalizeCode(c.Param("code"))))
		return
	}

	st := s.Status()
	c.JSON(http.StatusOK, LiveStatus{
		Code:         st.Code,
		QuizID:       st.QuizID,
		Title:        st.Title,
		State:        st.State,
		CurrentIndex: st.CurrentIndex,
		Total:        st.Total,
		Participants: len(st.Participants),
	})
}

// GetLeaderboard returns the mirrored leaderboard of a live or recently ended session.
func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		Code: live.NormalizeCode(c.Param("code")),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newLeaderboard(*l))
}

// ListResults returns the archived results of a quiz, latest session first.
func (a *API) ListResults(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, errors.InvalidArgument("invalid limit: %q", v))
			return
		}
		limit = n
	}

	results, err := a.results.ListResults(c.Request.Context(), score.ListResultsRequest{
		QuizID: c.Param("quizId"),
		Limit:  limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]Result, 0, len(results))
	for _, r := range results {
		resp = append(resp, Result{
			SessionID:     r.SessionID,
			Code:          r.Code,
			Reason:        r.Reason,
			ParticipantID: r.ParticipantID,
			Name:          r.Name,
			Rank:          r.Rank,
			Score:         r.Score,
			Answered:      r.Answered,
			Accuracy:      r.Accuracy.String(),
			EndTime:       r.EndTime,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)

	msg := e.Message
	if e.Code == errors.CodeInternal {
		_ = c.Error(err)
		msg = "internal server error"
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), ErrorResponse{Code: e.Reason, Message: msg})
}
