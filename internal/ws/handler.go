package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/identity"
	"github.com/victornm/livequiz/internal/live"
)

const maxFrameBytes = 4096

// Router handles the live events decoded from client frames.
type Router interface {
	CreateLive(ctx context.Context, conn live.ConnID, quizID string) (*live.CreateReply, error)
	JoinLive(ctx context.Context, conn live.ConnID, code string, ack func(*live.JoinReply)) (*live.JoinReply, error)
	NextQuestion(ctx context.Context, conn live.ConnID, code string)
	SubmitAnswer(ctx context.Context, conn live.ConnID, code string, answerIndex int)
	EndLive(ctx context.Context, conn live.ConnID, code string)
	Disconnect(ctx context.Context, conn live.ConnID)
}

type Config struct {
	Hub            *Hub
	Router         Router
	Resolver       identity.Resolver
	AllowedOrigins []string
}

// Handler upgrades authenticated requests to websocket connections and feeds their frames to the Router.
type Handler struct {
	hub      *Hub
	router   Router
	resolver identity.Resolver
	upgrader websocket.Upgrader

	allowedOrigins map[string]bool
}

func NewHandler(c Config) *Handler {
	h := &Handler{
		hub:            c.Hub,
		router:         c.Router,
		resolver:       c.Resolver,
		allowedOrigins: make(map[string]bool),
	}

	for _, origin := range c.AllowedOrigins {
		if o := strings.TrimSpace(origin); o != "" {
			h.allowedOrigins[o] = true
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.resolver.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		e := errors.Convert(err)
		slog.DebugContext(r.Context(), "ws: connection refused", "remote", r.RemoteAddr, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(e.HTTPStatusCode())
		_ = json.NewEncoder(w).Encode(ErrorPayload{Code: e.Reason, Message: e.Message})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "ws: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	connID := live.ConnID(uuid.NewString())
	c := h.hub.register(connID, conn)
	ctx := identity.NewContext(r.Context(), id)

	slog.InfoContext(ctx, "ws: client connected", "conn", connID, "identity", id.ID, "role", id.Role)
	defer func() {
		h.router.Disconnect(context.WithoutCancel(ctx), connID)
		h.hub.unregister(connID)
		slog.InfoContext(ctx, "ws: client disconnected", "conn", connID, "identity", id.ID)
	}()

	h.readLoop(ctx, c)
}

// readLoop handles frames one at a time until the connection fails.
func (h *Handler) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.DebugContext(ctx, "ws: read failed", "conn", c.id, "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.replyError(ctx, c.id, "", errors.InvalidArgument("invalid frame"))
			continue
		}

		h.dispatch(ctx, c.id, f)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn live.ConnID, f Frame) {
	switch f.Type {
	case TypeCreateLive:
		var p createLivePayload
		if !h.decode(ctx, conn, f, &p) {
			return
		}
		reply, err := h.router.CreateLive(ctx, conn, p.QuizID)
		h.reply(ctx, conn, f.RequestID, reply, err)

	case TypeJoinLive:
		var p codePayload
		if !h.decode(ctx, conn, f, &p) {
			return
		}
		// The reply is queued before the catch-up question of a late joiner.
		_, err := h.router.JoinLive(ctx, conn, p.Code, func(reply *live.JoinReply) {
			h.reply(ctx, conn, f.RequestID, reply, nil)
		})
		if err != nil {
			h.replyError(ctx, conn, f.RequestID, err)
		}

	case TypeNextQuestion:
		var p codePayload
		if h.decode(ctx, conn, f, &p) {
			h.router.NextQuestion(ctx, conn, p.Code)
		}

	case TypeSubmitAnswer:
		var p submitAnswerPayload
		if !h.decode(ctx, conn, f, &p) {
			return
		}
		if p.AnswerIndex == nil {
			h.replyError(ctx, conn, f.RequestID, errors.InvalidArgument("answerIndex is required"))
			return
		}
		h.router.SubmitAnswer(ctx, conn, p.Code, *p.AnswerIndex)

	case TypeEndLive:
		var p codePayload
		if h.decode(ctx, conn, f, &p) {
			h.router.EndLive(ctx, conn, p.Code)
		}

	default:
		h.replyError(ctx, conn, f.RequestID, errors.InvalidArgument("unsupported frame type: %s", f.Type))
	}
}

func (h *Handler) decode(ctx context.Context, conn live.ConnID, f Frame, v any) bool {
	if len(f.Payload) == 0 {
		h.replyError(ctx, conn, f.RequestID, errors.InvalidArgument("payload is required"))
		return false
	}

	if err := json.Unmarshal(f.Payload, v); err != nil {
		h.replyError(ctx, conn, f.RequestID, errors.InvalidArgument("invalid %s payload", f.Type))
		return false
	}

	return true
}

func (h *Handler) reply(ctx context.Context, conn live.ConnID, requestID string, payload any, err error) {
	if err != nil {
		h.replyError(ctx, conn, requestID, err)
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		h.replyError(ctx, conn, requestID, errors.Internal(err))
		return
	}

	h.hub.sendFrame(conn, Frame{Type: TypeReply, RequestID: requestID, Payload: raw})
}

func (h *Handler) replyError(ctx context.Context, conn live.ConnID, requestID string, err error) {
	e := errors.Convert(err)

	msg := e.Message
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(ctx, "ws: request failed", "conn", conn, "request_id", requestID, "error", err)
		msg = "internal server error"
	}

	raw, _ := json.Marshal(ErrorPayload{Code: e.Reason, Message: msg})
	h.hub.sendFrame(conn, Frame{Type: TypeError, RequestID: requestID, Payload: raw})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(h.allowedOrigins) > 0 {
		return h.allowedOrigins["*"] || h.allowedOrigins[origin]
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// bearerToken reads the credential from the Authorization header, or the token query parameter
// for browsers that cannot set headers on websocket requests.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}

	return r.URL.Query().Get("token")
}
