// Package ws carries live quiz traffic over websocket connections.
package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/live"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	defaultSendBuffer = 64
)

type client struct {
	id   live.ConnID
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub tracks connected clients and their groups. It implements live.Groups.
// Each client has one send queue, so messages to a client keep their enqueue order.
// A client whose queue is full is disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[live.ConnID]*client
	groups  map[string]map[live.ConnID]struct{}

	sendBuffer int
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}

	return &Hub{
		clients:    make(map[live.ConnID]*client),
		groups:     make(map[string]map[live.ConnID]struct{}),
		sendBuffer: sendBuffer,
	}
}

func (h *Hub) register(id live.ConnID, conn *websocket.Conn) *client {
	c := &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	go c.writePump()
	return c
}

// unregister drops the client from the hub and every group, then closes its queue.
func (h *Hub) unregister(id live.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}

	delete(h.clients, id)
	for name, members := range h.groups {
		delete(members, id)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
	close(c.send)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

func (h *Hub) Join(group string, conn live.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; !ok {
		return
	}

	members, ok := h.groups[group]
	if !ok {
		members = make(map[live.ConnID]struct{})
		h.groups[group] = members
	}
	members[conn] = struct{}{}
}

func (h *Hub) Leave(group string, conn live.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}

	delete(members, conn)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

func (h *Hub) Dissolve(group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.groups, group)
}

func (h *Hub) Send(conn live.ConnID, m live.Message) {
	msg, ok := encodeWith(m.Event, "", m.Data)
	if !ok {
		return
	}

	h.deliver([]live.ConnID{conn}, msg)
}

func (h *Hub) Broadcast(group string, m live.Message) {
	h.BroadcastExcept(group, "", m)
}

func (h *Hub) BroadcastExcept(group string, except live.ConnID, m live.Message) {
	msg, ok := encodeWith(m.Event, "", m.Data)
	if !ok {
		return
	}

	h.mu.RLock()
	conns := make([]live.ConnID, 0, len(h.groups[group]))
	for conn := range h.groups[group] {
		if conn != except {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	h.deliver(conns, msg)
}

func (h *Hub) sendFrame(conn live.ConnID, f Frame) {
	msg, ok := encode(f)
	if !ok {
		return
	}

	h.deliver([]live.ConnID{conn}, msg)
}

func (h *Hub) deliver(conns []live.ConnID, msg []byte) {
	var slow []live.ConnID

	h.mu.RLock()
	for _, id := range conns {
		c, ok := h.clients[id]
		if !ok {
			continue
		}

		select {
		case c.send <- msg:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		slog.Warn("ws: client too slow, disconnecting", "conn", id)
		h.unregister(id)
	}
}
