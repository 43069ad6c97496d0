// Package realtime is the server side of the chat message channel: it keeps
// the session-id -> subscriber registry and fans events out to rooms.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/rental-chat/internal/auth"
	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// SessionService is what the hub needs from the chat service.
type SessionService interface {
	ValidateSession(ctx context.Context, caller auth.Identity, sessionID string) (*chat.Session, error)
	PostUserMessage(ctx context.Context, caller auth.Identity, sessionID, body, attachment string) (*chat.Message, error)
	PostAdminMessage(ctx context.Context, caller auth.Identity, sessionID, body, attachment string) (*chat.Message, error)
}

type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// delivery is the broker payload. Exactly one of SessionID and UserID is set.
type delivery struct {
	SessionID string          `json:"session_id,omitempty"`
	UserID    uint64          `json:"user_id,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Frame     json.RawMessage `json:"frame"`
}

type Hub struct {
	svc    SessionService
	broker Broker
	pub    *Publisher
	opts   Options
	log    zerolog.Logger

	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	users  map[uint64]map[*Client]struct{}
	joined map[*Client]map[string]struct{}
}

func NewHub(svc SessionService, broker Broker, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Hub{
		svc:    svc,
		broker: broker,
		pub:    NewPublisher(broker),
		opts:   opts,
		log:    log.With().Str("component", "realtime").Logger(),
		rooms:  map[string]map[*Client]struct{}{},
		users:  map[uint64]map[*Client]struct{}{},
		joined: map[*Client]map[string]struct{}{},
	}
}

// SetService breaks the construction cycle between hub and chat service.
func (h *Hub) SetService(svc SessionService) { h.svc = svc }

// Run delivers broker traffic to local connections until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	in, err := h.broker.Subscribe(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe broker")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-in:
			if !ok {
				return nil
			}
			var d delivery
			if err := json.Unmarshal(payload, &d); err != nil {
				h.log.Warn().Err(err).Msg("drop malformed delivery")
				continue
			}
			h.deliver(d)
		}
	}
}

// PublishSession implements chat.EventSink.
func (h *Hub) PublishSession(ctx context.Context, sessionID string, ev protocol.Event) error {
	return h.pub.PublishSession(ctx, sessionID, ev)
}

// PublishUser implements chat.EventSink.
func (h *Hub) PublishUser(ctx context.Context, userID uint64, ev protocol.Event) error {
	return h.pub.PublishUser(ctx, userID, ev)
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	var targets []*Client
	switch {
	case d.SessionID != "":
		for c := range h.rooms[d.SessionID] {
			targets = append(targets, c)
		}
	case d.UserID != 0:
		for c := range h.users[d.UserID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.ID == d.Origin {
			continue
		}
		c.enqueue(d.Frame)
	}
}

// ServeConn runs one connection until it drops. The write side runs on its
// own goroutine; reads and dispatch run on the caller's.
func (h *Hub) ServeConn(ctx context.Context, conn Conn, ident auth.Identity) {
	c := newClient(conn, ident, h.opts.SendBuffer, h.log)
	h.register(c)
	defer h.unregister(c)
	defer c.close()

	go c.writePump(h.opts.PingInterval, h.opts.WriteTimeout)

	if h.opts.PingInterval > 0 {
		readWait := h.opts.PingInterval * 2
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
	}

	c.log.Info().Msg("ws connected")
	defer c.log.Info().Msg("ws disconnected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug().Err(err).Msg("ws read loop end")
			return
		}
		if h.opts.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.opts.PingInterval * 2))
		}
		h.dispatch(ctx, c, data)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.Identity.UserID]
	if !ok {
		set = map[*Client]struct{}{}
		h.users[c.Identity.UserID] = set
	}
	set[c] = struct{}{}
	h.joined[c] = map[string]struct{}{}
}

// unregister drops every membership; rooms do not survive a reconnect.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sid := range h.joined[c] {
		h.leaveLocked(c, sid)
	}
	delete(h.joined, c)
	if set := h.users[c.Identity.UserID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.Identity.UserID)
		}
	}
}

// join subscribes c to the room. Joining the same room again is a no-op. A
// user connection follows one conversation at a time, so joining a new room
// leaves the previous one; admin connections may watch many.
func (h *Hub) join(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mine := h.joined[c]
	if mine == nil {
		return
	}
	if _, ok := mine[sessionID]; ok {
		return
	}
	if !c.Identity.IsAdmin() {
		for sid := range mine {
			h.leaveLocked(c, sid)
		}
	}
	room, ok := h.rooms[sessionID]
	if !ok {
		room = map[*Client]struct{}{}
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
	mine[sessionID] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, sessionID string) {
	if room := h.rooms[sessionID]; room != nil {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	delete(h.joined[c], sessionID)
}

func (h *Hub) isMember(c *Client, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[c][sessionID]
	return ok
}

// RoomSize reports the number of local subscribers of a session.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
