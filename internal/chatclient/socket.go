package chatclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/rental-chat/internal/chatsync"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// Handler receives connection lifecycle and inbound events. *chatsync.Controller
// satisfies it.
type Handler interface {
	Connected(ctx context.Context) error
	Disconnected()
	HandleEvent(ctx context.Context, ev protocol.Event)
}

var _ Handler = (*chatsync.Controller)(nil)

// Socket is a self-healing websocket connection to /chat/ws. Send fails with
// chatsync.ErrNotConnected while it is down.
type Socket struct {
	URL          string
	Header       http.Header
	Dialer       *websocket.Dialer
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	log zerolog.Logger
}

var _ chatsync.Transport = (*Socket)(nil)

func NewSocket(wsURL, token string) *Socket {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return &Socket{
		URL:          wsURL,
		Header:       h,
		Dialer:       websocket.DefaultDialer,
		MinBackoff:   500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
		WriteTimeout: 10 * time.Second,
		log:          log.With().Str("component", "chatclient").Logger(),
	}
}

func (s *Socket) Send(ctx context.Context, ev protocol.Event) error {
	b, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return chatsync.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline := time.Now().Add(s.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Wrapf(err, "write %s", ev.Kind())
	}
	return nil
}

// Run dials, feeds h until the connection drops, then redials with capped
// exponential backoff. It returns when ctx is done.
func (s *Socket) Run(ctx context.Context, h Handler) error {
	backoff := s.MinBackoff
	for {
		conn, _, err := s.Dialer.DialContext(ctx, s.URL, s.Header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, s.MaxBackoff)
			continue
		}
		backoff = s.MinBackoff

		s.serve(ctx, conn, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func (s *Socket) serve(ctx context.Context, conn *websocket.Conn, h Handler) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	defer func() {
		stop()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
		h.Disconnected()
	}()

	s.log.Info().Str("url", s.URL).Msg("connected")
	if err := h.Connected(ctx); err != nil {
		s.log.Warn().Err(err).Msg("resume after connect")
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("connection lost")
			}
			return
		}
		ev, err := protocol.Decode(frame)
		if err != nil {
			s.log.Debug().Err(err).Msg("ignoring frame")
			continue
		}
		h.HandleEvent(ctx, ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
