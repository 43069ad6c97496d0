package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/rental-chat/internal/auth"
)

// Conn is the subset of *websocket.Conn the hub uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one authenticated websocket connection.
type Client struct {
	ID       string
	Identity auth.Identity

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newClient(conn Conn, ident auth.Identity, buffer int, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:       id,
		Identity: ident,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		log: logger.With().
			Str("conn_id", id).
			Uint64("user_id", ident.UserID).
			Str("role", ident.Role).
			Logger(),
	}
}

// enqueue never blocks. A client whose buffer is full is too slow to keep the
// ordering contract and is dropped; it will reconcile on reconnect.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn().Msg("ws send buffer full, dropping connection")
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) writePump(pingInterval, writeTimeout time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("ws write failed")
				c.close()
				return
			}
		case <-tick:
			if writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ws ping failed")
				c.close()
				return
			}
		}
	}
}
