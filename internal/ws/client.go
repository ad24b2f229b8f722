package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/config"
	"github.com/pliu/pairchat/internal/store"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests and binds each socket to a chat session.
type Handler struct {
	Registry *chat.Registry
	Store    store.Store
	Cfg      *config.Config
}

// Client is the transport-side connection handle. It satisfies chat.Conn:
// Send enqueues without blocking, and a full or closed channel surfaces as
// an error instead of stalling the coordinator.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	sess := chat.NewSession(h.Registry, h.Store, client, h.Cfg.HistoryLimit)

	go h.writePump(client)
	sess.Start()
	go h.readPump(sess, client)
}

func (h *Handler) readPump(sess *chat.Session, c *Client) {
	defer func() {
		sess.Close()
		c.close()
		_ = c.conn.Close()
	}()

	pongWait := h.Cfg.PingPeriod * 10 / 9
	c.conn.SetReadLimit(h.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "ws").Msg("readPump read error")
			}
			return
		}
		sess.HandleFrame(data)
	}
}

func (h *Handler) writePump(c *Client) {
	ticker := time.NewTicker(h.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump write error")
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
