package netio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"crux/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHub fans out the venue's commit-ordered event stream to every
// connected websocket subscriber, draining a ChannelSink on one
// goroutine and broadcasting to clients on their own write pumps.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	source  *events.ChannelSink
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates a hub that drains the given sink.
func NewEventHub(source *events.ChannelSink) *EventHub {
	return &EventHub{
		clients: make(map[*hubClient]struct{}),
		source:  source,
	}
}

// Run drains the event source and broadcasts to subscribers until the
// source channel closes.
func (h *EventHub) Run() {
	for evt := range h.source.Events() {
		h.broadcast(evt)
	}
}

func (h *EventHub) broadcast(evt events.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- body:
		default:
			log.Warn().Msg("subscriber too slow, dropping event for it")
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a subscriber.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

// ServeEventHub runs an HTTP server exposing hub on path until ctx is
// cancelled.
func ServeEventHub(ctx context.Context, address string, port int, path string, hub *EventHub) {
	mux := http.NewServeMux()
	mux.Handle(path, hub)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", address, port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info().Str("addr", srv.Addr).Str("path", path).Msg("event hub listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("event hub server failed")
	}
}

func (h *EventHub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump exists only to drain control frames and detect disconnects;
// the event stream is one-directional (clients never send commands over
// it — that's the TCP Server's job).
func (h *EventHub) readPump(c *hubClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
