package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	applogger "StockSense/pkg/logger"
	"StockSense/pkg/util"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("prediction hub closed")

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	tickers map[string]struct{}
}

func (c *client) wants(ticker string) bool {
	if len(c.tickers) == 0 {
		return true
	}
	_, ok := c.tickers[ticker]
	return ok
}

type message struct {
	ticker  string
	payload []byte
}

// Hub streams published predictions to websocket subscribers. Subscribers may
// narrow the stream with ?tickers=AAPL,MSFT. Slow subscribers are dropped.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	closeOnce  sync.Once
	upgrader   websocket.Upgrader
	l          *applogger.Logger
}

var _ domrepo.PredictionPublisher = (*Hub)(nil)

// NewHub creates a hub. allowedOrigins empty accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, v := range allowed {
			if strings.TrimSpace(v) == origin {
				return true
			}
		}
		return false
	}
}

// SetLogger injects a structured logger.
func (h *Hub) SetLogger(l *applogger.Logger) { h.l = l }

// RegisterRoutes mounts GET /ws/predictions.
func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/predictions", h.Serve)
}

// Run dispatches messages until ctx is done or Close is called.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		_ = h.Close()
		h.dropAll()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(m.ticker) {
					continue
				}
				select {
				case c.send <- m.payload:
				default:
					close(c.send)
					delete(h.clients, c)
					if h.l != nil {
						h.l.Warn("ws.hub slow subscriber dropped")
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues p for every interested subscriber.
func (h *Hub) Publish(ctx context.Context, p *models.PredictionResult) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message{ticker: p.Ticker, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops Run and disconnects subscribers.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// Serve upgrades the request and attaches a subscriber.
func (h *Hub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		if h.l != nil {
			h.l.Warn("ws.upgrade failed", applogger.Error(err))
		}
		// Upgrade already wrote the HTTP error
		return nil
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if ts := util.NormalizeTickers(c.QueryParam("tickers")); len(ts) > 0 {
		cl.tickers = make(map[string]struct{}, len(ts))
		for _, t := range ts {
			cl.tickers[t] = struct{}{}
		}
	}

	select {
	case h.register <- cl:
	case <-h.done:
		_ = conn.Close()
		return nil
	}
	if h.l != nil {
		h.l.Debug("ws.subscriber connected", applogger.String("remote", c.RealIP()), applogger.Int("tickers", len(cl.tickers)))
	}

	go h.writePump(cl)
	go h.readPump(cl)
	return nil
}

// readPump drains control frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
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
