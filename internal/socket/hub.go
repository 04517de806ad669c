package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/corpusd/internal/conversation"
	"github.com/MikeSquared-Agency/corpusd/internal/processor"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Scanner runs a full corpus scan.
type Scanner interface {
	Scan(ctx context.Context, trigger string) (*conversation.Corpus, error)
	Root() string
}

// Generator converts a JSON payload into source text.
type Generator interface {
	Generate(ctx context.Context, payload any) (string, error)
}

// Hub manages editor connections and fans out file change notifications.
type Hub struct {
	scanner   Scanner
	generator Generator
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan Message
	stopped    chan struct{}

	watching atomic.Bool
}

// NewHub creates a hub. An empty allowedOrigins list accepts every origin.
// Entries match on scheme and host; ports are not compared.
func NewHub(scanner Scanner, generator Generator, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		scanner:    scanner,
		generator:  generator,
		logger:     logger,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message),
		stopped:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || sameHost(a, origin) {
				return true
			}
		}
		return false
	}
}

// sameHost reports whether origin has the scheme and host of allowed. Ports
// are ignored so an editor served from any local port can connect.
func sameHost(allowed, origin string) bool {
	if strings.EqualFold(allowed, origin) {
		return true
	}
	a, err := url.Parse(allowed)
	if err != nil {
		return false
	}
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return a.Hostname() != "" &&
		strings.EqualFold(a.Scheme, o.Scheme) &&
		strings.EqualFold(a.Hostname(), o.Hostname())
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("socket connection established", "client_id", c.id)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("socket disconnected", "client_id", c.id)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("socket client too slow, dropping", "client_id", c.id)
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c. Callers hold h.mu.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.done)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetWatching records whether the corpus root is being watched.
func (h *Hub) SetWatching(watching bool) {
	h.watching.Store(watching)
}

// State reports what an editor needs to know about this server.
func (h *Hub) State() CLIState {
	return CLIState{
		Root:     h.scanner.Root(),
		Watching: h.watching.Load(),
		Clients:  h.Clients(),
	}
}

// Broadcast sends msg to every connected client.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.stopped:
	}
}

// NotifyFileChanged tells every client that path changed on disk.
func (h *Hub) NotifyFileChanged(path string) {
	msg, err := newMessage(EventFileChanged, "", FileChanged{Path: path})
	if err != nil {
		h.logger.Error("failed to encode file change", "error", err)
		return
	}
	h.Broadcast(msg)
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		done:   make(chan struct{}),
		busy:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	select {
	case h.register <- c:
	case <-h.stopped:
		cancel()
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	done   chan struct{}
	busy   chan struct{} // held while a converter-backed request runs
	ctx    context.Context
	cancel context.CancelFunc
}

// enqueue queues msg for this client unless it has gone away.
func (c *client) enqueue(msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	case <-c.ctx.Done():
	}
}

func (c *client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("socket read failed", "client_id", c.id, "error", err)
			}
			return
		}
		// Requests run off the read loop so a long scan does not stall
		// pongs; converter work is still serialised per client by busy.
		go c.hub.handle(c, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// usesConverter reports whether handling event spawns converter processes.
func usesConverter(event string) bool {
	return event == EventRequestConversationData || event == EventConvertJSONToCML
}

func (h *Hub) handle(c *client, req Message) {
	if usesConverter(req.Event) {
		select {
		case c.busy <- struct{}{}:
			defer func() { <-c.busy }()
		case <-c.ctx.Done():
			return
		}
	}

	reply, err := h.dispatch(c.ctx, req)
	if err != nil {
		reply = errorMessage(req.ID, err)
	}
	c.enqueue(reply)
}

func (h *Hub) dispatch(ctx context.Context, req Message) (Message, error) {
	switch req.Event {
	case EventRequestConversationData:
		corpus, err := h.scanner.Scan(ctx, processor.TriggerSocket)
		if err != nil {
			return Message{}, err
		}
		return newMessage(EventConversationData, req.ID, corpus)

	case EventConvertJSONToCML:
		payload := req.Data
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		content, err := h.generator.Generate(ctx, payload)
		if err != nil {
			return Message{}, err
		}
		return newMessage(EventConvertJSONToCML, req.ID, ConvertResult{Content: content})

	case EventRequestCLIState:
		return newMessage(EventCLIState, req.ID, h.State())

	default:
		return Message{}, unknownEventError(req.Event)
	}
}
