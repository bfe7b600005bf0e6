// README: Websocket hub with named topics, per-client unicast, and an ordered outbox.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dispatch/internal/metrics"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from a different origin; sockets are authenticated by middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler receives the lifecycle and inbound frames of one connection.
// OnMessage calls for a client are sequential.
type Handler interface {
	OnOpen(c *Client)
	OnMessage(c *Client, msg Message)
	OnClose(c *Client)
}

type Client struct {
	ID     string
	Role   string
	UserID string
	// Query carries upgrade request parameters (e.g. initial location).
	Query map[string]string

	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	mu     sync.Mutex
	closed bool
}

type delivery struct {
	topic    string
	clientID string
	frame    []byte
}

// Hub fans frames out to clients. Publish and SendTo never block: frames go
// to an unbounded outbox drained by Run in enqueue order.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[string]map[string]*Client

	queueMu sync.Mutex
	queue   []delivery
	wake    chan struct{}

	log     logrus.FieldLogger
	metrics *metrics.Collector
}

func NewHub(log logrus.FieldLogger, m *metrics.Collector) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]*Client),
		wake:    make(chan struct{}, 1),
		log:     log,
		metrics: m,
	}
}

// Publish enqueues an event for every subscriber of topic.
func (h *Hub) Publish(topic, event string, data any) {
	frame, err := json.Marshal(Outbound{Event: event, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("ws: marshal broadcast")
		return
	}
	h.enqueue(delivery{topic: topic, frame: frame})
}

// SendTo enqueues an event for one client. Unknown clients are ignored.
func (h *Hub) SendTo(clientID, event string, data any) {
	h.reply(clientID, Outbound{Event: event, Data: data})
}

// Reply enqueues an acknowledgement for a client frame.
func (h *Hub) Reply(c *Client, msg Message, r Reply) {
	h.reply(c.ID, Outbound{Event: msg.Event, ID: msg.ID, Data: r})
}

func (h *Hub) reply(clientID string, out Outbound) {
	if clientID == "" {
		return
	}
	frame, err := json.Marshal(out)
	if err != nil {
		h.log.WithError(err).WithField("event", out.Event).Error("ws: marshal unicast")
		return
	}
	h.enqueue(delivery{clientID: clientID, frame: frame})
}

func (h *Hub) enqueue(d delivery) {
	h.queueMu.Lock()
	h.queue = append(h.queue, d)
	h.queueMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.wake:
			h.drain()
		}
	}
}

func (h *Hub) drain() {
	for {
		h.queueMu.Lock()
		batch := h.queue
		h.queue = nil
		h.queueMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, d := range batch {
			h.deliver(d)
		}
	}
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	var targets []*Client
	if d.topic != "" {
		for _, c := range h.topics[d.topic] {
			targets = append(targets, c)
		}
	} else if c, ok := h.clients[d.clientID]; ok {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(d.frame) {
			h.metrics.SocketDrop()
			h.log.WithFields(logrus.Fields{"client_id": c.ID, "role": c.Role}).Warn("ws: client too slow, closing")
			c.close()
		}
	}
}

// Subscribe adds a registered client to topic.
func (h *Hub) Subscribe(clientID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*Client)
		h.topics[topic] = subs
	}
	subs[clientID] = c
}

func (h *Hub) Connected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[clientID]
	return ok
}

// Serve upgrades the request and runs the connection until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, role, userID string, handler Handler) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	c := &Client{
		ID:     uuid.NewString(),
		Role:   role,
		UserID: userID,
		Query:  query,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    h,
	}
	h.register(c)
	handler.OnOpen(c)

	go c.writePump()
	c.readPump(handler)
	return nil
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.metrics.SocketOpened()
	h.log.WithFields(logrus.Fields{"client_id": c.ID, "role": c.Role, "user_id": c.UserID}).Info("ws: client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for _, subs := range h.topics {
		delete(subs, c.ID)
	}
	h.mu.Unlock()
	h.metrics.SocketClosed()
	h.log.WithFields(logrus.Fields{"client_id": c.ID, "role": c.Role, "user_id": c.UserID}).Info("ws: client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

// trySend reports false only when the client's buffer is full.
func (c *Client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(handler Handler) {
	defer func() {
		c.hub.unregister(c)
		c.close()
		_ = c.conn.Close()
		handler.OnClose(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithError(err).WithField("client_id", c.ID).Warn("ws: read failed")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
			c.hub.Reply(c, Message{Event: "error"}, Reply{Status: false, Message: "malformed message"})
			continue
		}
		handler.OnMessage(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
