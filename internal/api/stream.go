package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redisstore "stock-analyzerv1/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

type latestEntry struct {
	Data json.RawMessage
	Seq  int64
}

// Hub relays realtime cache updates to websocket clients. Every update is
// wrapped in an envelope carrying a per-security sequence number; clients
// that reconnect with since_seq receive what they missed from a replay
// buffer.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	latest  map[string]latestEntry
	seqs    map[string]int64
	replay  map[string]*ReplayBuffer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		latest:  make(map[string]latestEntry),
		seqs:    make(map[string]int64),
		replay:  make(map[string]*ReplayBuffer),
	}
}

// RunRedis relays every message on the realtime PubSub pattern until ctx is
// cancelled.
func (h *Hub) RunRedis(ctx context.Context, rdb *goredis.Client) {
	pubsub := rdb.PSubscribe(ctx, redisstore.PubSubPattern)
	defer pubsub.Close()
	log.Printf("[stream] relaying %s", redisstore.PubSubPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			code := strings.TrimPrefix(msg.Channel, "pub:rt:")
			h.Broadcast(code, []byte(msg.Payload))
		}
	}
}

// Broadcast sends data for code to every client watching it.
func (h *Hub) Broadcast(code string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.seqs[code]++
	seq := h.seqs[code]
	h.latest[code] = latestEntry{Data: data, Seq: seq}
	rb, exists := h.replay[code]
	if !exists {
		rb = NewReplayBuffer(256)
		h.replay[code] = rb
	}
	h.mu.Unlock()

	buf := make([]byte, 0, len(code)+len(data)+96)
	buf = append(buf, `{"code":"`...)
	buf = append(buf, code...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	rb.Push(seq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.watches(code) {
			continue
		}
		select {
		case c.send <- buf:
		default: // slow client; it catches up with since_seq
		}
	}
}

// Since returns the buffered envelopes for code with seq > after.
func (h *Hub) Since(code string, after int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replay[code]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(after+1, 1<<62)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// Seq returns the current sequence number for code.
func (h *Hub) Seq(code string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seqs[code]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers a client. Query parameters:
// codes (comma-separated filter, empty for all) and since_seq (replay
// buffered updates with a higher sequence for each watched code).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] ws upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 256), hub: h}
	c.setCodes(splitCodes(r.URL.Query().Get("codes")))

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[stream] client connected (%d total)", count)

	since := int64(-1)
	if v := r.URL.Query().Get("since_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}
	c.sendInitial(since)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func splitCodes(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// client is one websocket peer.
type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu    sync.RWMutex
	codes map[string]bool // nil watches everything
}

func (c *client) setCodes(codes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(codes) == 0 {
		c.codes = nil
		return
	}
	c.codes = make(map[string]bool, len(codes))
	for _, code := range codes {
		c.codes[code] = true
	}
}

func (c *client) watches(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.codes == nil || c.codes[code]
}

// sendInitial queues the latest update of each watched code, or the replay
// since the given sequence when since >= 0.
func (c *client) sendInitial(since int64) {
	c.hub.mu.RLock()
	codes := make([]string, 0, len(c.hub.latest))
	for code := range c.hub.latest {
		if c.watches(code) {
			codes = append(codes, code)
		}
	}
	c.hub.mu.RUnlock()

	for _, code := range codes {
		if since >= 0 {
			for _, env := range c.hub.Since(code, since) {
				c.queue(env)
			}
			continue
		}
		c.hub.mu.RLock()
		e := c.hub.latest[code]
		c.hub.mu.RUnlock()
		env, _ := json.Marshal(map[string]any{
			"code":    code,
			"data":    e.Data,
			"seq":     e.Seq,
			"initial": true,
		})
		c.queue(env)
	}
}

func (c *client) queue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles {"type":"SUBSCRIBE","codes":[...]} filter changes and
// {"ping":n} keepalives.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		log.Println("[stream] client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type  string   `json:"type"`
			Codes []string `json:"codes"`
			Ping  int64    `json:"ping"`
		}
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		switch {
		case msg.Type == "SUBSCRIBE":
			c.setCodes(msg.Codes)
		case msg.Ping > 0:
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.queue(pong)
		}
	}
}
