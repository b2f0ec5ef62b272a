// Package ws is the streaming side of the quote feed adapter. It keeps a
// websocket session to the market-data gateway open, re-sends the active
// subscription set after every reconnect, and pushes decoded quote and
// candle events onto a feed.Queue.
//
// Wire format (server -> client):
//
//	{"type":"quote","code":"US.AAPL","price":189.52,"ts":"2026-03-02T15:04:05Z"}
//	{"type":"candle","code":"US.AAPL","bar":{"time":"...","open":1,"close":2,"high":3,"low":0.5,"volume":10,"turnover":20}}
//
// Client -> server:
//
//	{"action":"subscribe","codes":["US.AAPL"],"types":["quote","candle"]}
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"stock-analyzerv1/internal/feed"
	"stock-analyzerv1/internal/model"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the streaming client.
type Config struct {
	// URL of the gateway stream endpoint, e.g. "ws://localhost:9001/stream"
	URL string

	// TokenSource returns the session token appended as ?token=. Optional.
	TokenSource func(ctx context.Context) (string, error)

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

type kindMask uint8

func maskOf(kinds []model.EventKind) kindMask {
	var m kindMask
	for _, k := range kinds {
		m |= 1 << uint(k)
	}
	return m
}

func (m kindMask) has(k model.EventKind) bool { return m&(1<<uint(k)) != 0 }

func (m kindMask) names() []string {
	var out []string
	for _, k := range []model.EventKind{model.EventQuote, model.EventCandle} {
		if m.has(k) {
			out = append(out, k.String())
		}
	}
	return out
}

type controlMsg struct {
	Action string   `json:"action"`
	Codes  []string `json:"codes"`
	Types  []string `json:"types"`
}

type frame struct {
	Type  string          `json:"type"`
	Code  string          `json:"code"`
	Price float64         `json:"price"`
	TS    time.Time       `json:"ts"`
	Bar   *model.PriceBar `json:"bar"`
}

// Stream is the websocket client. Subscribe/Unsubscribe are safe to call
// from any goroutine, before or after Run.
type Stream struct {
	cfg   Config
	queue *feed.Queue

	mu   sync.Mutex
	subs map[string]kindMask
	conn *websocket.Conn

	writeMu sync.Mutex

	// Optional hooks.
	OnReconnect func()
	OnConnected func(connected bool)
}

// New creates a Stream. Returns an error if the URL is unparseable.
func New(cfg Config, q *feed.Queue) (*Stream, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errors.New("ws: nil queue")
	}
	return &Stream{cfg: cfg, queue: q, subs: make(map[string]kindMask)}, nil
}

// Subscribe adds (ids x kinds) to the active set and sends the request if connected.
func (s *Stream) Subscribe(ids []string, kinds []model.EventKind) error {
	m := maskOf(kinds)
	s.mu.Lock()
	for _, id := range ids {
		s.subs[id] |= m
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.send(conn, controlMsg{Action: "subscribe", Codes: ids, Types: m.names()})
}

// Unsubscribe removes (ids x kinds) from the active set.
func (s *Stream) Unsubscribe(ids []string, kinds []model.EventKind) error {
	m := maskOf(kinds)
	s.mu.Lock()
	for _, id := range ids {
		left := s.subs[id] &^ m
		if left == 0 {
			delete(s.subs, id)
		} else {
			s.subs[id] = left
		}
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.send(conn, controlMsg{Action: "unsubscribe", Codes: ids, Types: m.names()})
}

// Subscriptions returns the sorted ids of the active subscription set.
func (s *Stream) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Run connects and streams events into the queue. Blocks until ctx is
// cancelled. Reconnects with exponential backoff on disconnect.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := s.runOnce(ctx)
		if err == nil {
			return nil
		}
		if connected {
			delay = s.cfg.ReconnectDelay
		}

		log.Printf("[feed-ws] disconnected (%v), reconnecting in %s...", err, delay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *Stream) dialURL(ctx context.Context) (string, error) {
	if s.cfg.TokenSource == nil {
		return s.cfg.URL, nil
	}
	token, err := s.cfg.TokenSource(ctx)
	if err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runOnce makes a single connection attempt and reads until disconnect or ctx cancel.
// connected reports whether the dial succeeded, so backoff can be reset.
func (s *Stream) runOnce(ctx context.Context) (connected bool, err error) {
	target, err := s.dialURL(ctx)
	if err != nil {
		return false, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[feed-ws] connected to %s", s.cfg.URL)
	s.setConn(conn)
	defer s.setConn(nil)

	if err := s.resubscribe(conn); err != nil {
		return true, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			s.writeMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		ev, ok := s.decode(raw)
		if !ok {
			continue
		}
		if s.queue.Push(ev) {
			log.Printf("[feed-ws] queue full, evicted oldest event")
		}
	}
}

func (s *Stream) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	if s.OnConnected != nil {
		s.OnConnected(conn != nil)
	}
}

// resubscribe sends one subscribe message per distinct kind set.
func (s *Stream) resubscribe(conn *websocket.Conn) error {
	s.mu.Lock()
	groups := make(map[kindMask][]string)
	for id, m := range s.subs {
		groups[m] = append(groups[m], id)
	}
	s.mu.Unlock()

	for m, ids := range groups {
		sort.Strings(ids)
		if err := s.send(conn, controlMsg{Action: "subscribe", Codes: ids, Types: m.names()}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) send(conn *websocket.Conn, msg controlMsg) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

// decode turns a raw frame into an event for a subscribed (id, kind).
func (s *Stream) decode(raw []byte) (model.Event, bool) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Printf("[feed-ws] parse error: %v (raw: %s)", err, raw)
		return model.Event{}, false
	}

	kind, err := model.ParseEventKind(f.Type)
	if err != nil {
		return model.Event{}, false
	}
	if f.Code == "" && f.Bar != nil {
		f.Code = f.Bar.SecurityID
	}
	f.Code = strings.TrimSpace(f.Code)

	s.mu.Lock()
	m, subscribed := s.subs[f.Code]
	s.mu.Unlock()
	if !subscribed || !m.has(kind) {
		return model.Event{}, false
	}

	ev := model.Event{Kind: kind, SecurityID: f.Code, ReceivedAt: time.Now()}
	switch kind {
	case model.EventQuote:
		if f.Price <= 0 || f.TS.IsZero() {
			log.Printf("[feed-ws] skipping malformed quote for %s", f.Code)
			return model.Event{}, false
		}
		ev.Price = f.Price
		ev.TS = f.TS.UTC()
	case model.EventCandle:
		if f.Bar == nil || f.Bar.TS.IsZero() {
			log.Printf("[feed-ws] skipping malformed candle for %s", f.Code)
			return model.Event{}, false
		}
		ev.Bar = *f.Bar
		ev.Bar.SecurityID = f.Code
		ev.Bar.TS = ev.Bar.TS.UTC()
		ev.TS = ev.Bar.TS
		ev.Price = ev.Bar.Close
	}
	return ev, true
}
