// Package sim is a simulated market-data gateway for staging and tests. It
// serves the same HTTP routes and websocket stream the feed adapters talk
// to, with random-walk quotes and deterministic daily history.
package sim

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"stock-analyzerv1/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const dateLayout = "2006-01-02"

// Instrument is one simulated security.
type Instrument struct {
	Code  string  // "US.AAPL"
	Name  string  // display name served by the names route
	Price float64 // starting price
}

type instrument struct {
	Instrument
	bar model.PriceBar // today's forming candle
}

// Gateway simulates the market-data gateway.
type Gateway struct {
	mu          sync.Mutex
	instruments map[string]*instrument
	codes       []string
	rng         *rand.Rand
	tokens      map[string]bool
	now         func() time.Time

	clientsMu sync.RWMutex
	clients   map[*streamClient]struct{}

	// Password, when set, is required at login.
	Password string
}

// New creates a gateway for instruments. seed fixes the quote walk.
func New(instruments []Instrument, seed int64) *Gateway {
	g := &Gateway{
		instruments: make(map[string]*instrument, len(instruments)),
		rng:         rand.New(rand.NewSource(seed)),
		tokens:      make(map[string]bool),
		now:         time.Now,
		clients:     make(map[*streamClient]struct{}),
	}
	for _, in := range instruments {
		code := strings.ToUpper(in.Code)
		in.Code = code
		g.instruments[code] = &instrument{Instrument: in}
		g.codes = append(g.codes, code)
	}
	sort.Strings(g.codes)
	return g
}

// Handler serves the gateway routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session/login", g.login)
	mux.Handle("GET /api/v1/history/kline", g.authed(g.history))
	mux.Handle("GET /api/v1/reference/securities", g.authed(g.reference))
	mux.Handle("POST /api/v1/reference/names", g.authed(g.names))
	mux.HandleFunc("GET /api/v1/stream", g.stream)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "feedsim"})
	})
	return mux
}

// Run ticks every interval and pushes a candle every candleEvery ticks,
// until ctx is done.
func (g *Gateway) Run(ctx context.Context, interval time.Duration, candleEvery int) {
	if candleEvery <= 0 {
		candleEvery = 10
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick(n%candleEvery == 0)
		}
	}
}

// Tick moves every price one step and broadcasts the quotes, followed by
// the forming daily candles when withCandles is set.
func (g *Gateway) Tick(withCandles bool) {
	now := g.now().UTC()
	day := now.Truncate(24 * time.Hour)

	g.mu.Lock()
	frames := make([]frame, 0, 2*len(g.codes))
	for _, code := range g.codes {
		in := g.instruments[code]
		in.Price = walkPrice(g.rng, in.Price)

		if !in.bar.TS.Equal(day) {
			in.bar = model.PriceBar{TS: day, Open: in.Price, High: in.Price, Low: in.Price}
		}
		in.bar.Close = in.Price
		in.bar.High = math.Max(in.bar.High, in.Price)
		in.bar.Low = math.Min(in.bar.Low, in.Price)
		qty := int64(g.rng.Intn(100) + 1)
		in.bar.Volume += qty
		in.bar.Turnover += float64(qty) * in.Price

		frames = append(frames, frame{Type: "quote", Code: code, Price: in.Price, TS: now})
		if withCandles {
			bar := in.bar
			frames = append(frames, frame{Type: "candle", Code: code, Bar: &bar})
		}
	}
	g.mu.Unlock()

	for _, f := range frames {
		g.broadcast(f)
	}
}

// walkPrice applies a random walk of at most 0.1%.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := math.Round(price*(1+pct)*100) / 100
	if next < 0.01 {
		next = 0.01
	}
	return next
}

// ─── REST ─────────────────────────────────────────────────────────────────────

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientCode string `json:"clientcode"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": false, "message": "bad request"})
		return
	}
	if g.Password != "" && body.Password != g.Password {
		writeJSON(w, http.StatusOK, map[string]any{"status": false, "message": "invalid credentials"})
		return
	}
	token := uuid.NewString()
	g.mu.Lock()
	g.tokens[token] = true
	g.mu.Unlock()
	log.Printf("[feedsim] session for %q", body.ClientCode)
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "data": map[string]string{"token": token}})
}

func (g *Gateway) validToken(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens[token]
}

func (g *Gateway) authed(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.validToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	})
}

func (g *Gateway) lookup(code string) (Instrument, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.instruments[strings.ToUpper(code)]
	if !ok {
		return Instrument{}, false
	}
	return in.Instrument, true
}

func (g *Gateway) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in, ok := g.lookup(q.Get("code"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	start, err1 := time.Parse(dateLayout, q.Get("start"))
	end, err2 := time.Parse(dateLayout, q.Get("end"))
	if err1 != nil || err2 != nil || end.Before(start) {
		http.Error(w, "invalid date range", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bars": History(in, start, end)})
}

// History returns deterministic weekday bars for in over [start, end]. The
// same (code, day) always yields the same bar.
func History(in Instrument, start, end time.Time) []model.PriceBar {
	var bars []model.PriceBar
	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		rng := rand.New(rand.NewSource(daySeed(in.Code, d)))
		days := float64(d.Unix() / 86400)
		mid := in.Price * (1 + 0.08*math.Sin(days/9) + 0.02*(rng.Float64()-0.5))
		open := mid * (1 + 0.01*(rng.Float64()-0.5))
		cls := mid * (1 + 0.01*(rng.Float64()-0.5))
		vol := int64(1_000_000 + rng.Intn(500_000))
		bars = append(bars, model.PriceBar{
			SecurityID: in.Code,
			TS:         d,
			Open:       round2(open),
			Close:      round2(cls),
			High:       round2(math.Max(open, cls) * (1 + 0.005*rng.Float64())),
			Low:        round2(math.Min(open, cls) * (1 - 0.005*rng.Float64())),
			Volume:     vol,
			Turnover:   round2(float64(vol) * mid),
		})
	}
	return bars
}

func daySeed(code string, d time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(code))
	h.Write([]byte(d.Format(dateLayout)))
	return int64(h.Sum64() >> 1)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (g *Gateway) reference(w http.ResponseWriter, r *http.Request) {
	market := strings.ToUpper(r.URL.Query().Get("market"))
	g.mu.Lock()
	out := make([]model.SecurityInfo, 0)
	for _, code := range g.codes {
		if model.Market(code) != market {
			continue
		}
		in := g.instruments[code]
		out = append(out, model.SecurityInfo{
			SecurityID:  code,
			DisplayName: in.Name,
			LotSize:     100,
			Category:    "STOCK",
		})
	}
	g.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"securities": out})
}

func (g *Gateway) names(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Codes []string `json:"codes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	out := make(map[string]string, len(body.Codes))
	for _, code := range body.Codes {
		if in, ok := g.lookup(code); ok && in.Name != "" {
			out[in.Code] = in.Name
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"names": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ─── Stream ───────────────────────────────────────────────────────────────────

type frame struct {
	Type  string          `json:"type"`
	Code  string          `json:"code"`
	Price float64         `json:"price,omitempty"`
	TS    time.Time       `json:"ts"`
	Bar   *model.PriceBar `json:"bar,omitempty"`
}

type controlMsg struct {
	Action string   `json:"action"`
	Codes  []string `json:"codes"`
	Types  []string `json:"types"`
}

type streamClient struct {
	send chan []byte

	mu   sync.Mutex
	subs map[string]map[string]bool // code -> type
}

func (c *streamClient) wants(f frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[f.Code][f.Type]
}

func (c *streamClient) apply(msg controlMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range msg.Codes {
		code = strings.ToUpper(code)
		if c.subs[code] == nil {
			c.subs[code] = make(map[string]bool)
		}
		for _, typ := range msg.Types {
			c.subs[code][typ] = msg.Action == "subscribe"
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func (g *Gateway) stream(w http.ResponseWriter, r *http.Request) {
	if !g.validToken(r.URL.Query().Get("token")) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[feedsim] upgrade error: %v", err)
		return
	}
	c := &streamClient{send: make(chan []byte, 256), subs: make(map[string]map[string]bool)}
	g.clientsMu.Lock()
	g.clients[c] = struct{}{}
	g.clientsMu.Unlock()
	log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

	go func() {
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				return
			}
		}
	}()

	defer func() {
		g.clientsMu.Lock()
		delete(g.clients, c)
		close(c.send)
		g.clientsMu.Unlock()
		conn.Close()
		log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
	}()

	for {
		var msg controlMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		c.apply(msg)
	}
}

func (g *Gateway) broadcast(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	g.clientsMu.RLock()
	defer g.clientsMu.RUnlock()
	for c := range g.clients {
		if !c.wants(f) {
			continue
		}
		select {
		case c.send <- data:
		default: // slow client, drop
		}
	}
}

// ClientCount returns the number of connected stream clients.
func (g *Gateway) ClientCount() int {
	g.clientsMu.RLock()
	defer g.clientsMu.RUnlock()
	return len(g.clients)
}
