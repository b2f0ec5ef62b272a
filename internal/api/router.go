// Package api is the HTTP shim over the query surface: JSON endpoints with a
// {success, message, data} envelope plus a websocket relay of realtime
// cache updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stock-analyzerv1/internal/analysis"
	"stock-analyzerv1/internal/markethours"
	"stock-analyzerv1/internal/metrics"
	"stock-analyzerv1/internal/model"
)

const Version = "1.0.0"

// Querier is the query surface served over HTTP.
type Querier interface {
	GetBars(ctx context.Context, code string, days int) (analysis.BarsResult, error)
	GetSnapshotAnalysis(ctx context.Context, code string, days int) (analysis.Report, error)
	GetTrackedSummary(ctx context.Context) (analysis.TrackedSummary, error)
	GetFullHistory(ctx context.Context, code string) (analysis.FullHistory, error)
	GetRealtimeAnalysis(ctx context.Context, code string) (analysis.RealtimeAnalysis, error)
	GetRankedList(ctx context.Context) ([]model.RankedSecurity, error)
	Tracked() []string
	UpdateTracked(codes []string) (bool, string)
	Names(ctx context.Context, codes []string) (map[string]string, error)
}

// Deps are the collaborators of the router. Hub, Health, Metrics and
// Sessions are optional.
type Deps struct {
	Query    Querier
	Hub      *Hub
	Health   *metrics.HealthStatus
	Metrics  *metrics.Metrics
	Sessions []*markethours.Session
	APIKey   string // X-API-Key required when set
}

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type router struct {
	deps Deps
}

// NewRouter registers every route on a new mux.
func NewRouter(deps Deps) *http.ServeMux {
	rt := &router{deps: deps}
	mux := http.NewServeMux()

	rt.handle(mux, "GET /api/stocks", rt.getStocks)
	rt.handle(mux, "POST /api/stocks", rt.updateStocks)
	rt.handle(mux, "GET /api/stock_data", rt.stockData)
	rt.handle(mux, "GET /api/stock_analysis", rt.stockAnalysis)
	rt.handle(mux, "GET /api/stored_stocks", rt.storedStocks)
	rt.handle(mux, "GET /api/stock_all_data", rt.stockAllData)
	rt.handle(mux, "GET /api/realtime_analysis", rt.realtimeAnalysis)
	rt.handle(mux, "GET /api/ranked_stocks", rt.rankedStocks)
	rt.handle(mux, "GET /api/stock_names", rt.stockNames)
	if deps.Hub != nil {
		mux.Handle("GET /api/stream", rt.auth(http.HandlerFunc(deps.Hub.ServeWS)))
	}
	mux.HandleFunc("GET /health", rt.health)
	mux.HandleFunc("GET /info", rt.info)
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// handle wraps h with CORS, API-key auth and request metrics.
func (rt *router) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	route := pattern[strings.IndexByte(pattern, ' ')+1:]
	mux.Handle(pattern, rt.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		setCORS(rec)
		h(rec, r)
		if m := rt.deps.Metrics; m != nil {
			m.APIRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
			m.APILatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})))
}

func (rt *router) auth(next http.Handler) http.Handler {
	if rt.deps.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key") // browsers cannot set headers on websocket upgrades
		}
		if key != rt.deps.APIKey {
			writeJSON(w, http.StatusUnauthorized, Envelope{Message: "invalid or missing API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// fail maps the error taxonomy onto HTTP status codes.
func fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidSecurity):
		code = http.StatusBadRequest
	case errors.Is(err, model.ErrTransient), errors.Is(err, model.ErrFeedUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		log.Printf("[api] internal error: %v", err)
	}
	writeJSON(w, code, Envelope{Message: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, Envelope{Message: msg})
}

// codeParam returns the required "code" query parameter.
func codeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		badRequest(w, "missing required parameter: code")
		return "", false
	}
	return code, true
}

// daysParam returns "days", defaulting to 30.
func daysParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("days")
	if v == "" {
		return 30, true
	}
	days, err := strconv.Atoi(v)
	if err != nil || days <= 0 {
		badRequest(w, "days must be a positive integer")
		return 0, false
	}
	return days, true
}
