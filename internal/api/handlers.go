package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"stock-analyzerv1/internal/model"
)

type stocksRequest struct {
	Stocks []string `json:"stocks"`
}

func (rt *router) getStocks(w http.ResponseWriter, r *http.Request) {
	ok(w, rt.deps.Query.Tracked())
}

func (rt *router) updateStocks(w http.ResponseWriter, r *http.Request) {
	var req stocksRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if len(req.Stocks) == 0 {
		badRequest(w, "stocks must not be empty")
		return
	}
	success, msg := rt.deps.Query.UpdateTracked(req.Stocks)
	if !success {
		writeJSON(w, http.StatusBadRequest, Envelope{Message: msg})
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: msg, Data: rt.deps.Query.Tracked()})
}

func (rt *router) stockData(w http.ResponseWriter, r *http.Request) {
	code, okCode := codeParam(w, r)
	if !okCode {
		return
	}
	days, okDays := daysParam(w, r)
	if !okDays {
		return
	}
	res, err := rt.deps.Query.GetBars(r.Context(), code, days)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func (rt *router) stockAnalysis(w http.ResponseWriter, r *http.Request) {
	code, okCode := codeParam(w, r)
	if !okCode {
		return
	}
	days, okDays := daysParam(w, r)
	if !okDays {
		return
	}
	rep, err := rt.deps.Query.GetSnapshotAnalysis(r.Context(), code, days)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, rep)
}

func (rt *router) storedStocks(w http.ResponseWriter, r *http.Request) {
	sum, err := rt.deps.Query.GetTrackedSummary(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, sum)
}

func (rt *router) stockAllData(w http.ResponseWriter, r *http.Request) {
	code, okCode := codeParam(w, r)
	if !okCode {
		return
	}
	h, err := rt.deps.Query.GetFullHistory(r.Context(), code)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, h)
}

func (rt *router) realtimeAnalysis(w http.ResponseWriter, r *http.Request) {
	code, okCode := codeParam(w, r)
	if !okCode {
		return
	}
	ra, err := rt.deps.Query.GetRealtimeAnalysis(r.Context(), code)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, ra)
}

func (rt *router) rankedStocks(w http.ResponseWriter, r *http.Request) {
	list, err := rt.deps.Query.GetRankedList(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]any{
		"stocks":     list,
		"updated_at": time.Now().UTC(),
	})
}

func (rt *router) stockNames(w http.ResponseWriter, r *http.Request) {
	var codes []string
	for _, c := range strings.Split(r.URL.Query().Get("codes"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if len(codes) == 0 {
		badRequest(w, "missing required parameter: codes")
		return
	}
	for _, c := range codes {
		if !model.ValidSecurityID(c) {
			badRequest(w, "invalid security code: "+c)
			return
		}
	}
	names, err := rt.deps.Query.Names(r.Context(), codes)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, names)
}

func (rt *router) health(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if rt.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now().UTC()})
		return
	}
	report, code := rt.deps.Health.Report()
	writeJSON(w, code, map[string]any{"status": report.Status, "timestamp": time.Now().UTC(), "detail": report})
}

func (rt *router) info(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	now := time.Now()
	markets := make(map[string]string, len(rt.deps.Sessions))
	for _, s := range rt.deps.Sessions {
		markets[s.Market] = s.StatusString(now)
	}
	tracked := rt.deps.Query.Tracked()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":                 "stock-analyzer",
		"version":              Version,
		"api_version":          Version,
		"tracked_stocks_count": len(tracked),
		"tracked_stocks":       tracked,
		"markets":              markets,
	})
}
