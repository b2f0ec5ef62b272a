// Package rest is the request/response side of the quote feed adapter: a
// client for the market-data gateway's HTTP API (session login, historical
// bars, reference data, name lookup).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"stock-analyzerv1/internal/model"

	"github.com/pquerna/otp/totp"
)

var routes = map[string]string{
	"api.login":     "/api/v1/session/login",
	"api.history":   "/api/v1/history/kline",
	"api.reference": "/api/v1/reference/securities",
	"api.names":     "/api/v1/reference/names",
}

const dateLayout = "2006-01-02"

// Config holds gateway credentials and endpoints.
type Config struct {
	BaseURL    string // e.g. "http://localhost:11111"
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string // optional; when set a TOTP code is sent on login
	Timeout    time.Duration
}

// Client talks to the market-data gateway. It satisfies model.HistoryFeed.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time

	mu    sync.RWMutex
	token string
}

// New creates a gateway client. No network call is made until Connect.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

type loginResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Connect logs in and stores the session token. Any failure is ErrFeedUnavailable.
func (c *Client) Connect(ctx context.Context) error {
	params := map[string]any{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
	}
	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
		if err != nil {
			return model.FeedUnavailable(fmt.Errorf("totp: %w", err))
		}
		params["totp"] = code
	}

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "api.login", nil, params, &resp); err != nil {
		return model.FeedUnavailable(fmt.Errorf("login: %w", err))
	}
	if !resp.Status || resp.Data.Token == "" {
		return model.FeedUnavailable(fmt.Errorf("login rejected: %s", resp.Message))
	}

	c.mu.Lock()
	c.token = resp.Data.Token
	c.mu.Unlock()
	log.Printf("[feed-rest] session established for %s", c.cfg.ClientCode)
	return nil
}

// Token returns the current session token, logging in first if needed.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok != "" {
		return tok, nil
	}
	if err := c.Connect(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, nil
}

type historyResponse struct {
	Bars []model.PriceBar `json:"bars"`
}

// RequestHistory returns daily bars in [start, end], ascending by time.
func (c *Client) RequestHistory(ctx context.Context, securityID string, start, end time.Time) ([]model.PriceBar, error) {
	q := url.Values{}
	q.Set("code", securityID)
	q.Set("start", start.Format(dateLayout))
	q.Set("end", end.Format(dateLayout))
	q.Set("ktype", "K_DAY")

	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, "api.history", q, nil, &resp); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("history %s: %w", securityID, err)
	}

	bars := resp.Bars
	for i := range bars {
		bars[i].SecurityID = securityID
		bars[i].TS = bars[i].TS.UTC()
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	return bars, nil
}

type referenceResponse struct {
	Securities []model.SecurityInfo `json:"securities"`
}

// ReferenceInfo returns the security metadata rows of a market.
func (c *Client) ReferenceInfo(ctx context.Context, market string) ([]model.SecurityInfo, error) {
	q := url.Values{}
	q.Set("market", market)

	var resp referenceResponse
	if err := c.do(ctx, http.MethodGet, "api.reference", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("reference %s: %w", market, err)
	}
	now := c.now().UTC()
	for i := range resp.Securities {
		resp.Securities[i].LastUpdated = now
	}
	return resp.Securities, nil
}

type namesResponse struct {
	Names map[string]string `json:"names"`
}

// Names resolves display names for ids. Unknown ids are omitted.
func (c *Client) Names(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var resp namesResponse
	if err := c.do(ctx, http.MethodPost, "api.names", nil, map[string]any{"codes": ids}, &resp); err != nil {
		return nil, fmt.Errorf("names: %w", err)
	}
	if resp.Names == nil {
		resp.Names = map[string]string{}
	}
	return resp.Names, nil
}

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-PrivateKey", c.cfg.APIKey)
	c.mu.RLock()
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()
	return h
}

// do performs one request and decodes a JSON body into out.
// Network errors, 401/403 and 5xx map to ErrFeedUnavailable; 404 to ErrNotFound.
func (c *Client) do(ctx context.Context, method, route string, query url.Values, params map[string]any, out any) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("unknown route: %s", route)
	}
	reqURL := c.cfg.BaseURL + uri
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	req.Header = c.requestHeaders()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.FeedUnavailable(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.FeedUnavailable(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return model.FeedUnavailable(fmt.Errorf("%s: status %d", route, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", route, model.ErrNotFound)
	case resp.StatusCode >= 500:
		return model.FeedUnavailable(fmt.Errorf("%s: status %d", route, resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s: status %d: %s", route, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("couldn't parse JSON response: %w", err)
	}
	return nil
}
