package model

import (
	"encoding/json"
	"strings"
	"time"
)

// PriceBar is one OHLCV record for a security over one interval (daily by default).
// Natural key is (SecurityID, TS).
type PriceBar struct {
	SecurityID string    `json:"code"`
	TS         time.Time `json:"time"` // interval start (UTC)
	Open       float64   `json:"open"`
	Close      float64   `json:"close"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Volume     int64     `json:"volume"`
	Turnover   float64   `json:"turnover"`
}

// Key returns "security_id:timestamp", unique per stored row.
func (b *PriceBar) Key() string {
	return b.SecurityID + ":" + b.TS.UTC().Format(time.RFC3339)
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *PriceBar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// Closes extracts the close prices of bars in order.
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// Market returns the market prefix of a security id ("US.AAPL" -> "US").
// Returns "" if the id has no market prefix.
func Market(securityID string) string {
	i := strings.IndexByte(securityID, '.')
	if i <= 0 {
		return ""
	}
	return securityID[:i]
}

// ValidSecurityID reports whether id has the MARKET.CODE form.
func ValidSecurityID(id string) bool {
	i := strings.IndexByte(id, '.')
	if i <= 0 || i == len(id)-1 {
		return false
	}
	return !strings.ContainsAny(id, " \t\r\n:")
}
