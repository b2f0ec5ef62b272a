// Package indicator computes technical indicators over price bars and derives
// advisory recommendations from them.
//
// Streaming primitives (SMA, EMA, RSI, MACD) are fed one close at a time.
// Compute runs them over an ordered bar sequence to build an Analysis;
// Recommend turns an Analysis into a batch Recommendation. Level and
// RealtimeRecommendation work from a latest price and a cached MA set.
package indicator

import "stock-analyzerv1/internal/model"

// Indicator is the interface for streaming indicators over close prices.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "RSI_14").
	Name() string

	// Update feeds the next close price.
	Update(price float64)

	// Value returns the current value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Opt returns the current value, absent while not ready.
	Opt() model.Opt

	// Reset clears state for reuse.
	Reset()
}
