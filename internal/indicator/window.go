package indicator

import (
	"sort"
	"time"

	"stock-analyzerv1/internal/model"
)

// Window is a bounded, time-ordered bar window for one security, fed by the
// live path. At most one bar exists per timestamp.
// Not safe for concurrent use; each security's window is owned by one worker.
type Window struct {
	max  int
	bars []model.PriceBar
}

// NewWindow creates a window holding at most max bars.
func NewWindow(max int) *Window {
	return &Window{max: max, bars: make([]model.PriceBar, 0, max)}
}

// Seed replaces the window contents with bars (sorted, de-duplicated, trimmed).
func (w *Window) Seed(bars []model.PriceBar) {
	w.bars = w.bars[:0]
	for _, b := range bars {
		w.Upsert(b)
	}
}

// Upsert inserts bar or replaces the bar with the same timestamp.
// Returns false if the window is full and bar is older than all held bars.
func (w *Window) Upsert(bar model.PriceBar) bool {
	i := sort.Search(len(w.bars), func(i int) bool { return !w.bars[i].TS.Before(bar.TS) })
	if i < len(w.bars) && w.bars[i].TS.Equal(bar.TS) {
		w.bars[i] = bar
		return true
	}
	if len(w.bars) >= w.max && i == 0 {
		return false
	}

	w.bars = append(w.bars, model.PriceBar{})
	copy(w.bars[i+1:], w.bars[i:])
	w.bars[i] = bar

	if len(w.bars) > w.max {
		w.bars = append(w.bars[:0], w.bars[1:]...)
	}
	return true
}

// ApplyQuote folds a live price into the bar for bucket: the last bar is
// updated in place when it has the same timestamp, a provisional bar is
// appended for a newer bucket. Quotes for older buckets are rejected.
func (w *Window) ApplyQuote(securityID string, price float64, bucket time.Time) bool {
	if n := len(w.bars); n > 0 {
		last := &w.bars[n-1]
		switch {
		case last.TS.Equal(bucket):
			last.Close = price
			if price > last.High {
				last.High = price
			}
			if price < last.Low || last.Low == 0 {
				last.Low = price
			}
			return true
		case bucket.Before(last.TS):
			return false
		}
	}
	return w.Upsert(model.PriceBar{
		SecurityID: securityID,
		TS:         bucket,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
	})
}

// Bars returns a copy of the window, ascending by time.
func (w *Window) Bars() []model.PriceBar {
	out := make([]model.PriceBar, len(w.bars))
	copy(out, w.bars)
	return out
}

// Len returns the number of bars held.
func (w *Window) Len() int { return len(w.bars) }

// Last returns the newest bar.
func (w *Window) Last() (model.PriceBar, bool) {
	if len(w.bars) == 0 {
		return model.PriceBar{}, false
	}
	return w.bars[len(w.bars)-1], true
}
