package indicator

import (
	"strconv"

	"stock-analyzerv1/internal/model"
)

// EMA calculates Exponential Moving Average with smoothing 2/(period+1).
// The first value seeds the average and no bias adjustment is applied, so
// the series matches a recursive EMA from the first bar. Ready once period
// values have been seen.
type EMA struct {
	period  int
	alpha   float64
	current float64
	count   int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(price float64) {
	e.count++
	if e.count == 1 {
		e.current = price
		return
	}
	e.current += e.alpha * (price - e.current)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

func (e *EMA) Opt() model.Opt {
	if !e.Ready() {
		return model.None()
	}
	return model.Some(e.current)
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}
