package indicator

import "stock-analyzerv1/internal/model"

// MACD tracks EMA(fast) - EMA(slow) and its EMA(signal). Like a recursive
// EMA with no minimum period, every line is reported from the first update.
type MACD struct {
	fast, slow, signal *EMA
	count              int
}

// NewMACD creates a MACD with the given spans (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	m.signal.Update(m.fast.Value() - m.slow.Value())
	m.count++
}

func (m *MACD) line() float64 { return m.fast.Value() - m.slow.Value() }

// Line returns EMA(fast) - EMA(slow).
func (m *MACD) Line() model.Opt {
	if m.count == 0 {
		return model.None()
	}
	return model.Some(m.line())
}

// Signal returns the EMA of the MACD line.
func (m *MACD) Signal() model.Opt {
	if m.count == 0 {
		return model.None()
	}
	return model.Some(m.signal.Value())
}

// Histogram returns MACD - signal.
func (m *MACD) Histogram() model.Opt {
	if m.count == 0 {
		return model.None()
	}
	return model.Some(m.line() - m.signal.Value())
}

// Reset clears the MACD state for reuse.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.count = 0
}
