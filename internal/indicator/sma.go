package indicator

import (
	"strconv"

	"stock-analyzerv1/internal/model"
)

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer; no allocation per update.
type SMA struct {
	period  int
	buf     []float64
	idx     int // current write position
	count   int // total values received
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(price float64) {
	s.buf[s.idx] = price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		// summed from buf each time: a running sum drifts on flat series
		sum := 0.0
		for _, v := range s.buf {
			sum += v
		}
		s.current = sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

func (s *SMA) Opt() model.Opt {
	if !s.Ready() {
		return model.None()
	}
	return model.Some(s.current)
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}
