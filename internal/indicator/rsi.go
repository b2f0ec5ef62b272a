package indicator

import (
	"strconv"

	"stock-analyzerv1/internal/model"
)

// RSI calculates the Relative Strength Index from simple rolling means of
// gains and losses over the last period close deltas (not Wilder smoothing).
//
// When the average loss is zero the value is 100 if there was any gain and
// absent otherwise.
type RSI struct {
	period    int
	gains     []float64
	losses    []float64
	idx       int
	deltas    int // total deltas received
	prevClose float64
	seen      bool
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		gains:  make([]float64, period),
		losses: make([]float64, period),
	}
}

func (r *RSI) Name() string { return "RSI_" + strconv.Itoa(r.period) }

func (r *RSI) Update(price float64) {
	if !r.seen {
		r.prevClose = price
		r.seen = true
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gains[r.idx] = gain
	r.losses[r.idx] = loss
	r.idx = (r.idx + 1) % r.period
	r.deltas++
}

// averages returns the mean gain and loss over the window.
func (r *RSI) averages() (avgGain, avgLoss float64) {
	for i := 0; i < r.period; i++ {
		avgGain += r.gains[i]
		avgLoss += r.losses[i]
	}
	p := float64(r.period)
	return avgGain / p, avgLoss / p
}

func (r *RSI) Ready() bool { return r.deltas >= r.period }

func (r *RSI) Opt() model.Opt {
	if !r.Ready() {
		return model.None()
	}
	avgGain, avgLoss := r.averages()
	if avgLoss == 0 {
		if avgGain > 0 {
			return model.Some(100)
		}
		return model.None()
	}
	rs := avgGain / avgLoss
	return model.Some(100.0 - 100.0/(1.0+rs))
}

func (r *RSI) Value() float64 { return r.Opt().Or(0) }

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	for i := range r.gains {
		r.gains[i] = 0
		r.losses[i] = 0
	}
	r.idx = 0
	r.deltas = 0
	r.prevClose = 0
	r.seen = false
}
