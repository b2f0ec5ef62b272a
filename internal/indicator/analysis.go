package indicator

import (
	"sort"
	"time"

	"stock-analyzerv1/internal/model"
)

const (
	rsiPeriod    = 14
	macdFast     = 12
	macdSlow     = 26
	macdSignal   = 9
	volumeWindow = 5
	srWindow     = 20 // support/resistance lookback
	srPoints     = 3
)

// Analysis is the technical analysis of one security at its latest bar.
type Analysis struct {
	SecurityID         string    `json:"code"`
	AsOf               time.Time `json:"as_of"`
	LatestPrice        float64   `json:"latest_price"`
	PreviousPrice      model.Opt `json:"previous_price"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`

	MA5  model.Opt `json:"ma5"`
	MA10 model.Opt `json:"ma10"`
	MA20 model.Opt `json:"ma20"`
	MA30 model.Opt `json:"ma30"`
	MA60 model.Opt `json:"ma60"`

	// Percentage distance of the latest price from each average.
	MA5Diff  model.Opt `json:"ma5_diff"`
	MA10Diff model.Opt `json:"ma10_diff"`
	MA20Diff model.Opt `json:"ma20_diff"`
	MA30Diff model.Opt `json:"ma30_diff"`
	MA60Diff model.Opt `json:"ma60_diff"`

	RSI           model.Opt `json:"rsi"`
	MACD          model.Opt `json:"macd"`
	MACDSignal    model.Opt `json:"macd_signal"`
	MACDHistogram model.Opt `json:"macd_histogram"`

	Volume      int64     `json:"volume"`
	Volume5dAvg model.Opt `json:"volume_5day_avg"`

	Support    model.Opt `json:"-"`
	Resistance model.Opt `json:"-"`
}

// MA returns the average for window.
func (a *Analysis) MA(window int) model.Opt { return a.MASet().Get(window) }

// MASet projects the analysis onto its moving-average set.
func (a *Analysis) MASet() model.MASet {
	return model.MASet{
		SecurityID: a.SecurityID,
		MA5:        a.MA5,
		MA10:       a.MA10,
		MA20:       a.MA20,
		MA30:       a.MA30,
		MA60:       a.MA60,
		UpdatedAt:  a.AsOf,
	}
}

// Snapshot converts the analysis to the cached indicator snapshot.
func (a *Analysis) Snapshot() model.IndicatorSnapshot {
	return model.IndicatorSnapshot{
		SecurityID:    a.SecurityID,
		AsOf:          a.AsOf,
		SMA5:          a.MA5,
		SMA10:         a.MA10,
		SMA20:         a.MA20,
		SMA30:         a.MA30,
		SMA60:         a.MA60,
		RSI14:         a.RSI,
		MACD:          a.MACD,
		MACDSignal:    a.MACDSignal,
		MACDHistogram: a.MACDHistogram,
		Volume5dAvg:   a.Volume5dAvg,
	}
}

// Compute runs every indicator over bars (ascending by time) and returns the
// analysis at the last bar. Unsorted input is sorted on a copy.
// Returns model.ErrEmptyBars for an empty sequence.
func Compute(bars []model.PriceBar) (Analysis, error) {
	if len(bars) == 0 {
		return Analysis{}, model.ErrEmptyBars
	}
	if !sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) }) {
		sorted := make([]model.PriceBar, len(bars))
		copy(sorted, bars)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })
		bars = sorted
	}

	smas := make(map[int]*SMA, len(model.MAWindows))
	for _, w := range model.MAWindows {
		smas[w] = NewSMA(w)
	}
	rsi := NewRSI(rsiPeriod)
	macd := NewMACD(macdFast, macdSlow, macdSignal)
	vol := NewSMA(volumeWindow)

	for i := range bars {
		c := bars[i].Close
		for _, s := range smas {
			s.Update(c)
		}
		rsi.Update(c)
		macd.Update(c)
		vol.Update(float64(bars[i].Volume))
	}

	last := bars[len(bars)-1]
	a := Analysis{
		SecurityID:    last.SecurityID,
		AsOf:          last.TS,
		LatestPrice:   last.Close,
		RSI:           rsi.Opt(),
		MACD:          macd.Line(),
		MACDSignal:    macd.Signal(),
		MACDHistogram: macd.Histogram(),
		Volume:        last.Volume,
	}

	if len(bars) > 1 {
		prev := bars[len(bars)-2].Close
		a.PreviousPrice = model.Some(prev)
		a.PriceChange = last.Close - prev
		if prev != 0 {
			a.PriceChangePercent = a.PriceChange / prev * 100
		}
	}

	a.MA5, a.MA5Diff = smas[5].Opt(), diffPct(last.Close, smas[5].Opt())
	a.MA10, a.MA10Diff = smas[10].Opt(), diffPct(last.Close, smas[10].Opt())
	a.MA20, a.MA20Diff = smas[20].Opt(), diffPct(last.Close, smas[20].Opt())
	a.MA30, a.MA30Diff = smas[30].Opt(), diffPct(last.Close, smas[30].Opt())
	a.MA60, a.MA60Diff = smas[60].Opt(), diffPct(last.Close, smas[60].Opt())

	if len(bars) > volumeWindow {
		a.Volume5dAvg = vol.Opt()
	}

	a.Support, a.Resistance = supportResistance(model.Closes(bars))
	return a, nil
}

// diffPct returns (price - ma) / ma * 100, absent if ma is absent or zero.
func diffPct(price float64, ma model.Opt) model.Opt {
	v, ok := ma.Get()
	if !ok || v == 0 {
		return model.None()
	}
	return model.Some((price - v) / v * 100)
}

// supportResistance averages the 3 lowest and 3 highest of the last 20 closes.
func supportResistance(closes []float64) (support, resistance model.Opt) {
	if len(closes) < srWindow {
		return model.None(), model.None()
	}
	recent := make([]float64, srWindow)
	copy(recent, closes[len(closes)-srWindow:])
	sort.Float64s(recent)

	lo, hi := 0.0, 0.0
	for i := 0; i < srPoints; i++ {
		lo += recent[i]
		hi += recent[len(recent)-1-i]
	}
	return model.Some(lo / srPoints), model.Some(hi / srPoints)
}
