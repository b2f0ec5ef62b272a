package model

import "time"

// MAWindows are the moving-average windows, shortest first.
var MAWindows = []int{5, 10, 20, 30, 60}

// MASet is the cached moving-average set for one security.
type MASet struct {
	SecurityID string    `json:"code"`
	MA5        Opt       `json:"ma5"`
	MA10       Opt       `json:"ma10"`
	MA20       Opt       `json:"ma20"`
	MA30       Opt       `json:"ma30"`
	MA60       Opt       `json:"ma60"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Get returns the average for window, absent for unknown windows.
func (m MASet) Get(window int) Opt {
	switch window {
	case 5:
		return m.MA5
	case 10:
		return m.MA10
	case 20:
		return m.MA20
	case 30:
		return m.MA30
	case 60:
		return m.MA60
	}
	return Opt{}
}

// Set stores v for window. Unknown windows are ignored.
func (m *MASet) Set(window int, v Opt) {
	switch window {
	case 5:
		m.MA5 = v
	case 10:
		m.MA10 = v
	case 20:
		m.MA20 = v
	case 30:
		m.MA30 = v
	case 60:
		m.MA60 = v
	}
}

// Any reports whether at least one average is present.
func (m MASet) Any() bool {
	for _, w := range MAWindows {
		if m.Get(w).Valid {
			return true
		}
	}
	return false
}

// IndicatorSnapshot is the latest derived indicator set for one security.
type IndicatorSnapshot struct {
	SecurityID    string    `json:"code"`
	AsOf          time.Time `json:"as_of"`
	SMA5          Opt       `json:"sma5"`
	SMA10         Opt       `json:"sma10"`
	SMA20         Opt       `json:"sma20"`
	SMA30         Opt       `json:"sma30"`
	SMA60         Opt       `json:"sma60"`
	RSI14         Opt       `json:"rsi14"`
	MACD          Opt       `json:"macd"`
	MACDSignal    Opt       `json:"macd_signal"`
	MACDHistogram Opt       `json:"macd_histogram"`
	Volume5dAvg   Opt       `json:"volume_5d_avg"`
}

// MASet projects the snapshot onto its moving-average set.
func (s IndicatorSnapshot) MASet() MASet {
	return MASet{
		SecurityID: s.SecurityID,
		MA5:        s.SMA5,
		MA10:       s.SMA10,
		MA20:       s.SMA20,
		MA30:       s.SMA30,
		MA60:       s.SMA60,
		UpdatedAt:  s.AsOf,
	}
}

// RealtimeState is the transient live state of one security.
// Level is 0 until the first recommendation level has been written.
type RealtimeState struct {
	SecurityID  string    `json:"code"`
	LatestPrice float64   `json:"price"`
	ObservedAt  time.Time `json:"observed_at"`
	Level       int       `json:"recommendation_level"`
}
