package indicator

import (
	"fmt"
	"math"

	"stock-analyzerv1/internal/model"
)

// Batch reason texts. Tests and API clients match on these prefixes.
const (
	ReasonTrendUp       = "price trending up strongly"
	ReasonTrendDown     = "price trending down strongly"
	ReasonBelowMA       = "price below the %d-day moving average"
	ReasonAboveAll      = "price above all moving averages"
	ReasonGoldenAlign   = "golden alignment: SMA5 > SMA10 > SMA20, price above SMA5"
	ReasonDeathAlign    = "death alignment: SMA5 < SMA10 < SMA20, price below SMA5"
	ReasonRSIOverbought = "RSI overbought"
	ReasonRSIOversold   = "RSI oversold"
	ReasonMACDGolden    = "MACD golden cross"
	ReasonMACDDeath     = "MACD death cross"
	ReasonNoClearSignal = "no clear signal, hold"
)

const momentumThresholdPct = 2.0

// ladderWindows is checked longest first; confidence rises with window length.
var ladderWindows = []struct {
	window     int
	confidence float64
}{
	{60, 0.80},
	{30, 0.75},
	{20, 0.70},
	{10, 0.65},
	{5, 0.60},
}

type rec struct{ model.Recommendation }

// signal sets action with a base confidence, or boosts confidence up to
// limit when action is already the current direction.
func (r *rec) signal(action model.Action, base, boost, limit float64) {
	if r.Action != action {
		r.Action = action
		r.Confidence = base
		return
	}
	r.Confidence = math.Min(limit, r.Confidence+boost)
}

func (r *rec) reason(format string, args ...any) {
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// Recommend derives a batch recommendation from an analysis. Rules run in a
// fixed order and later rules may override the action of earlier ones.
func Recommend(a Analysis) model.Recommendation {
	r := rec{model.Recommendation{
		Action:     model.ActionHold,
		Confidence: 0.5,
		Reasons:    []string{},
		Risk:       model.RiskMedium,
		Support:    a.Support,
		Resistance: a.Resistance,
	}}
	price := a.LatestPrice

	// momentum
	if a.PriceChangePercent > momentumThresholdPct {
		r.reason("%s (%+.2f%%)", ReasonTrendUp, a.PriceChangePercent)
	} else if a.PriceChangePercent < -momentumThresholdPct {
		r.reason("%s (%+.2f%%)", ReasonTrendDown, a.PriceChangePercent)
	}

	// price vs moving-average ladder
	breached := false
	for _, l := range ladderWindows {
		ma, ok := a.MA(l.window).Get()
		if ok && price < ma {
			r.Action = model.ActionBuy
			r.Confidence = l.confidence
			r.reason(ReasonBelowMA+" (%.2f)", l.window, ma)
			breached = true
			break
		}
	}
	if !breached {
		if ma5, ok := a.MA5.Get(); ok && price > ma5 {
			r.reason(ReasonAboveAll)
		}
	}

	// SMA alignment
	ma5, ok5 := a.MA5.Get()
	ma10, ok10 := a.MA10.Get()
	ma20, ok20 := a.MA20.Get()
	if ok5 && ok10 && ok20 {
		switch {
		case ma5 > ma10 && ma10 > ma20 && price > ma5:
			r.Action = model.ActionBuy
			r.Confidence = 0.7
			r.reason(ReasonGoldenAlign)
		case ma5 < ma10 && ma10 < ma20 && price < ma5:
			r.Action = model.ActionSell
			r.Confidence = 0.7
			r.reason(ReasonDeathAlign)
		}
	}

	// RSI overbought / oversold
	if rsi, ok := a.RSI.Get(); ok {
		switch {
		case rsi > 70:
			r.signal(model.ActionSell, 0.65, 0.15, 0.85)
			r.reason("%s (%.2f)", ReasonRSIOverbought, rsi)
			r.Risk = model.RiskHigh
		case rsi < 30:
			r.signal(model.ActionBuy, 0.65, 0.15, 0.85)
			r.reason("%s (%.2f)", ReasonRSIOversold, rsi)
			r.Risk = model.RiskHigh
		}
	}

	// MACD cross
	macd, okM := a.MACD.Get()
	sig, okS := a.MACDSignal.Get()
	hist, okH := a.MACDHistogram.Get()
	if okM && okS && okH {
		switch {
		case macd > sig && hist > 0:
			r.signal(model.ActionBuy, 0.6, 0.1, 0.9)
			r.reason(ReasonMACDGolden)
		case macd < sig && hist < 0:
			r.signal(model.ActionSell, 0.6, 0.1, 0.9)
			r.reason(ReasonMACDDeath)
		}
	}

	if len(r.Reasons) == 0 {
		r.reason(ReasonNoClearSignal)
	}
	return r.Recommendation
}
