package indicator

import (
	"fmt"

	"stock-analyzerv1/internal/model"
)

// LevelNone is the level when price is not below any average (or none exist).
const LevelNone = 6

// levelWindows maps level 1..5 to the window checked, longest first.
var levelWindows = [...]int{60, 30, 20, 10, 5}

type levelRule struct {
	action     model.Action
	confidence float64
	risk       model.RiskLevel
	text       string
	reason     string
}

var levelRules = map[int]levelRule{
	1: {model.ActionBuy, 0.90, model.RiskLow, "strong buy", "price below the 60-day moving average: deep pullback, strong buy zone"},
	2: {model.ActionBuy, 0.80, model.RiskLow, "buy", "price below the 30-day moving average: medium-term pullback"},
	3: {model.ActionBuy, 0.70, model.RiskMedium, "moderate buy", "price below the 20-day moving average: short-term pullback"},
	4: {model.ActionBuy, 0.60, model.RiskMedium, "watch", "price below the 10-day moving average: minor pullback"},
	5: {model.ActionHold, 0.55, model.RiskMedium, "hold", "price below the 5-day moving average only"},
}

var levelNoneRule = levelRule{model.ActionHold, 0.50, model.RiskHigh, "hold, no pullback", "price above all moving averages"}

func ruleFor(level int) levelRule {
	if r, ok := levelRules[level]; ok {
		return r
	}
	return levelNoneRule
}

// LevelText returns the short recommendation text for a level.
func LevelText(level int) string { return ruleFor(level).text }

// Level returns the recommendation level for price: 1..5 for the first of
// the 60, 30, 20, 10, 5 averages that is positive and above price, else 6.
func Level(price float64, ma model.MASet) int {
	for i, w := range levelWindows {
		if v, ok := ma.Get(w).Get(); ok && v > 0 && v > price {
			return i + 1
		}
	}
	return LevelNone
}

// DistancePct returns the signed percentage distance of price from ma.
func DistancePct(price, ma float64) float64 {
	if ma == 0 {
		return 0
	}
	return (price - ma) / ma * 100
}

// RealtimeRecommendation builds a recommendation from a live price, the
// cached MA set and a precomputed level. Unknown levels map to level 6.
func RealtimeRecommendation(price float64, ma model.MASet, level int) model.Recommendation {
	rule := ruleFor(level)
	r := model.Recommendation{
		Action:     rule.action,
		Confidence: rule.confidence,
		Risk:       rule.risk,
		Reasons:    []string{rule.reason},
	}

	var support, resistance model.Opt
	for _, w := range model.MAWindows {
		v, ok := ma.Get(w).Get()
		if !ok {
			continue
		}
		r.Reasons = append(r.Reasons, fmt.Sprintf("MA%d %.2f (price %+.2f%%)", w, v, DistancePct(price, v)))

		switch {
		case v < price:
			if !support.Valid || v > support.Value {
				support = model.Some(v)
			}
		case v > price:
			if !resistance.Valid || v < resistance.Value {
				resistance = model.Some(v)
			}
		}
	}
	r.Support = support
	r.Resistance = resistance
	return r
}
