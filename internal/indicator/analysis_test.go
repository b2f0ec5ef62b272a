package indicator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"stock-analyzerv1/internal/model"
)

var day0 = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func barsFrom(closes []float64) []model.PriceBar {
	bars := make([]model.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = model.PriceBar{
			SecurityID: "US.TEST",
			TS:         day0.AddDate(0, 0, i),
			Open:       c, High: c + 1, Low: c - 1, Close: c,
			Volume: int64(1000 + i),
		}
	}
	return bars
}

// zigzagUp rises 1/day on average: +4 on odd days, -2 on even days.
func zigzagUp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(100 + i + 3*(i%2))
	}
	return out
}

func hasReason(rec model.Recommendation, prefix string) bool {
	for _, r := range rec.Reasons {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func TestCompute_EmptyInput(t *testing.T) {
	_, err := Compute(nil)
	if !errors.Is(err, model.ErrEmptyBars) {
		t.Fatalf("expected ErrEmptyBars, got %v", err)
	}
}

func TestCompute_SingleBar(t *testing.T) {
	a, err := Compute(barsFrom([]float64{123.45}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PriceChange != 0 || a.PriceChangePercent != 0 {
		t.Errorf("price change = %v / %v%%, want 0 / 0", a.PriceChange, a.PriceChangePercent)
	}
	if a.PreviousPrice.Valid || a.MA5.Valid || a.RSI.Valid || a.Support.Valid {
		t.Error("single bar: every windowed indicator should be absent")
	}
	if !a.MACD.Valid || a.MACD.Value != 0 || a.MACDHistogram.Value != 0 {
		t.Errorf("single bar: MACD=%+v histogram=%+v, want present zeros", a.MACD, a.MACDHistogram)
	}

	rec := Recommend(a)
	if rec.Action != model.ActionHold || rec.Confidence != 0.5 || rec.Risk != model.RiskMedium {
		t.Errorf("got %s/%.2f/%s, want HOLD/0.50/MEDIUM", rec.Action, rec.Confidence, rec.Risk)
	}
	if len(rec.Reasons) != 1 || rec.Reasons[0] != ReasonNoClearSignal {
		t.Errorf("reasons=%v, want [%q]", rec.Reasons, ReasonNoClearSignal)
	}
}

func TestCompute_SMA60Property(t *testing.T) {
	closes := make([]float64, 75)
	for i := range closes {
		closes[i] = 50 + float64((i*37)%23) + float64(i)*0.1
	}

	a, _ := Compute(barsFrom(closes[:59]))
	if a.MA60.Valid {
		t.Error("SMA60 should be absent with 59 bars")
	}

	a, _ = Compute(barsFrom(closes))
	sum := 0.0
	for _, c := range closes[len(closes)-60:] {
		sum += c
	}
	if !a.MA60.Valid {
		t.Fatal("SMA60 should be defined with 75 bars")
	}
	assertClose(t, "SMA60", a.MA60.Value, sum/60, 1e-9)
}

func TestCompute_UnsortedInputIsOrdered(t *testing.T) {
	bars := barsFrom([]float64{10, 11, 12})
	bars[0], bars[2] = bars[2], bars[0]

	a, _ := Compute(bars)
	if a.LatestPrice != 12 || a.PreviousPrice.Value != 11 {
		t.Errorf("latest=%v previous=%v, want 12 / 11", a.LatestPrice, a.PreviousPrice.Value)
	}
	if bars[0].Close != 12 {
		t.Error("Compute must not reorder the caller's slice")
	}
}

func TestCompute_SupportResistanceAndVolume(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = float64(i + 1) // 1..25
	}
	a, _ := Compute(barsFrom(closes))
	// last 20 closes: 6..25
	assertClose(t, "support", a.Support.Value, (6+7+8)/3.0, 1e-12)
	assertClose(t, "resistance", a.Resistance.Value, (25+24+23)/3.0, 1e-12)
	// volumes 1020..1024
	assertClose(t, "volume 5d avg", a.Volume5dAvg.Value, 1022, 1e-12)

	a, _ = Compute(barsFrom(closes[:5]))
	if a.Volume5dAvg.Valid {
		t.Error("volume average needs more than 5 bars")
	}
	if a.Support.Valid || a.Resistance.Valid {
		t.Error("support/resistance need 20 bars")
	}
}

// ────────────────────────────────────────────────────────────
// Batch recommendation scenarios
// ────────────────────────────────────────────────────────────

func TestRecommend_GoldenAlignment(t *testing.T) {
	// golden BUY 0.7, reinforced by the MACD cross to 0.8
	for _, n := range []int{20, 21, 30} {
		a, err := Compute(barsFrom(zigzagUp(n)))
		if err != nil {
			t.Fatal(err)
		}
		rec := Recommend(a)

		if rec.Action != model.ActionBuy {
			t.Errorf("n=%d: action=%s, want BUY", n, rec.Action)
		}
		assertClose(t, "confidence", rec.Confidence, 0.8, 1e-12)
		for _, r := range []string{ReasonAboveAll, ReasonGoldenAlign, ReasonMACDGolden} {
			if !hasReason(rec, r) {
				t.Errorf("n=%d: missing %q in %v", n, r, rec.Reasons)
			}
		}
		// odd n ends on a down day
		if (n%2 == 0) != hasReason(rec, ReasonTrendUp) {
			t.Errorf("n=%d: momentum reason mismatch in %v", n, rec.Reasons)
		}
		if rec.Risk != model.RiskMedium {
			t.Errorf("n=%d: risk=%s, want MEDIUM", n, rec.Risk)
		}
		assertClose(t, "rsi", a.RSI.Value, 200.0/3.0, 1e-9)
	}
}

func TestRecommend_MACDCrossOnShortHistory(t *testing.T) {
	// 21 trading bars is what a 30 calendar day query returns
	a, _ := Compute(barsFrom(zigzagUp(21)))
	if !a.MACD.Valid || !a.MACDSignal.Valid || !a.MACDHistogram.Valid {
		t.Fatalf("MACD=%+v signal=%+v histogram=%+v, want all present", a.MACD, a.MACDSignal, a.MACDHistogram)
	}
	assertClose(t, "MACD", a.MACD.Value, 4.7063036620, 1e-8)
	assertClose(t, "signal", a.MACDSignal.Value, 3.9715730154, 1e-8)
	assertClose(t, "histogram", a.MACDHistogram.Value, 0.7347306466, 1e-8)

	if rec := Recommend(a); !hasReason(rec, ReasonMACDGolden) {
		t.Errorf("reasons=%v, want the MACD golden cross", rec.Reasons)
	}
}

func TestRecommend_DeathAlignmentOverridesLadder(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(200 - i - 3*(i%2))
	}
	a, _ := Compute(barsFrom(closes))
	rec := Recommend(a)

	if rec.Action != model.ActionSell {
		t.Fatalf("action=%s, want SELL", rec.Action)
	}
	// death SELL 0.7, reinforced by the MACD cross to 0.8
	assertClose(t, "confidence", rec.Confidence, 0.8, 1e-12)
	want := []string{ReasonTrendDown, "price below the 20-day moving average", ReasonDeathAlign, ReasonMACDDeath}
	if len(rec.Reasons) != len(want) {
		t.Fatalf("reasons=%v", rec.Reasons)
	}
	for i, w := range want {
		if !strings.HasPrefix(rec.Reasons[i], w) {
			t.Errorf("reason %d = %q, want prefix %q", i, rec.Reasons[i], w)
		}
	}
}

func TestRecommend_LaterRulesOverride(t *testing.T) {
	// Pure uptrend: golden BUY -> RSI 100 flips to SELL -> MACD flips back to BUY.
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	a, _ := Compute(barsFrom(closes))
	rec := Recommend(a)

	if rec.Action != model.ActionBuy || rec.Risk != model.RiskHigh {
		t.Errorf("got %s/%s, want BUY/HIGH", rec.Action, rec.Risk)
	}
	assertClose(t, "confidence", rec.Confidence, 0.6, 1e-12)
	for _, r := range []string{ReasonGoldenAlign, ReasonRSIOverbought, ReasonMACDGolden} {
		if !hasReason(rec, r) {
			t.Errorf("missing %q in %v", r, rec.Reasons)
		}
	}
}

func TestRecommend_LadderConfidenceByWindow(t *testing.T) {
	cases := []struct {
		name   string
		a      Analysis
		conf   float64
		reason string
	}{
		{"below 60", Analysis{LatestPrice: 90, MA60: model.Some(100), MA5: model.Some(80)}, 0.80, "price below the 60-day"},
		{"below 30", Analysis{LatestPrice: 90, MA60: model.Some(80), MA30: model.Some(95)}, 0.75, "price below the 30-day"},
		{"below 10", Analysis{LatestPrice: 90, MA10: model.Some(91)}, 0.65, "price below the 10-day"},
		{"below 5", Analysis{LatestPrice: 90, MA10: model.Some(89), MA5: model.Some(91)}, 0.60, "price below the 5-day"},
	}
	for _, tc := range cases {
		rec := Recommend(tc.a)
		if rec.Action != model.ActionBuy {
			t.Errorf("%s: action=%s, want BUY", tc.name, rec.Action)
		}
		assertClose(t, tc.name, rec.Confidence, tc.conf, 1e-12)
		if !hasReason(rec, tc.reason) {
			t.Errorf("%s: reasons=%v", tc.name, rec.Reasons)
		}
	}
}

func TestRecommend_BoostCaps(t *testing.T) {
	// death SELL 0.7 -> RSI boost to 0.85 -> MACD boost capped at 0.9
	a := Analysis{
		LatestPrice:   80,
		MA5:           model.Some(85),
		MA10:          model.Some(90),
		MA20:          model.Some(95),
		RSI:           model.Some(75),
		MACD:          model.Some(-1),
		MACDSignal:    model.Some(-0.5),
		MACDHistogram: model.Some(-0.5),
	}
	rec := Recommend(a)
	if rec.Action != model.ActionSell {
		t.Fatalf("action=%s, want SELL", rec.Action)
	}
	assertClose(t, "confidence", rec.Confidence, 0.9, 1e-12)

	// oversold on top of a BUY ladder: 0.8 + 0.15 capped at 0.85
	b := Analysis{LatestPrice: 50, MA60: model.Some(100), RSI: model.Some(20)}
	rec = Recommend(b)
	assertClose(t, "oversold boost", rec.Confidence, 0.85, 1e-12)
	if rec.Risk != model.RiskHigh {
		t.Errorf("risk=%s, want HIGH", rec.Risk)
	}
}

func TestRecommend_FlatSeriesHolds(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	a, _ := Compute(barsFrom(closes))
	if a.RSI.Valid {
		t.Error("flat series: RSI should be absent")
	}
	rec := Recommend(a)
	if rec.Action != model.ActionHold || len(rec.Reasons) != 1 || rec.Reasons[0] != ReasonNoClearSignal {
		t.Errorf("got %s %v, want HOLD with default reason", rec.Action, rec.Reasons)
	}
}
