package indicator

import (
	"strings"
	"testing"

	"stock-analyzerv1/internal/model"
)

func TestLevel_Table(t *testing.T) {
	cases := []struct {
		name  string
		price float64
		ma    model.MASet
		want  int
	}{
		{"below MA60 first", 90, model.MASet{MA60: model.Some(100), MA30: model.Some(95), MA20: model.Some(92)}, 1},
		{"below MA30", 90, model.MASet{MA60: model.Some(80), MA30: model.Some(95)}, 2},
		{"below MA20", 90, model.MASet{MA20: model.Some(91)}, 3},
		{"below MA10", 90, model.MASet{MA10: model.Some(91)}, 4},
		{"below MA5", 90, model.MASet{MA5: model.Some(91), MA10: model.Some(80)}, 5},
		{"above all", 90, model.MASet{MA5: model.Some(80), MA60: model.Some(70)}, 6},
		{"no averages", 90, model.MASet{}, 6},
		{"non-positive ignored", -5, model.MASet{MA60: model.Some(0), MA30: model.Some(-1)}, 6},
		{"equal is not below", 100, model.MASet{MA60: model.Some(100)}, 6},
	}
	for _, tc := range cases {
		if got := Level(tc.price, tc.ma); got != tc.want {
			t.Errorf("%s: Level=%d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRealtimeRecommendation_Level1(t *testing.T) {
	ma := model.MASet{MA60: model.Some(100), MA30: model.Some(95), MA20: model.Some(92)}
	level := Level(90, ma)
	rec := RealtimeRecommendation(90, ma, level)

	if rec.Action != model.ActionBuy || rec.Confidence != 0.90 || rec.Risk != model.RiskLow {
		t.Errorf("got %s/%.2f/%s, want BUY/0.90/LOW", rec.Action, rec.Confidence, rec.Risk)
	}
	if len(rec.Reasons) != 4 {
		t.Fatalf("reasons=%v, want fixed reason + 3 distances", rec.Reasons)
	}
	if !strings.Contains(rec.Reasons[0], "60-day") {
		t.Errorf("fixed reason %q should name the 60-day average", rec.Reasons[0])
	}
	if rec.Reasons[1] != "MA20 92.00 (price -2.17%)" {
		t.Errorf("distance reason = %q", rec.Reasons[1])
	}
	if rec.Support.Valid {
		t.Errorf("support should be absent, got %v", rec.Support.Value)
	}
	if !rec.Resistance.Valid || rec.Resistance.Value != 92 {
		t.Errorf("resistance=%v, want 92", rec.Resistance)
	}
}

func TestRealtimeRecommendation_SupportAndUnmappedLevel(t *testing.T) {
	ma := model.MASet{MA5: model.Some(99), MA10: model.Some(97), MA20: model.Some(103), MA60: model.Some(110)}
	rec := RealtimeRecommendation(100, ma, 42)

	if rec.Action != model.ActionHold || rec.Confidence != 0.50 || rec.Risk != model.RiskHigh {
		t.Errorf("unmapped level: got %s/%.2f/%s, want HOLD/0.50/HIGH", rec.Action, rec.Confidence, rec.Risk)
	}
	if rec.Support.Value != 99 {
		t.Errorf("support=%v, want highest MA below price (99)", rec.Support.Value)
	}
	if rec.Resistance.Value != 103 {
		t.Errorf("resistance=%v, want lowest MA above price (103)", rec.Resistance.Value)
	}
}

func TestRealtimeRecommendation_LevelMapping(t *testing.T) {
	want := map[int]struct {
		action model.Action
		conf   float64
		risk   model.RiskLevel
	}{
		1: {model.ActionBuy, 0.90, model.RiskLow},
		2: {model.ActionBuy, 0.80, model.RiskLow},
		3: {model.ActionBuy, 0.70, model.RiskMedium},
		4: {model.ActionBuy, 0.60, model.RiskMedium},
		5: {model.ActionHold, 0.55, model.RiskMedium},
		6: {model.ActionHold, 0.50, model.RiskHigh},
	}
	for level, w := range want {
		rec := RealtimeRecommendation(1, model.MASet{}, level)
		if rec.Action != w.action || rec.Confidence != w.conf || rec.Risk != w.risk {
			t.Errorf("level %d: got %s/%.2f/%s", level, rec.Action, rec.Confidence, rec.Risk)
		}
		if LevelText(level) == "" {
			t.Errorf("level %d: empty text", level)
		}
	}
}
