package indicator

import (
	"testing"

	"stock-analyzerv1/internal/model"
)

func bar(day int, close float64) model.PriceBar {
	return model.PriceBar{SecurityID: "US.TEST", TS: day0.AddDate(0, 0, day), Open: close, High: close, Low: close, Close: close}
}

func TestWindow_OrdersAndDeduplicates(t *testing.T) {
	w := NewWindow(10)
	w.Upsert(bar(2, 12))
	w.Upsert(bar(0, 10))
	w.Upsert(bar(1, 11))
	w.Upsert(bar(1, 11.5)) // replaces

	bars := w.Bars()
	if len(bars) != 3 {
		t.Fatalf("Len=%d, want 3", len(bars))
	}
	for i, want := range []float64{10, 11.5, 12} {
		if bars[i].Close != want {
			t.Errorf("bar %d close=%v, want %v", i, bars[i].Close, want)
		}
	}
}

func TestWindow_TrimsOldest(t *testing.T) {
	w := NewWindow(3)
	for d := 0; d < 5; d++ {
		w.Upsert(bar(d, float64(d)))
	}
	if w.Len() != 3 {
		t.Fatalf("Len=%d, want 3", w.Len())
	}
	if w.Bars()[0].Close != 2 {
		t.Errorf("oldest kept close=%v, want 2", w.Bars()[0].Close)
	}
	if w.Upsert(bar(0, 99)) {
		t.Error("bar older than a full window should be rejected")
	}
}

func TestWindow_ApplyQuote(t *testing.T) {
	w := NewWindow(5)
	w.Seed([]model.PriceBar{bar(0, 10), bar(1, 11)})

	// same bucket as the last bar: update in place
	if !w.ApplyQuote("US.TEST", 13, day0.AddDate(0, 0, 1)) {
		t.Fatal("quote for current bucket rejected")
	}
	last, _ := w.Last()
	if last.Close != 13 || last.High != 13 || w.Len() != 2 {
		t.Errorf("last=%+v len=%d", last, w.Len())
	}

	// new bucket: provisional bar appended
	w.ApplyQuote("US.TEST", 14, day0.AddDate(0, 0, 2))
	last, _ = w.Last()
	if w.Len() != 3 || last.Open != 14 || !last.TS.Equal(day0.AddDate(0, 0, 2)) {
		t.Errorf("provisional bar not appended: %+v", last)
	}

	// stale bucket
	if w.ApplyQuote("US.TEST", 1, day0) {
		t.Error("quote for an older bucket should be rejected")
	}
}

func TestWindow_LastEmpty(t *testing.T) {
	w := NewWindow(1)
	if _, ok := w.Last(); ok {
		t.Error("empty window has no last bar")
	}
}
