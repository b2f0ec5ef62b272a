package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stock-analyzerv1/internal/markethours"
	"stock-analyzerv1/internal/model"
	"stock-analyzerv1/internal/notification"
	"stock-analyzerv1/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

type fakeFeed struct {
	mu         sync.Mutex
	connectErr error
	history    map[string][]model.PriceBar
	historyErr map[string]error
	ranges     map[string][2]time.Time
	infos      map[string][]model.SecurityInfo
	names      map[string]string
	batches    [][]string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		history:    map[string][]model.PriceBar{},
		historyErr: map[string]error{},
		ranges:     map[string][2]time.Time{},
		infos:      map[string][]model.SecurityInfo{},
		names:      map[string]string{},
	}
}

func (f *fakeFeed) Connect(context.Context) error { return f.connectErr }

func (f *fakeFeed) RequestHistory(_ context.Context, id string, start, end time.Time) ([]model.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges[id] = [2]time.Time{start, end}
	if err := f.historyErr[id]; err != nil {
		return nil, err
	}
	return f.history[id], nil
}

func (f *fakeFeed) ReferenceInfo(_ context.Context, market string) ([]model.SecurityInfo, error) {
	return f.infos[market], nil
}

func (f *fakeFeed) Names(_ context.Context, ids []string) (map[string]string, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	f.mu.Unlock()
	out := map[string]string{}
	for _, id := range ids {
		if n, ok := f.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type staticTracked []string

func (s staticTracked) Codes() []string { return s }

func (s staticTracked) ForMarket(market string) []string {
	var out []string
	for _, c := range s {
		if model.Market(c) == market {
			out = append(out, c)
		}
	}
	return out
}

type recordingRefresher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRefresher) Refresh(_ context.Context, id string) error {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	return nil
}

type chanNotifier chan notification.Alert

func (c chanNotifier) Send(_ context.Context, a notification.Alert) error {
	c <- a
	return nil
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func bar(id string, ts time.Time, close float64) model.PriceBar {
	return model.PriceBar{SecurityID: id, TS: ts, Open: close, High: close, Low: close, Close: close, Volume: 100}
}

type fixture struct {
	job       *Job
	feed      *fakeFeed
	store     *sqlite.Store
	refresher *recordingRefresher
	alerts    chanNotifier
}

// Tuesday 2026-03-10 17:00 in New York.
var afterClose = time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, tracked ...string) *fixture {
	t.Helper()
	st, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "stocks.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := map[string]*markethours.Session{}
	for _, s := range markethours.Defaults() {
		sessions[s.Market] = s
	}

	f := &fixture{
		feed:      newFakeFeed(),
		store:     st,
		refresher: &recordingRefresher{},
		alerts:    make(chanNotifier, 4),
	}
	f.job = NewJob(Config{Sessions: sessions, NameBatchSize: 2}, Deps{
		Feed:      f.feed,
		Store:     st,
		Tracked:   staticTracked(tracked),
		Refresher: f.refresher,
		Notifier:  f.alerts,
	})
	f.job.now = func() time.Time { return afterClose }
	return f
}

// ────────────────────────────────────────────────────────────
// RunMarket
// ────────────────────────────────────────────────────────────

func TestRunMarket_UpsertsAndSkipsFailures(t *testing.T) {
	f := newFixture(t, "US.AAPL", "US.MSFT", "HK.00700")
	f.feed.history["US.AAPL"] = []model.PriceBar{
		bar("US.AAPL", day(2026, 3, 9), 180),
		bar("US.AAPL", day(2026, 3, 10), 182),
	}
	f.feed.historyErr["US.MSFT"] = errors.New("unknown security")

	res, err := f.job.RunMarket(context.Background(), "US")
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Securities)
	assert.Equal(t, 2, res.Bars)
	assert.Equal(t, []string{"US.MSFT"}, res.Failed)

	assert.Equal(t, [2]time.Time{day(2026, 3, 9), day(2026, 3, 10)}, f.feed.ranges["US.AAPL"])
	_, asked := f.feed.ranges["HK.00700"]
	assert.False(t, asked, "other markets are not reconciled")

	bars, err := f.store.QueryBars(context.Background(), "US.AAPL", day(2026, 3, 1), day(2026, 3, 11))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, []string{"US.AAPL"}, f.refresher.ids)
}

func TestRunMarket_IdempotentRerun(t *testing.T) {
	f := newFixture(t, "US.AAPL")
	f.feed.history["US.AAPL"] = []model.PriceBar{bar("US.AAPL", day(2026, 3, 10), 182)}

	_, err := f.job.RunMarket(context.Background(), "US")
	require.NoError(t, err)
	f.feed.history["US.AAPL"] = []model.PriceBar{bar("US.AAPL", day(2026, 3, 10), 183)}
	_, err = f.job.RunMarket(context.Background(), "US")
	require.NoError(t, err)

	bars, err := f.store.QueryBars(context.Background(), "US.AAPL", day(2026, 3, 1), day(2026, 3, 11))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 183.0, bars[0].Close)
}

func TestRunMarket_FeedUnavailableAborts(t *testing.T) {
	f := newFixture(t, "US.AAPL", "US.MSFT")
	f.feed.historyErr["US.AAPL"] = model.FeedUnavailable(errors.New("gateway down"))
	f.feed.history["US.MSFT"] = []model.PriceBar{bar("US.MSFT", day(2026, 3, 10), 400)}

	_, err := f.job.RunMarket(context.Background(), "US")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFeedUnavailable)

	_, asked := f.feed.ranges["US.MSFT"]
	assert.False(t, asked, "run stops at the first feed outage")

	select {
	case a := <-f.alerts:
		assert.Equal(t, notification.AlertWarning, a.Level)
		assert.Equal(t, "US", a.Market)
	default:
		t.Fatal("expected an aborted-run alert")
	}
}

func TestRunMarket_ConnectFailureAborts(t *testing.T) {
	f := newFixture(t, "US.AAPL")
	f.feed.connectErr = model.FeedUnavailable(errors.New("login rejected"))

	_, err := f.job.RunMarket(context.Background(), "US")
	assert.ErrorIs(t, err, model.ErrFeedUnavailable)
}

func TestRunMarket_SkipsNonTradingDay(t *testing.T) {
	f := newFixture(t, "US.AAPL")
	f.job.now = func() time.Time { return time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC) } // Saturday

	res, err := f.job.RunMarket(context.Background(), "US")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, f.feed.ranges)
}

func TestRunMarket_UnknownMarket(t *testing.T) {
	f := newFixture(t)
	_, err := f.job.RunMarket(context.Background(), "JP")
	assert.Error(t, err)
}

// ────────────────────────────────────────────────────────────
// Names and initial load
// ────────────────────────────────────────────────────────────

func TestFillMissingNames_BatchesAndPreservesInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertSecurityInfo(ctx, model.SecurityInfo{SecurityID: "HK.00700", LotSize: 100}))
	require.NoError(t, f.store.EnsureSecurity(ctx, "US.AAPL"))
	require.NoError(t, f.store.EnsureSecurity(ctx, "US.MSFT"))
	f.feed.names = map[string]string{"HK.00700": "Tencent", "US.AAPL": "Apple"}

	n, err := f.job.FillMissingNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]string{{"HK.00700", "US.AAPL"}, {"US.MSFT"}}, f.feed.batches)

	info, err := f.store.GetSecurityInfo(ctx, "HK.00700")
	require.NoError(t, err)
	assert.Equal(t, "Tencent", info.DisplayName)
	assert.Equal(t, int64(100), info.LotSize)

	missing, err := f.store.SecuritiesMissingName(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"US.MSFT"}, missing)
}

func TestFillMissingNames_NothingMissing(t *testing.T) {
	f := newFixture(t)
	n, err := f.job.FillMissingNames(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.feed.batches)
}

func TestInitialize_ImportsInfoAndHistory(t *testing.T) {
	f := newFixture(t, "US.AAPL")
	f.feed.infos["US"] = []model.SecurityInfo{{SecurityID: "US.AAPL", DisplayName: "Apple", LotSize: 1}}
	f.feed.history["US.AAPL"] = []model.PriceBar{
		bar("US.AAPL", day(2026, 3, 6), 178),
		bar("US.AAPL", day(2026, 3, 9), 180),
	}

	res, err := f.job.Initialize(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Bars)

	info, err := f.store.GetSecurityInfo(context.Background(), "US.AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple", info.DisplayName)

	r := f.feed.ranges["US.AAPL"]
	assert.Equal(t, afterClose.AddDate(0, 0, -30), r[0])
	assert.Equal(t, afterClose, r[1])
}
