package usecase

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/service/calendar"
	"FinScan/internal/services/features"
	applogger "FinScan/pkg/logger"
)

var testDay = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC) // Tuesday

func fifteenMinuteDay(symbol string) []models.Candle {
	highs := []float64{10, 12, 9, 11}
	start := testDay.Add(14 * time.Hour)
	out := make([]models.Candle, 24)
	for i := range out {
		out[i] = models.Candle{
			Symbol:    symbol,
			Timeframe: "15m",
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:      8.5,
			High:      highs[i%4],
			Low:       8,
			Close:     8.8,
			Volume:    float64(100 + i),
		}
	}
	return out
}

func newTestAggregator(store *memStore, opts ...AggregatorOption) *TimeframeAggregator {
	opts = append([]AggregatorOption{WithAggregatorClock(func() time.Time { return testDay.Add(30 * time.Hour) })}, opts...)
	return NewTimeframeAggregator(store, store, features.NewEngine(), calendar.NewWeekdays(time.UTC), applogger.NewNop(), opts...)
}

func seed(t *testing.T, store *memStore, tf domrepo.Timeframe, candles []models.Candle) {
	t.Helper()
	if err := store.UpsertCandles(context.Background(), tf, candles); err != nil {
		t.Fatalf("seed: %v", err)
	}
	feats, err := features.NewEngine().Compute(candles, features.ProfileFor(tf, time.UTC))
	if err != nil {
		t.Fatalf("seed features: %v", err)
	}
	if err := store.UpsertFeatures(context.Background(), tf, feats); err != nil {
		t.Fatalf("seed features: %v", err)
	}
	store.writes = 0
}

var pair15m1h = domrepo.Pair{Source: domrepo.TF15m, Target: domrepo.TF1h}

func TestConvertDayFifteenMinuteToHourly(t *testing.T) {
	store := newMemStore()
	src := fifteenMinuteDay("X")
	seed(t, store, domrepo.TF15m, src)
	pub := &recordingPublisher{}
	agg := newTestAggregator(store, WithAggregatorEvents(pub))
	ctx := context.Background()

	res, err := agg.ConvertDay(ctx, "X", testDay, pair15m1h)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.State != models.StateDone || res.SourceRows != 24 || res.TargetRows != 6 || res.DeletedRows != 24 {
		t.Fatalf("unexpected result %+v", res)
	}

	hourly, _ := store.QueryRange(ctx, "X", domrepo.TF1h, testDay, testDay.AddDate(0, 0, 1))
	if len(hourly) != 6 {
		t.Fatalf("expected 6 hourly candles, got %d", len(hourly))
	}
	var vol, wantVol float64
	for _, c := range src {
		wantVol += c.Volume
	}
	for _, h := range hourly {
		if h.High != 12 {
			t.Fatalf("hourly high want 12, got %v", h.High)
		}
		if h.Low != 8 || h.Open != 8.5 || h.Close != 8.8 {
			t.Fatalf("unexpected hourly candle %+v", h)
		}
		vol += h.Volume
	}
	if vol != wantVol {
		t.Fatalf("volume want %v, got %v", wantVol, vol)
	}

	left, _ := store.QueryRange(ctx, "X", domrepo.TF15m, testDay, testDay.AddDate(0, 0, 1))
	if len(left) != 0 {
		t.Fatalf("source rows must be gone, %d left", len(left))
	}
	b, err := store.GetBackup(ctx, models.BackupKey{Symbol: "X", SourceTimeframe: "15m", TargetTimeframe: "1h", Date: testDay})
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if len(b.Rows) != 24 || b.CompressionRatio != 4 {
		t.Fatalf("backup want 24 rows ratio 4, got %d rows ratio %v", len(b.Rows), b.CompressionRatio)
	}
	if b.Rows[0].Features == nil {
		t.Fatalf("backup rows must carry source features")
	}
	feats, _ := store.QueryFeatures(ctx, "X", domrepo.TF1h, testDay, testDay.AddDate(0, 0, 1))
	if len(feats) != 6 {
		t.Fatalf("expected 6 hourly feature rows, got %d", len(feats))
	}
	if len(pub.events) != 1 || pub.events[0].Date != "2025-03-04" {
		t.Fatalf("expected one completion event, got %+v", pub.events)
	}
}

func TestConvertDayIdempotent(t *testing.T) {
	store := newMemStore()
	seed(t, store, domrepo.TF15m, fifteenMinuteDay("X"))
	agg := newTestAggregator(store)
	ctx := context.Background()

	if _, err := agg.ConvertDay(ctx, "X", testDay, pair15m1h); err != nil {
		t.Fatalf("first run: %v", err)
	}
	w, d := store.counts()
	res, err := agg.ConvertDay(ctx, "X", testDay, pair15m1h)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	w2, d2 := store.counts()
	if w2 != w || d2 != d {
		t.Fatalf("second run must not write: writes %d->%d deletes %d->%d", w, w2, d, d2)
	}
	if res.State != models.StateDone || !res.Skipped {
		t.Fatalf("second run must report done, got %+v", res)
	}
}

func TestConvertDayResumeRewritesTargetThenDeletes(t *testing.T) {
	store := newMemStore()
	seed(t, store, domrepo.TF15m, fifteenMinuteDay("X"))
	ctx := context.Background()

	// crash after the upsert step
	store.failOps["delete_range"] = errInjected
	agg := newTestAggregator(store)
	if _, err := agg.ConvertDay(ctx, "X", testDay, pair15m1h); err == nil {
		t.Fatalf("expected delete failure")
	}
	delete(store.failOps, "delete_range")
	w, _ := store.counts()

	res, err := agg.ConvertDay(ctx, "X", testDay, pair15m1h)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !res.Resumed || res.DeletedRows != 24 || res.TargetRows != 6 || res.State != models.StateDone {
		t.Fatalf("unexpected resume result %+v", res)
	}
	// target candles and features rewritten, backup left alone
	if w2, _ := store.counts(); w2 != w+2 {
		t.Fatalf("resume should write candles and features only: writes %d->%d", w, w2)
	}
}

func TestConvertDayResumeRepairsMissingTargetFeatures(t *testing.T) {
	store := newMemStore()
	seed(t, store, domrepo.TF15m, fifteenMinuteDay("X"))
	ctx := context.Background()
	agg := newTestAggregator(store)

	store.failOps["upsert_features"] = errInjected
	if _, err := agg.ConvertDay(ctx, "X", testDay, pair15m1h); err == nil {
		t.Fatalf("expected feature upsert failure")
	}
	delete(store.failOps, "upsert_features")
	if left, _ := store.QueryRange(ctx, "X", domrepo.TF15m, testDay, testDay.AddDate(0, 0, 1)); len(left) != 24 {
		t.Fatalf("source must survive a failed run, %d left", len(left))
	}

	res, err := agg.ConvertDay(ctx, "X", testDay, pair15m1h)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Resumed || res.State != models.StateDone {
		t.Fatalf("unexpected retry result %+v", res)
	}
	feats, _ := store.QueryFeatures(ctx, "X", domrepo.TF1h, testDay, testDay.AddDate(0, 0, 1))
	if len(feats) != 6 {
		t.Fatalf("done day must have 6 hourly feature rows, got %d", len(feats))
	}
	if left, _ := store.QueryRange(ctx, "X", domrepo.TF15m, testDay, testDay.AddDate(0, 0, 1)); len(left) != 0 {
		t.Fatalf("source rows must be gone after retry, %d left", len(left))
	}
}

func TestConvertDaySkipsTargetWithoutBackup(t *testing.T) {
	store := newMemStore()
	src := fifteenMinuteDay("X")
	seed(t, store, domrepo.TF15m, src)
	ctx := context.Background()
	_ = store.UpsertCandles(ctx, domrepo.TF1h, RollUp(src, domrepo.TF1h, time.UTC))

	res, err := newTestAggregator(store).ConvertDay(ctx, "X", testDay, pair15m1h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Skipped || res.DeletedRows != 0 {
		t.Fatalf("expected skip, got %+v", res)
	}
	left, _ := store.QueryRange(ctx, "X", domrepo.TF15m, testDay, testDay.AddDate(0, 0, 1))
	if len(left) != 24 {
		t.Fatalf("source rows must be untouched")
	}
}

func TestConvertDayBackupFailureLeavesSource(t *testing.T) {
	store := newMemStore()
	seed(t, store, domrepo.TF15m, fifteenMinuteDay("X"))
	store.failOps["save_backup"] = models.NewTransientStoreError("save_backup", errInjected)
	ctx := context.Background()

	res, err := newTestAggregator(store).ConvertDay(ctx, "X", testDay, pair15m1h)
	if err == nil || !models.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if res.State == models.StateDone {
		t.Fatalf("failed day must not be done")
	}
	if n, _ := store.CountRange(ctx, "X", domrepo.TF1h, testDay, testDay.AddDate(0, 0, 1)); n != 0 {
		t.Fatalf("no target rows may be written before the backup")
	}
	if n, _ := store.CountRange(ctx, "X", domrepo.TF15m, testDay, testDay.AddDate(0, 0, 1)); n != 24 {
		t.Fatalf("source rows must survive a failed backup")
	}
}

func TestConvertDayRejectsMalformedCandles(t *testing.T) {
	store := newMemStore()
	src := fifteenMinuteDay("X")
	src[3].Low = 20
	_ = store.UpsertCandles(context.Background(), domrepo.TF15m, src)
	_, err := newTestAggregator(store).ConvertDay(context.Background(), "X", testDay, pair15m1h)
	if !models.IsDataQuality(err) {
		t.Fatalf("expected data quality error, got %v", err)
	}
}

func TestRunIsolatesSymbolFailures(t *testing.T) {
	store := newMemStore()
	seed(t, store, domrepo.TF15m, fifteenMinuteDay("GOOD"))
	seed(t, store, domrepo.TF15m, fifteenMinuteDay("BAD"))
	store.failSymbols["BAD"] = true

	sum, err := newTestAggregator(store).Run(context.Background(), models.AggregationRequest{
		SourceTimeframe: "15m",
		TargetTimeframe: "1h",
		Date:            testDay,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Converted != 1 || sum.Failed != 1 || len(sum.Failures) != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestRunCatchUpWindow(t *testing.T) {
	store := newMemStore()
	seed(t, store, domrepo.TF15m, fifteenMinuteDay("X"))
	// clock is Wednesday 06:00, so the window ends on Tuesday
	sum, err := newTestAggregator(store).Run(context.Background(), models.AggregationRequest{SourceTimeframe: "15m", TargetTimeframe: "1h"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sum.Days) != 3 || !sum.Days[2].Equal(testDay) {
		t.Fatalf("unexpected days %v", sum.Days)
	}
	if sum.Converted != 1 {
		t.Fatalf("expected one converted day, got %+v", sum)
	}
}

func TestRunRejectsInvalidPair(t *testing.T) {
	_, err := newTestAggregator(newMemStore()).Run(context.Background(), models.AggregationRequest{SourceTimeframe: "5m", TargetTimeframe: "1d"})
	if !models.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCollectBackups(t *testing.T) {
	store := newMemStore()
	now := testDay.Add(30 * time.Hour)
	store.backups[models.BackupKey{Symbol: "OLD"}] = &models.CandleBackup{Symbol: "OLD", CreatedAt: now.AddDate(0, 0, -40)}
	store.backups[models.BackupKey{Symbol: "NEW"}] = &models.CandleBackup{Symbol: "NEW", CreatedAt: now.AddDate(0, 0, -1)}

	n, err := newTestAggregator(store).CollectBackups(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 removed backup, got %d (%v)", n, err)
	}
	if _, ok := store.backups[models.BackupKey{Symbol: "NEW"}]; !ok {
		t.Fatalf("recent backup must be kept")
	}
}

func TestRollUpConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(60)
		start := testDay.Add(time.Duration(rng.Intn(20)) * time.Hour)
		var src []models.Candle
		ts := start
		for i := 0; i < n; i++ {
			ts = ts.Add(time.Duration(1+rng.Intn(3)) * 15 * time.Minute)
			o := 50 + rng.Float64()*50
			c := 50 + rng.Float64()*50
			h := maxf(o, c) + rng.Float64()*5
			l := minf(o, c) - rng.Float64()*5
			src = append(src, models.Candle{Symbol: "R", Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: float64(rng.Intn(1000))})
		}
		// shuffle to check ordering does not matter
		shuffled := append([]models.Candle(nil), src...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		out := RollUp(shuffled, domrepo.TF1h, time.UTC)
		for _, b := range out {
			var members []models.Candle
			for _, c := range src {
				if c.Timestamp.Truncate(time.Hour).Equal(b.Timestamp) {
					members = append(members, c)
				}
			}
			if len(members) == 0 {
				t.Fatalf("bucket %v has no members", b.Timestamp)
			}
			hi, lo, vol := members[0].High, members[0].Low, 0.0
			for _, m := range members {
				hi = maxf(hi, m.High)
				lo = minf(lo, m.Low)
				vol += m.Volume
			}
			if b.High != hi || b.Low != lo || b.Volume != vol {
				t.Fatalf("iter %d: bucket %v not conserved: %+v", iter, b.Timestamp, b)
			}
			if b.Open != members[0].Open || b.Close != members[len(members)-1].Close {
				t.Fatalf("iter %d: open/close not first/last", iter)
			}
		}
	}
}

func TestRollUpFeatures(t *testing.T) {
	ts := testDay.Add(14 * time.Hour)
	in := []models.CandleFeatures{
		{Timestamp: ts, SMA5: models.Float(1), ATR14: models.Float(2), MoneyFlow: models.Float(10), HigherHigh: true},
		{Timestamp: ts.Add(15 * time.Minute), SMA5: models.Float(3), ATR14: models.Float(4), MoneyFlow: models.Float(-4)},
		{Timestamp: ts.Add(30 * time.Minute), ATR14: nil, VolumeRatio: models.Float(1.5), LowerLow: true},
	}
	out := RollUpFeatures(in, domrepo.TF1h, time.UTC)
	if len(out) != 1 {
		t.Fatalf("expected one bucket, got %d", len(out))
	}
	f := out[0]
	if *f.SMA5 != 3 {
		t.Fatalf("sma5 keeps last available value, got %v", *f.SMA5)
	}
	if *f.ATR14 != 3 {
		t.Fatalf("atr is averaged, got %v", *f.ATR14)
	}
	if *f.MoneyFlow != 6 {
		t.Fatalf("money flow is summed, got %v", *f.MoneyFlow)
	}
	if !f.HigherHigh || !f.LowerLow || f.InsideBar {
		t.Fatalf("flags are OR-ed: %+v", f)
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
