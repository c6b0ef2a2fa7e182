package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	domsvc "FinScan/internal/domain/service"
	"FinScan/internal/services/features"
	applogger "FinScan/pkg/logger"
)

// TimeframeAggregator rolls fine candles of a session day into the next
// coarser timeframe. Per (symbol, day, pair) the steps are
// backup -> upsert target -> delete source, so a failure at any point
// leaves the day retryable and readers never lose data.
type TimeframeAggregator struct {
	candles  domrepo.CandleStore
	backups  domrepo.BackupStore
	engine   *features.Engine
	calendar domsvc.TradingCalendar
	events   domrepo.EventPublisher
	metrics  domrepo.Metrics
	logger   *applogger.Logger

	historyBars  int
	catchUpDays  int
	retention    time.Duration
	storeTimeout time.Duration
	now          func() time.Time
}

type AggregatorOption func(*TimeframeAggregator)

func WithAggregatorEvents(p domrepo.EventPublisher) AggregatorOption {
	return func(a *TimeframeAggregator) { a.events = p }
}

func WithAggregatorMetrics(m domrepo.Metrics) AggregatorOption {
	return func(a *TimeframeAggregator) { a.metrics = orNopMetrics(m) }
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *TimeframeAggregator) { a.now = now }
}

// WithCatchUpDays sets how many past session days a run without an explicit
// date revisits. Days already done cost one range query each.
func WithCatchUpDays(n int) AggregatorOption {
	return func(a *TimeframeAggregator) {
		if n > 0 {
			a.catchUpDays = n
		}
	}
}

func WithBackupRetention(d time.Duration) AggregatorOption {
	return func(a *TimeframeAggregator) {
		if d > 0 {
			a.retention = d
		}
	}
}

func WithAggregatorStoreTimeout(d time.Duration) AggregatorOption {
	return func(a *TimeframeAggregator) {
		if d > 0 {
			a.storeTimeout = d
		}
	}
}

// WithHistoryBars sets how many trailing target candles feed indicator
// recomputation for the new buckets.
func WithHistoryBars(n int) AggregatorOption {
	return func(a *TimeframeAggregator) {
		if n > 0 {
			a.historyBars = n
		}
	}
}

func NewTimeframeAggregator(
	candles domrepo.CandleStore,
	backups domrepo.BackupStore,
	engine *features.Engine,
	calendar domsvc.TradingCalendar,
	logger *applogger.Logger,
	opts ...AggregatorOption,
) *TimeframeAggregator {
	a := &TimeframeAggregator{
		candles:      candles,
		backups:      backups,
		engine:       engine,
		calendar:     calendar,
		metrics:      nopMetrics{},
		logger:       logger,
		historyBars:  250,
		catchUpDays:  3,
		retention:    30 * 24 * time.Hour,
		storeTimeout: 30 * time.Second,
		now:          time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *TimeframeAggregator) loc() *time.Location { return a.calendar.Location() }

func (a *TimeframeAggregator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.storeTimeout)
}

// ConvertDay converts one symbol's session day for pair. It returns a
// DayResult describing the final state; an error means the day is left
// in a non-done state and will be retried by the next run.
func (a *TimeframeAggregator) ConvertDay(ctx context.Context, symbol string, day time.Time, pair domrepo.Pair) (models.DayResult, error) {
	from, to := domrepo.DayBounds(day, a.loc())
	res := models.DayResult{Symbol: symbol, Date: from, State: models.StatePending}
	key := models.BackupKey{Symbol: symbol, SourceTimeframe: string(pair.Source), TargetTimeframe: string(pair.Target), Date: from}

	sctx, cancel := a.storeCtx(ctx)
	src, err := a.candles.QueryRange(sctx, symbol, pair.Source, from, to)
	cancel()
	if err != nil {
		return res, fmt.Errorf("query source candles: %w", err)
	}
	res.SourceRows = len(src)
	if len(src) == 0 {
		res.State = models.StateDone
		res.Skipped = true
		res.SkippedReason = "no source rows"
		return res, nil
	}

	sctx, cancel = a.storeCtx(ctx)
	targetRows, err := a.candles.CountRange(sctx, symbol, pair.Target, from, to)
	cancel()
	if err != nil {
		return res, fmt.Errorf("count target candles: %w", err)
	}
	sctx, cancel = a.storeCtx(ctx)
	hasBackup, err := a.backups.HasBackup(sctx, key)
	cancel()
	if err != nil {
		return res, fmt.Errorf("check backup: %w", err)
	}

	switch {
	case targetRows > 0 && hasBackup:
		// An earlier run stopped after the backup. Target rows may be partial,
		// so they are rebuilt from the source and upserted again before the
		// delete; only the backup is kept as is.
		res.Resumed = true
	case targetRows > 0:
		res.State = models.StateDone
		res.Skipped = true
		res.TargetRows = targetRows
		res.SkippedReason = "target rows present without backup"
		a.logger.Warn("target candles exist without backup, skipping",
			applogger.String("symbol", symbol),
			applogger.String("pair", pair.String()),
			applogger.Date("date", from))
		return res, nil
	}

	for _, c := range src {
		if err := c.Validate(); err != nil {
			return res, err
		}
	}

	sctx, cancel = a.storeCtx(ctx)
	srcFeats, err := a.candles.QueryFeatures(sctx, symbol, pair.Source, from, to)
	cancel()
	if err != nil {
		return res, fmt.Errorf("query source features: %w", err)
	}

	rolled := RollUp(src, pair.Target, a.loc())
	rolledFeats, err := a.targetFeatures(ctx, symbol, pair, from, rolled, srcFeats)
	if err != nil {
		return res, err
	}
	res.TargetRows = len(rolled)

	if !hasBackup {
		backup := buildBackup(key, src, srcFeats, len(rolled), a.now())
		sctx, cancel = a.storeCtx(ctx)
		err = a.backups.SaveBackup(sctx, backup)
		cancel()
		if err != nil {
			return res, fmt.Errorf("save backup: %w", err)
		}
	}
	res.State = models.StateBackedUp

	sctx, cancel = a.storeCtx(ctx)
	err = a.candles.UpsertCandles(sctx, pair.Target, rolled)
	cancel()
	if err != nil {
		return res, fmt.Errorf("upsert target candles: %w", err)
	}
	sctx, cancel = a.storeCtx(ctx)
	err = a.candles.UpsertFeatures(sctx, pair.Target, rolledFeats)
	cancel()
	if err != nil {
		return res, fmt.Errorf("upsert target features: %w", err)
	}
	res.State = models.StateAggregated

	if err := a.deleteSource(ctx, symbol, pair, from, to, &res); err != nil {
		return res, err
	}
	a.logger.Info("aggregation completed",
		applogger.String("symbol", symbol),
		applogger.String("pair", pair.String()),
		applogger.Date("date", from),
		applogger.Bool("resumed", res.Resumed),
		applogger.Int("source_rows", res.SourceRows),
		applogger.Int("target_rows", res.TargetRows))
	res.State = models.StateDone
	a.publish(ctx, pair, res)
	return res, nil
}

func (a *TimeframeAggregator) deleteSource(ctx context.Context, symbol string, pair domrepo.Pair, from, to time.Time, res *models.DayResult) error {
	sctx, cancel := a.storeCtx(ctx)
	n, err := a.candles.DeleteRange(sctx, symbol, pair.Source, from, to)
	cancel()
	if err != nil {
		return fmt.Errorf("delete source candles: %w", err)
	}
	res.DeletedRows = n
	res.State = models.StateSourceDeleted
	return nil
}

// targetFeatures rolls source features up and overlays the target profile
// recomputed over trailing target history.
func (a *TimeframeAggregator) targetFeatures(ctx context.Context, symbol string, pair domrepo.Pair, from time.Time, rolled []models.Candle, srcFeats []models.CandleFeatures) ([]models.CandleFeatures, error) {
	byTS := map[int64]models.CandleFeatures{}
	for _, f := range RollUpFeatures(srcFeats, pair.Target, a.loc()) {
		byTS[f.Timestamp.UnixNano()] = f
	}
	out := make([]models.CandleFeatures, len(rolled))
	for i, c := range rolled {
		f, ok := byTS[c.Timestamp.UnixNano()]
		if !ok {
			f = models.CandleFeatures{Symbol: c.Symbol, Timeframe: c.Timeframe, Timestamp: c.Timestamp}
		}
		out[i] = f
	}

	sctx, cancel := a.storeCtx(ctx)
	history, err := a.candles.QueryRange(sctx, symbol, pair.Target, from.Add(-historySpan(pair.Target, a.historyBars)), from)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("query target history: %w", err)
	}
	if len(history) > a.historyBars {
		history = history[len(history)-a.historyBars:]
	}
	series := make([]models.Candle, 0, len(history)+len(rolled))
	series = append(series, history...)
	series = append(series, rolled...)
	computed, err := a.engine.Compute(series, features.ProfileFor(pair.Target, a.loc()))
	if err != nil {
		return nil, fmt.Errorf("compute target features: %w", err)
	}
	for i := range out {
		Overlay(&out[i], computed[len(history)+i])
	}
	return out, nil
}

// historySpan is a calendar span generous enough to hold bars target
// candles given sessions, weekends and holidays.
func historySpan(tf domrepo.Timeframe, bars int) time.Duration {
	if tf == domrepo.TF1d {
		return time.Duration(bars*7/5+14) * 24 * time.Hour
	}
	perDay := int((6*time.Hour + 30*time.Minute) / tf.Duration())
	if perDay < 1 {
		perDay = 1
	}
	days := bars/perDay + 1
	return time.Duration(days*7/5+7) * 24 * time.Hour
}

func buildBackup(key models.BackupKey, src []models.Candle, feats []models.CandleFeatures, targetRows int, now time.Time) *models.CandleBackup {
	byTS := make(map[int64]models.CandleFeatures, len(feats))
	for _, f := range feats {
		byTS[f.Timestamp.UnixNano()] = f
	}
	rows := make([]models.BackupRow, len(src))
	for i, c := range src {
		rows[i] = models.BackupRow{Candle: c}
		if f, ok := byTS[c.Timestamp.UnixNano()]; ok {
			f := f
			rows[i].Features = &f
		}
	}
	ratio := 0.0
	if targetRows > 0 {
		ratio = float64(len(src)) / float64(targetRows)
	}
	return &models.CandleBackup{
		Symbol:           key.Symbol,
		SourceTimeframe:  key.SourceTimeframe,
		TargetTimeframe:  key.TargetTimeframe,
		Date:             key.Date,
		SourceCount:      len(src),
		TargetCount:      targetRows,
		CompressionRatio: ratio,
		CreatedAt:        now,
		Rows:             rows,
	}
}

func (a *TimeframeAggregator) publish(ctx context.Context, pair domrepo.Pair, res models.DayResult) {
	if a.events == nil {
		return
	}
	ev := models.AggregationEvent{
		Symbol:          res.Symbol,
		SourceTimeframe: string(pair.Source),
		TargetTimeframe: string(pair.Target),
		Date:            res.Date.Format("2006-01-02"),
		SourceRows:      res.SourceRows,
		TargetRows:      res.TargetRows,
		CompletedAt:     a.now(),
	}
	if err := a.events.PublishAggregation(ctx, ev); err != nil {
		a.metrics.RecordError("aggregation_event")
		a.logger.Warn("publish aggregation event failed",
			applogger.String("symbol", res.Symbol),
			applogger.Error(err))
	}
}

// Days resolves the session days a request covers. An explicit date is
// taken as is; otherwise the last catch-up window of trading days.
func (a *TimeframeAggregator) Days(req models.AggregationRequest) []time.Time {
	if !req.Date.IsZero() {
		return []time.Time{domrepo.DayStart(req.Date, a.loc())}
	}
	return a.calendar.PreviousTradingDays(a.now(), a.catchUpDays)
}

// Run converts every requested symbol-day. Per-symbol failures are logged
// and counted; only invalid requests and cancellation return an error.
func (a *TimeframeAggregator) Run(ctx context.Context, req models.AggregationRequest) (models.RunSummary, error) {
	start := a.now()
	pair, err := domrepo.ParsePair(req.SourceTimeframe, req.TargetTimeframe)
	if err != nil {
		return models.RunSummary{}, err
	}
	sum := models.RunSummary{SourceTimeframe: string(pair.Source), TargetTimeframe: string(pair.Target)}
	seen := map[string]struct{}{}

	for _, day := range a.Days(req) {
		sum.Days = append(sum.Days, day)
		symbols := req.Symbols
		if len(symbols) == 0 {
			from, to := domrepo.DayBounds(day, a.loc())
			sctx, cancel := a.storeCtx(ctx)
			symbols, err = a.candles.DistinctSymbols(sctx, pair.Source, from, to)
			cancel()
			if err != nil {
				sum.Failed++
				sum.Failures = append(sum.Failures, fmt.Sprintf("%s: list symbols: %v", day.Format("2006-01-02"), err))
				a.metrics.RecordError("aggregation_symbols")
				a.logger.Error("list symbols failed",
					applogger.String("pair", pair.String()),
					applogger.Date("date", day),
					applogger.Error(err))
				continue
			}
		}
		for _, sym := range symbols {
			if err := ctx.Err(); err != nil {
				sum.Duration = a.now().Sub(start)
				return sum, err
			}
			seen[sym] = struct{}{}
			res, err := a.ConvertDay(ctx, sym, day, pair)
			if err != nil {
				sum.Failed++
				sum.Failures = append(sum.Failures, fmt.Sprintf("%s %s: %v", sym, day.Format("2006-01-02"), err))
				a.metrics.RecordAggregation(pair.String(), "failed")
				a.logger.Error("aggregation failed",
					applogger.String("symbol", sym),
					applogger.String("pair", pair.String()),
					applogger.Date("date", day),
					applogger.Bool("transient", models.IsTransient(err)),
					applogger.Error(err))
				continue
			}
			if res.Skipped {
				sum.AlreadyDone++
				a.metrics.RecordAggregation(pair.String(), "done")
			} else {
				sum.Converted++
				a.metrics.RecordAggregation(pair.String(), "converted")
			}
		}
	}
	sum.Symbols = len(seen)
	sum.Duration = a.now().Sub(start)
	a.logger.Info("aggregation run finished",
		applogger.String("pair", pair.String()),
		applogger.Int("days", len(sum.Days)),
		applogger.Int("converted", sum.Converted),
		applogger.Int("already_done", sum.AlreadyDone),
		applogger.Int("failed", sum.Failed),
		applogger.Duration("duration_ms", sum.Duration))
	return sum, nil
}

// RunAll runs every default pair, finest first, so a day's 5m rows can
// reach 1h within a single pass.
func (a *TimeframeAggregator) RunAll(ctx context.Context) ([]models.RunSummary, error) {
	var out []models.RunSummary
	for _, p := range domrepo.DefaultPairs {
		s, err := a.Run(ctx, models.AggregationRequest{SourceTimeframe: string(p.Source), TargetTimeframe: string(p.Target)})
		out = append(out, s)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// CollectBackups deletes backups older than the retention window.
func (a *TimeframeAggregator) CollectBackups(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.retention)
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	n, err := a.backups.DeleteBackupsBefore(sctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired backups: %w", err)
	}
	if n > 0 {
		a.logger.Info("expired backups removed", applogger.Int("count", n), applogger.Time("cutoff", cutoff))
	}
	return n, nil
}
