package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	applogger "FinScan/pkg/logger"
)

// AggregationEnqueuer hands an aggregation request to background workers.
type AggregationEnqueuer interface {
	EnqueueAggregation(ctx context.Context, req models.AggregationRequest) (string, error)
}

// ScanService is the facade the transport layer talks to.
type ScanService struct {
	orchestrator *ScanOrchestrator
	cache        *ResultCache
	aggregator   *TimeframeAggregator
	enqueuer     AggregationEnqueuer
	logger       *applogger.Logger
}

type ScanServiceOption func(*ScanService)

// WithAggregationEnqueuer enables asynchronous aggregation triggers.
func WithAggregationEnqueuer(e AggregationEnqueuer) ScanServiceOption {
	return func(s *ScanService) { s.enqueuer = e }
}

func NewScanService(orchestrator *ScanOrchestrator, cache *ResultCache, aggregator *TimeframeAggregator, logger *applogger.Logger, opts ...ScanServiceOption) *ScanService {
	s := &ScanService{orchestrator: orchestrator, cache: cache, aggregator: aggregator, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// scanQuery is a validated ScanRequest plus the filter map used as the
// cache identity. Batch size is excluded: it never changes the result set.
type scanQuery struct {
	scanType string
	tf       domrepo.Timeframe
	config   models.ScanConfig
	keyMap   map[string]any
}

func buildScanQuery(req models.ScanRequest) (*scanQuery, error) {
	scanType := req.ScanType
	if scanType == "" {
		scanType = models.ScanTypeAccumulation
	}
	if scanType != models.ScanTypeAccumulation {
		return nil, models.NewConfigurationError("scan_type", "unsupported scan type "+scanType)
	}
	tf, err := domrepo.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, err
	}
	if req.MinConfidence < 0 || req.MinConfidence > 100 {
		return nil, models.NewConfigurationError("min_confidence", "must be within [0, 100]")
	}
	if req.UniverseLimit <= 0 {
		return nil, models.NewConfigurationError("universe_limit", "must be positive")
	}
	if req.BatchSize <= 0 {
		return nil, models.NewConfigurationError("batch_size", "must be positive")
	}

	phases, err := normalizePhases(req.Phases)
	if err != nil {
		return nil, err
	}
	filters := models.ScanFilters{
		MinConfidence: req.MinConfidence,
		Phases:        phases,
		MinPrice:      req.MinPrice,
		MinVolume:     req.MinVolume,
		Symbols:       normalizeSymbols(req.Symbols),
	}
	keyMap, err := CanonicalFilters(filters)
	if err != nil {
		return nil, err
	}
	keyMap["universe_limit"] = req.UniverseLimit

	return &scanQuery{
		scanType: scanType,
		tf:       tf,
		config: models.ScanConfig{
			Filters:       filters,
			Timeframe:     string(tf),
			UniverseLimit: req.UniverseLimit,
			BatchSize:     req.BatchSize,
		},
		keyMap: keyMap,
	}, nil
}

func normalizePhases(in []string) ([]models.Phase, error) {
	seen := map[models.Phase]struct{}{}
	var out []models.Phase
	for _, s := range in {
		p := models.Phase(strings.ToUpper(strings.TrimSpace(s)))
		if p != models.PhaseC && p != models.PhaseD {
			return nil, models.NewConfigurationError("phases", "unknown phase "+s)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func normalizeSymbols(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// RunScan serves a cached result when a live one exists, otherwise scans
// and stores the outcome. Cache failures are logged and never fail the scan.
func (s *ScanService) RunScan(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	q, err := buildScanQuery(req)
	if err != nil {
		return nil, err
	}

	if !req.ForceRefresh {
		entry, err := s.cache.Get(ctx, q.scanType, string(q.tf), q.keyMap)
		if err != nil {
			s.logger.Warn("result cache read failed", applogger.String("timeframe", string(q.tf)), applogger.Error(err))
		} else if entry != nil {
			return resultFromEntry(entry), nil
		}
	}

	res, err := s.orchestrator.Scan(ctx, q.config)
	if err != nil {
		return nil, err
	}

	meta := models.CacheMetadata{
		ScanID:       res.ScanID,
		UniverseSize: res.ScannedCount,
		ExecutionMs:  res.DurationMs,
		DataAsOf:     res.DataAsOf,
	}
	if _, err := s.cache.Put(ctx, q.scanType, string(q.tf), q.keyMap, res.Matches, meta, 0); err != nil {
		s.logger.Warn("result cache write failed",
			applogger.String("scan_id", res.ScanID),
			applogger.String("timeframe", string(q.tf)),
			applogger.Error(err))
	}
	return res, nil
}

func resultFromEntry(e *models.CacheEntry) *models.ScanResult {
	return &models.ScanResult{
		ScanID:       e.Metadata.ScanID,
		ScanType:     e.ScanType,
		Timeframe:    e.Timeframe,
		ScannedCount: e.Metadata.UniverseSize,
		Matches:      e.Results,
		DurationMs:   e.Metadata.ExecutionMs,
		DataAsOf:     e.Metadata.DataAsOf,
		FromCache:    true,
	}
}

// TriggerAggregation validates the request synchronously, then queues it
// when async is set and a queue is wired, or runs it inline.
func (s *ScanService) TriggerAggregation(ctx context.Context, req models.AggregationRequest, async bool) (*models.AggregationTicket, error) {
	if _, err := domrepo.ParsePair(req.SourceTimeframe, req.TargetTimeframe); err != nil {
		return nil, err
	}
	if async && s.enqueuer != nil {
		id, err := s.enqueuer.EnqueueAggregation(ctx, req)
		if err != nil {
			return nil, err
		}
		s.logger.Info("aggregation queued", applogger.String("job_id", id),
			applogger.String("source", req.SourceTimeframe), applogger.String("target", req.TargetTimeframe))
		return &models.AggregationTicket{JobID: id, Queued: true}, nil
	}
	sum, err := s.aggregator.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return &models.AggregationTicket{Summary: &sum}, nil
}

// ParseAggregationDate resolves an optional YYYY-MM-DD in the exchange zone.
func (s *ScanService) ParseAggregationDate(date string) (time.Time, error) {
	if date == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseInLocation("2006-01-02", date, s.aggregator.loc())
	if err != nil {
		return time.Time{}, models.NewConfigurationError("date", "expected YYYY-MM-DD")
	}
	return d, nil
}

func (s *ScanService) GetCacheStats(ctx context.Context) (models.CacheStats, error) {
	return s.cache.Stats(ctx)
}

func (s *ScanService) InvalidateCache(ctx context.Context, scanType, timeframe string) (int, error) {
	return s.cache.Invalidate(ctx, scanType, timeframe)
}
