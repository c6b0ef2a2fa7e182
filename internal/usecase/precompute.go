package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	applogger "FinScan/pkg/logger"
)

// PrecomputeGrid is the set of scans kept warm in the result cache.
type PrecomputeGrid struct {
	Timeframes    []string   `yaml:"timeframes"`
	Confidences   []int      `yaml:"confidences"`
	PhaseSets     [][]string `yaml:"phase_sets"`
	UniverseLimit int        `yaml:"universe_limit"`
	BatchSize     int        `yaml:"batch_size"`
}

// DefaultPrecomputeGrid covers the daily and hourly scans most users ask for.
func DefaultPrecomputeGrid() PrecomputeGrid {
	return PrecomputeGrid{
		Timeframes:    []string{"1d", "1h"},
		Confidences:   []int{50, 70, 85},
		PhaseSets:     [][]string{{"C"}, {"D"}, nil},
		UniverseLimit: 500,
		BatchSize:     20,
	}
}

// Requests expands the grid in timeframe, confidence, phase order.
func (g PrecomputeGrid) Requests() []models.ScanRequest {
	phaseSets := g.PhaseSets
	if len(phaseSets) == 0 {
		phaseSets = [][]string{nil}
	}
	var out []models.ScanRequest
	for _, tf := range g.Timeframes {
		for _, conf := range g.Confidences {
			for _, phases := range phaseSets {
				out = append(out, models.ScanRequest{
					ScanType:      models.ScanTypeAccumulation,
					Timeframe:     tf,
					MinConfidence: conf,
					Phases:        phases,
					UniverseLimit: g.UniverseLimit,
					BatchSize:     g.BatchSize,
					ForceRefresh:  true,
				})
			}
		}
	}
	return out
}

// SweepReport summarises one precompute pass.
type SweepReport struct {
	Cells    int           `json:"cells"`
	Warmed   int           `json:"warmed"`
	Failed   int           `json:"failed"`
	Failures []string      `json:"failures,omitempty"`
	Expired  int           `json:"expired_removed"`
	Duration time.Duration `json:"duration"`
}

type scanRunner interface {
	RunScan(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error)
}

// Precomputer warms the result cache over a fixed grid and sweeps out
// expired entries. Cells run one after another.
type Precomputer struct {
	scans  scanRunner
	cache  *ResultCache
	grid   PrecomputeGrid
	logger *applogger.Logger
	now    func() time.Time
}

func NewPrecomputer(scans *ScanService, cache *ResultCache, grid PrecomputeGrid, logger *applogger.Logger) *Precomputer {
	return &Precomputer{scans: scans, cache: cache, grid: grid, logger: logger, now: time.Now}
}

// Warm runs every grid cell. A failing cell is logged and skipped; only
// cancellation stops the sweep early.
func (p *Precomputer) Warm(ctx context.Context) (SweepReport, error) {
	start := p.now()
	var rep SweepReport
	for _, req := range p.grid.Requests() {
		if err := ctx.Err(); err != nil {
			rep.Duration = p.now().Sub(start)
			return rep, err
		}
		rep.Cells++
		res, err := p.scans.RunScan(ctx, req)
		if err != nil {
			rep.Failed++
			cell := fmt.Sprintf("%s/%d/%v", req.Timeframe, req.MinConfidence, req.Phases)
			rep.Failures = append(rep.Failures, cell+": "+err.Error())
			p.logger.Error("precompute cell failed", applogger.String("cell", cell), applogger.Error(err))
			continue
		}
		rep.Warmed++
		p.logger.Debug("precompute cell warmed",
			applogger.String("timeframe", req.Timeframe),
			applogger.Int("min_confidence", req.MinConfidence),
			applogger.Strings("phases", req.Phases),
			applogger.Int("matches", len(res.Matches)))
	}
	rep.Duration = p.now().Sub(start)
	p.logger.Info("precompute sweep finished",
		applogger.Int("cells", rep.Cells),
		applogger.Int("warmed", rep.Warmed),
		applogger.Int("failed", rep.Failed),
		applogger.Duration("duration", rep.Duration))
	return rep, nil
}

// Cleanup removes expired cache entries.
func (p *Precomputer) Cleanup(ctx context.Context) (int, error) {
	n, err := p.cache.CleanupExpired(ctx)
	if err != nil {
		return 0, err
	}
	p.logger.Info("expired scan results removed", applogger.Int("count", n))
	return n, nil
}

// Sweep is the daily job: warm the grid, then clean up.
func (p *Precomputer) Sweep(ctx context.Context) (SweepReport, error) {
	rep, err := p.Warm(ctx)
	if err != nil {
		return rep, err
	}
	n, err := p.Cleanup(ctx)
	if err != nil {
		p.logger.Warn("cache cleanup failed", applogger.Error(err))
		return rep, nil
	}
	rep.Expired = n
	return rep, nil
}
