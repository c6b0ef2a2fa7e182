// Package pattern implements the two-phase accumulation heuristic: a
// consolidation range followed by a spring (phase C) or a sign of strength
// (phase D).
package pattern

import (
	"fmt"

	"FinScan/internal/domain/models"
)

// Config tunes a detection pass.
type Config struct {
	// RangeLookback candles preceding the detection window form the range.
	RangeLookback int `yaml:"range_lookback" default:"60"`
	// DetectionWindow is the number of most recent candles searched for
	// phase C/D events.
	DetectionWindow int            `yaml:"detection_window" default:"10"`
	MinRangePct     float64        `yaml:"min_range_pct" default:"5"`
	MaxRangePct     float64        `yaml:"max_range_pct" default:"30"`
	MinConfidence   int            `yaml:"min_confidence" default:"70"`
	Phases          []models.Phase `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		RangeLookback:   60,
		DetectionWindow: 10,
		MinRangePct:     5,
		MaxRangePct:     30,
		MinConfidence:   70,
	}
}

// Validate rejects configurations the detector cannot honour.
func (c Config) Validate() error {
	if c.RangeLookback < 2 {
		return models.NewConfigurationError("range_lookback", "must be at least 2")
	}
	if c.DetectionWindow < 3 {
		return models.NewConfigurationError("detection_window", "must be at least 3")
	}
	if c.MinRangePct < 0 || c.MaxRangePct <= c.MinRangePct {
		return models.NewConfigurationError("range_pct", fmt.Sprintf("invalid band [%v, %v]", c.MinRangePct, c.MaxRangePct))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return models.NewConfigurationError("min_confidence", "must be within 0..100")
	}
	for _, p := range c.Phases {
		if p != models.PhaseC && p != models.PhaseD {
			return models.NewConfigurationError("phases", fmt.Sprintf("unknown phase %q", p))
		}
	}
	return nil
}

// MinCandles is the shortest window Detect accepts.
func (c Config) MinCandles() int { return c.RangeLookback + c.DetectionWindow }

func (c Config) allows(p models.Phase) bool {
	return models.ScanFilters{Phases: c.Phases}.AllowsPhase(p)
}

// Range is the consolidation zone found before the detection window.
type Range struct {
	Support    float64
	Resistance float64
	WidthPct   float64
	AvgVolume  float64
}

// FindRange computes support/resistance over the lookback preceding the
// detection window.
func FindRange(candles []models.Candle, cfg Config) (Range, error) {
	n := len(candles)
	if n < cfg.MinCandles() {
		sym := ""
		if n > 0 {
			sym = candles[0].Symbol
		}
		return Range{}, models.NewDataQualityError(sym, fmt.Sprintf("insufficient history: %d candles, need %d", n, cfg.MinCandles()))
	}
	win := candles[n-cfg.MinCandles() : n-cfg.DetectionWindow]
	r := Range{Support: win[0].Low, Resistance: win[0].High}
	var vol float64
	for _, c := range win {
		if c.Low < r.Support {
			r.Support = c.Low
		}
		if c.High > r.Resistance {
			r.Resistance = c.High
		}
		vol += c.Volume
	}
	r.AvgVolume = vol / float64(len(win))
	if r.Support > 0 {
		r.WidthPct = (r.Resistance - r.Support) / r.Support * 100
	}
	return r, nil
}

// Detect runs one top-level detection pass. It returns nil when no phase
// qualifies at cfg.MinConfidence. Phase C is evaluated first and, when it
// qualifies, phase D is not evaluated.
func Detect(candles []models.Candle, cfg Config) (*models.ScanMatch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng, err := FindRange(candles, cfg)
	if err != nil {
		return nil, err
	}
	if rng.Support <= 0 || rng.WidthPct < cfg.MinRangePct || rng.WidthPct > cfg.MaxRangePct {
		return nil, nil
	}

	if cfg.allows(models.PhaseC) {
		if score, flags, ok := phaseC(candles, rng, cfg); ok && score >= cfg.MinConfidence {
			return newMatch(candles, rng, models.PhaseC, score, flags), nil
		}
	}
	if cfg.allows(models.PhaseD) {
		if score, flags, ok := phaseD(candles, rng, cfg); ok && score >= cfg.MinConfidence {
			return newMatch(candles, rng, models.PhaseD, score, flags), nil
		}
	}
	return nil, nil
}

// phaseC looks for a spring among the last DetectionWindow candles of the
// recent block, excluding the final two so a following candle always exists.
// The best scoring spring wins; ties go to the earliest.
func phaseC(candles []models.Candle, rng Range, cfg Config) (int, []string, bool) {
	n := len(candles)
	last := candles[n-1]
	start := n - cfg.DetectionWindow - 2
	end := n - 2
	best, found := -1, false
	var bestFlags []string
	for j := start; j < end; j++ {
		c := candles[j]
		if !(c.Low <= rng.Support*0.98 && c.Close > rng.Support) {
			continue
		}
		score := 50
		flags := []string{"spring"}
		next := candles[j+1]
		if next.Low > rng.Support*0.99 {
			score += 20
			flags = append(flags, "test_held")
		}
		if next.Volume > 1.5*rng.AvgVolume {
			score += 15
			flags = append(flags, "test_volume")
		}
		if last.Close >= rng.Support*1.02 {
			score += 15
			flags = append(flags, "recovered")
		}
		if score > best {
			best, bestFlags, found = score, flags, true
		}
	}
	return best, bestFlags, found
}

// phaseD looks for a close above resistance in the detection window.
func phaseD(candles []models.Candle, rng Range, cfg Config) (int, []string, bool) {
	n := len(candles)
	last := candles[n-1]
	best, found := -1, false
	var bestFlags []string
	for j := n - cfg.DetectionWindow; j < n; j++ {
		c := candles[j]
		if c.Close <= rng.Resistance {
			continue
		}
		score := 60
		flags := []string{"sign_of_strength"}
		if c.Volume > 1.3*rng.AvgVolume {
			score += 20
			flags = append(flags, "breakout_volume")
		}
		if j < n-1 {
			held := true
			for _, s := range candles[j+1:] {
				if s.Low <= rng.Support*1.02 {
					held = false
					break
				}
			}
			if held {
				score += 10
				flags = append(flags, "backup_held")
			}
		}
		if last.Close >= rng.Resistance*1.05 {
			score += 10
			flags = append(flags, "markup")
		}
		if score > best {
			best, bestFlags, found = score, flags, true
		}
	}
	return best, bestFlags, found
}

func newMatch(candles []models.Candle, rng Range, phase models.Phase, score int, flags []string) *models.ScanMatch {
	last := candles[len(candles)-1]
	if score > 100 {
		score = 100
	}
	return &models.ScanMatch{
		Symbol:          last.Symbol,
		Phase:           phase,
		Confidence:      score,
		SupportLevel:    rng.Support,
		ResistanceLevel: rng.Resistance,
		RangeWidthPct:   rng.WidthPct,
		AvgVolume:       rng.AvgVolume,
		LastPrice:       last.Close,
		Volume:          last.Volume,
		AnalysisFlags:   flags,
		Timestamp:       last.Timestamp,
		Timeframe:       last.Timeframe,
	}
}
