package features

import (
	"time"

	domrepo "FinScan/internal/domain/repository"
)

// Profile is the indicator set computed for one timeframe.
type Profile struct {
	Timeframe   domrepo.Timeframe
	SMAPeriods  []int
	EMAPeriods  []int
	RSI         bool
	ATR         bool
	VWAP        bool
	Volume      bool // volume SMA20 + ratio + money flow
	Volatility  bool
	Levels      bool // support/resistance 20 + breakout flags
	TrendPeriod int
	// Location decides session days for VWAP resets.
	Location *time.Location
}

const (
	rsiPeriod    = 14
	atrPeriod    = 14
	levelsPeriod = 20
	volumePeriod = 20
	volPeriod    = 20
)

// ProfileFor returns the fixed indicator profile of tf. Fine timeframes get
// fewer, faster indicators; daily gets the full set.
func ProfileFor(tf domrepo.Timeframe, loc *time.Location) Profile {
	p := Profile{
		Timeframe:   tf,
		RSI:         true,
		VWAP:        true,
		Volume:      true,
		Levels:      true,
		TrendPeriod: 5,
		Location:    loc,
	}
	switch tf {
	case domrepo.TF5m:
		p.SMAPeriods = []int{5, 10, 20}
		p.EMAPeriods = []int{9, 21}
	case domrepo.TF15m:
		p.SMAPeriods = []int{5, 10, 20}
		p.EMAPeriods = []int{9, 12, 21, 26}
		p.ATR = true
	case domrepo.TF1h:
		p.SMAPeriods = []int{5, 10, 20, 50}
		p.EMAPeriods = []int{9, 12, 21, 26, 50}
		p.ATR = true
		p.Volatility = true
		p.TrendPeriod = 10
	default:
		p.SMAPeriods = []int{5, 10, 20, 50, 200}
		p.EMAPeriods = []int{9, 12, 21, 26, 50}
		p.ATR = true
		p.Volatility = true
		p.TrendPeriod = 20
	}
	return p
}

// MinHistory is the number of candles needed before every indicator of the
// profile is available.
func (p Profile) MinHistory() int {
	n := 2
	for _, x := range append(append([]int{}, p.SMAPeriods...), p.EMAPeriods...) {
		if x > n {
			n = x
		}
	}
	if p.RSI && rsiPeriod+1 > n {
		n = rsiPeriod + 1
	}
	if p.ATR && atrPeriod+1 > n {
		n = atrPeriod + 1
	}
	if (p.Levels || p.Volatility) && levelsPeriod+1 > n {
		n = levelsPeriod + 1
	}
	if p.TrendPeriod+1 > n {
		n = p.TrendPeriod + 1
	}
	return n
}
