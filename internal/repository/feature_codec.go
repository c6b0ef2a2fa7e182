package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
)

// compactFeatures is the stored form of CandleFeatures. Indicator names are
// shortened to keep the payload column small; identity lives in the row.
type compactFeatures struct {
	S5   *float64 `json:"s5,omitempty"`
	S10  *float64 `json:"s10,omitempty"`
	S20  *float64 `json:"s20,omitempty"`
	S50  *float64 `json:"s50,omitempty"`
	S200 *float64 `json:"s200,omitempty"`
	E9   *float64 `json:"e9,omitempty"`
	E12  *float64 `json:"e12,omitempty"`
	E21  *float64 `json:"e21,omitempty"`
	E26  *float64 `json:"e26,omitempty"`
	E50  *float64 `json:"e50,omitempty"`
	RSI  *float64 `json:"rsi,omitempty"`
	ATR  *float64 `json:"atr,omitempty"`
	Vol  *float64 `json:"vl,omitempty"`
	VWAP *float64 `json:"vw,omitempty"`
	VSMA *float64 `json:"vs,omitempty"`
	VR   *float64 `json:"vr,omitempty"`
	MF   *float64 `json:"mf,omitempty"`
	Sup  *float64 `json:"sp,omitempty"`
	Res  *float64 `json:"rs,omitempty"`
	Tr   *int     `json:"tr,omitempty"`
	HH   bool     `json:"hh,omitempty"`
	LL   bool     `json:"ll,omitempty"`
	IB   bool     `json:"ib,omitempty"`
	BU   bool     `json:"bu,omitempty"`
	BD   bool     `json:"bd,omitempty"`
}

// EncodeFeatures serialises indicators with short keys. Unavailable
// indicators and false flags are omitted.
func EncodeFeatures(f models.CandleFeatures) ([]byte, error) {
	c := compactFeatures{
		S5: f.SMA5, S10: f.SMA10, S20: f.SMA20, S50: f.SMA50, S200: f.SMA200,
		E9: f.EMA9, E12: f.EMA12, E21: f.EMA21, E26: f.EMA26, E50: f.EMA50,
		RSI: f.RSI14, ATR: f.ATR14, Vol: f.Volatility20,
		VWAP: f.VWAP, VSMA: f.VolumeSMA20, VR: f.VolumeRatio, MF: f.MoneyFlow,
		Sup: f.Support20, Res: f.Resistance20, Tr: f.Trend,
		HH: f.HigherHigh, LL: f.LowerLow, IB: f.InsideBar, BU: f.BreakoutUp, BD: f.BreakoutDown,
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	return b, nil
}

// DecodeFeatures restores the named form for the given row identity.
func DecodeFeatures(symbol, tf string, ts time.Time, payload []byte) (models.CandleFeatures, error) {
	var c compactFeatures
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &c); err != nil {
			return models.CandleFeatures{}, fmt.Errorf("decode features: %w", err)
		}
	}
	return models.CandleFeatures{
		Symbol: symbol, Timeframe: tf, Timestamp: ts,
		SMA5: c.S5, SMA10: c.S10, SMA20: c.S20, SMA50: c.S50, SMA200: c.S200,
		EMA9: c.E9, EMA12: c.E12, EMA21: c.E21, EMA26: c.E26, EMA50: c.E50,
		RSI14: c.RSI, ATR14: c.ATR, Volatility20: c.Vol,
		VWAP: c.VWAP, VolumeSMA20: c.VSMA, VolumeRatio: c.VR, MoneyFlow: c.MF,
		Support20: c.Sup, Resistance20: c.Res, Trend: c.Tr,
		HigherHigh: c.HH, LowerLow: c.LL, InsideBar: c.IB, BreakoutUp: c.BU, BreakoutDown: c.BD,
	}, nil
}

// backupRow is the stored form of a BackupRow inside the backup rows column.
type backupRow struct {
	T  time.Time       `json:"t"`
	O  float64         `json:"o"`
	H  float64         `json:"h"`
	L  float64         `json:"l"`
	C  float64         `json:"c"`
	V  float64         `json:"v"`
	OI *float64        `json:"oi,omitempty"`
	F  json.RawMessage `json:"f,omitempty"`
}

func encodeBackupRows(rows []models.BackupRow) ([]byte, error) {
	out := make([]backupRow, len(rows))
	for i, r := range rows {
		out[i] = backupRow{
			T: r.Candle.Timestamp, O: r.Candle.Open, H: r.Candle.High, L: r.Candle.Low,
			C: r.Candle.Close, V: r.Candle.Volume, OI: r.Candle.OpenInterest,
		}
		if r.Features != nil {
			b, err := EncodeFeatures(*r.Features)
			if err != nil {
				return nil, err
			}
			out[i].F = b
		}
	}
	return json.Marshal(out)
}

func decodeBackupRows(symbol, tf string, payload []byte) ([]models.BackupRow, error) {
	var in []backupRow
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode backup rows: %w", err)
	}
	out := make([]models.BackupRow, len(in))
	for i, r := range in {
		out[i].Candle = models.Candle{
			Symbol: symbol, Timeframe: tf, Timestamp: r.T,
			Open: r.O, High: r.H, Low: r.L, Close: r.C, Volume: r.V, OpenInterest: r.OI,
		}
		if len(r.F) > 0 {
			f, err := DecodeFeatures(symbol, tf, r.T, r.F)
			if err != nil {
				return nil, err
			}
			out[i].Features = &f
		}
	}
	return out, nil
}
