package repository

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"FinScan/internal/domain/models"
)

func TestEncodeFeaturesUsesShortKeys(t *testing.T) {
	f := models.CandleFeatures{
		SMA20:      models.Float(101.5),
		RSI14:      models.Float(55),
		Trend:      models.Int(1),
		BreakoutUp: true,
	}
	b, err := EncodeFeatures(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := string(b)
	if got != `{"s20":101.5,"rsi":55,"tr":1,"bu":true}` {
		t.Fatalf("unexpected payload %s", got)
	}
	if strings.Contains(got, "sma_20") || strings.Contains(got, "ll") {
		t.Fatalf("long names or false flags leaked: %s", got)
	}
}

func TestDecodeFeaturesRestoresIdentityAndValues(t *testing.T) {
	ts := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	want := models.CandleFeatures{
		Symbol: "X", Timeframe: "1h", Timestamp: ts,
		SMA5: models.Float(10), EMA9: models.Float(9.5), ATR14: models.Float(0.4),
		VWAP: models.Float(10.1), MoneyFlow: models.Float(-2500), Support20: models.Float(8),
		Trend: models.Int(-1), LowerLow: true, InsideBar: true,
	}
	b, err := EncodeFeatures(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeFeatures("X", "1h", ts, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decoded features differ:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodeFeaturesEmptyPayload(t *testing.T) {
	got, err := DecodeFeatures("X", "1d", time.Time{}, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SMA5 != nil || got.Trend != nil || got.HigherHigh {
		t.Fatalf("empty payload must decode to no indicators: %+v", got)
	}
}

func TestBackupRowsKeepFeatures(t *testing.T) {
	ts := time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)
	rows := []models.BackupRow{
		{Candle: models.Candle{Symbol: "X", Timeframe: "15m", Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}},
		{
			Candle:   models.Candle{Symbol: "X", Timeframe: "15m", Timestamp: ts.Add(15 * time.Minute), Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 12},
			Features: &models.CandleFeatures{Symbol: "X", Timeframe: "15m", Timestamp: ts.Add(15 * time.Minute), SMA5: models.Float(1.6)},
		},
	}
	b, err := encodeBackupRows(rows)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeBackupRows("X", "15m", b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Features != nil || got[1].Features == nil || *got[1].Features.SMA5 != 1.6 {
		t.Fatalf("unexpected rows %+v", got)
	}
	if !got[1].Candle.Timestamp.Equal(rows[1].Candle.Timestamp) || got[1].Candle.Close != 1.8 {
		t.Fatalf("candle mismatch %+v", got[1].Candle)
	}
}
