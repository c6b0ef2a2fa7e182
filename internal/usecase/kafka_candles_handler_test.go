package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/services/features"
	applogger "FinScan/pkg/logger"
)

func newTestCandlesHandler(store *memStore) *KafkaCandlesHandler {
	return NewKafkaCandlesHandler("finscan.candles", store, features.NewEngine(), time.UTC, nil, applogger.NewNop())
}

func candleJSON(ts time.Time, low float64) []byte {
	return []byte(fmt.Sprintf(`{"symbol":"X","tf":"1h","t":%d,"o":10,"h":12,"l":%v,"c":11,"v":500}`, ts.UnixMilli(), low))
}

func TestCandlesHandlerStoresCandleAndFeatures(t *testing.T) {
	store := newMemStore()
	h := newTestCandlesHandler(store)
	ts := testDay.Add(14*time.Hour + 20*time.Minute)

	if err := h.Handle(context.Background(), candleJSON(ts, 9)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	bucket := testDay.Add(14 * time.Hour)
	got, _ := store.QueryRange(context.Background(), "X", domrepo.TF1h, bucket, bucket.Add(time.Hour))
	if len(got) != 1 || !got[0].Timestamp.Equal(bucket) {
		t.Fatalf("expected one bar truncated to 14:00, got %+v", got)
	}
	feats, _ := store.QueryFeatures(context.Background(), "X", domrepo.TF1h, bucket, bucket.Add(time.Hour))
	if len(feats) != 1 || feats[0].VWAP == nil {
		t.Fatalf("expected features for the new bar, got %+v", feats)
	}
}

func TestCandlesHandlerDropsMalformedMessages(t *testing.T) {
	store := newMemStore()
	h := newTestCandlesHandler(store)
	ctx := context.Background()

	for name, msg := range map[string][]byte{
		"not json":      []byte("{oops"),
		"unknown tf":    []byte(`{"symbol":"X","tf":"4h","t":1741096800,"o":1,"h":2,"l":1,"c":2,"v":1}`),
		"low above open": candleJSON(testDay.Add(14*time.Hour), 13),
	} {
		if err := h.Handle(ctx, msg); err != nil {
			t.Fatalf("%s: expected drop without error, got %v", name, err)
		}
	}
	if w, _ := store.counts(); w != 0 {
		t.Fatalf("malformed messages must not be stored, %d writes", w)
	}
}

func TestCandlesHandlerReturnsStoreErrors(t *testing.T) {
	store := newMemStore()
	store.failOps["upsert_candles"] = errInjected
	h := newTestCandlesHandler(store)

	err := h.Handle(context.Background(), candleJSON(testDay.Add(14*time.Hour), 9))
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected the store error for a retry, got %v", err)
	}
}
