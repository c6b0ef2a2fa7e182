package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/services/features"
	applogger "FinScan/pkg/logger"
	pkgkafka "FinScan/pkg/kafka"
)

// candleMessage is the ingestion schema: {symbol, tf, t, o, h, l, c, v, oi}.
type candleMessage struct {
	Symbol string   `json:"symbol"`
	TF     string   `json:"tf"`
	T      int64    `json:"t"`
	O      float64  `json:"o"`
	H      float64  `json:"h"`
	L      float64  `json:"l"`
	C      float64  `json:"c"`
	V      float64  `json:"v"`
	OI     *float64 `json:"oi,omitempty"`
}

// KafkaCandlesHandler consumes closed candles from Kafka, stores them and
// computes their features over trailing history.
type KafkaCandlesHandler struct {
	topic   string
	store   domrepo.CandleStore
	engine  *features.Engine
	loc     *time.Location
	metrics domrepo.Metrics
	logger  *applogger.Logger
}

func NewKafkaCandlesHandler(topic string, store domrepo.CandleStore, engine *features.Engine, loc *time.Location, metrics domrepo.Metrics, logger *applogger.Logger) *KafkaCandlesHandler {
	return &KafkaCandlesHandler{topic: topic, store: store, engine: engine, loc: loc, metrics: orNopMetrics(metrics), logger: logger}
}

func (h *KafkaCandlesHandler) Topic() string { return h.topic }

func (m candleMessage) candle(loc *time.Location) (models.Candle, domrepo.Timeframe, error) {
	tf, err := domrepo.ParseTimeframe(m.TF)
	if err != nil {
		return models.Candle{}, "", err
	}
	ts := m.T
	if ts > 1e11 { // ms
		ts = ts / 1000
	}
	c := models.Candle{
		Symbol:       m.Symbol,
		Timeframe:    string(tf),
		Timestamp:    tf.Truncate(time.Unix(ts, 0).UTC(), loc),
		Open:         m.O,
		High:         m.H,
		Low:          m.L,
		Close:        m.C,
		Volume:       m.V,
		OpenInterest: m.OI,
	}
	return c, tf, c.Validate()
}

// Handle drops malformed messages after logging them; store failures are
// returned so the consumer can retry or dead-letter the message.
func (h *KafkaCandlesHandler) Handle(ctx context.Context, b []byte) error {
	var m candleMessage
	if err := json.Unmarshal(b, &m); err != nil {
		// retrying cannot fix a payload that does not decode
		h.metrics.RecordError("consumer_unmarshal")
		h.logger.Warn("undecodable candle message dropped", applogger.Int("bytes", len(b)), applogger.Error(err))
		return nil
	}
	c, tf, err := m.candle(h.loc)
	if err != nil {
		h.metrics.RecordError("consumer_invalid")
		h.logger.Warn("candle rejected", applogger.String("symbol", m.Symbol), applogger.String("tf", m.TF), applogger.Error(err))
		return nil
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(c.Timestamp).Seconds())

	start := time.Now()
	if err := h.store.UpsertCandles(ctx, tf, []models.Candle{c}); err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())

	if err := h.updateFeatures(ctx, c, tf); err != nil {
		h.metrics.RecordError("consumer_features")
		return err
	}
	return nil
}

func (h *KafkaCandlesHandler) updateFeatures(ctx context.Context, c models.Candle, tf domrepo.Timeframe) error {
	profile := features.ProfileFor(tf, h.loc)
	history, err := h.store.QueryLatest(ctx, c.Symbol, tf, profile.MinHistory()+1)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	// Late candles are stored but their features wait for the next roll-up.
	if len(history) == 0 || !history[len(history)-1].Timestamp.Equal(c.Timestamp) {
		return nil
	}
	computed, err := h.engine.Compute(history, profile)
	if err != nil {
		if models.IsDataQuality(err) {
			h.logger.Warn("feature history rejected", applogger.String("symbol", c.Symbol), applogger.Error(err))
			return nil
		}
		return err
	}
	return h.store.UpsertFeatures(ctx, tf, computed[len(computed)-1:])
}

var _ pkgkafka.MessageHandler = (*KafkaCandlesHandler)(nil)
