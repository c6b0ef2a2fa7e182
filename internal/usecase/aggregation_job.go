package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	applogger "FinScan/pkg/logger"
	"FinScan/pkg/queue"
)

// AggregationJobType is the queue message type for triggered roll-ups.
const AggregationJobType = "aggregation.trigger"

// AggregationJobPayload is the queued form of an AggregationRequest.
type AggregationJobPayload struct {
	Symbols         []string `json:"symbols,omitempty"`
	SourceTimeframe string   `json:"source_timeframe"`
	TargetTimeframe string   `json:"target_timeframe"`
	Date            string   `json:"date,omitempty"`
}

func payloadFromRequest(req models.AggregationRequest) AggregationJobPayload {
	p := AggregationJobPayload{
		Symbols:         req.Symbols,
		SourceTimeframe: req.SourceTimeframe,
		TargetTimeframe: req.TargetTimeframe,
	}
	if !req.Date.IsZero() {
		p.Date = req.Date.Format("2006-01-02")
	}
	return p
}

// Request converts the payload back, resolving the date in loc.
func (p AggregationJobPayload) Request(loc *time.Location) (models.AggregationRequest, error) {
	req := models.AggregationRequest{
		Symbols:         p.Symbols,
		SourceTimeframe: p.SourceTimeframe,
		TargetTimeframe: p.TargetTimeframe,
	}
	if p.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", p.Date, loc)
		if err != nil {
			return req, models.NewConfigurationError("date", fmt.Sprintf("invalid date %q", p.Date))
		}
		req.Date = d
	}
	return req, nil
}

// AggregationJob runs queued aggregation requests on queue workers.
type AggregationJob struct {
	agg    *TimeframeAggregator
	logger *applogger.Logger
}

func NewAggregationJob(agg *TimeframeAggregator, logger *applogger.Logger) *AggregationJob {
	return &AggregationJob{agg: agg, logger: logger}
}

func (j *AggregationJob) Name() string { return "timeframe-aggregation" }

func (j *AggregationJob) Type() string { return AggregationJobType }

func (j *AggregationJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[AggregationJobPayload](payload)
	if err != nil {
		return err
	}
	req, err := p.Request(j.agg.loc())
	if err != nil {
		return err
	}
	sum, err := j.agg.Run(ctx, req)
	if err != nil {
		return err
	}
	j.logger.Info("queued aggregation finished",
		applogger.String("source", sum.SourceTimeframe),
		applogger.String("target", sum.TargetTimeframe),
		applogger.Int("converted", sum.Converted),
		applogger.Int("failed", sum.Failed))
	return nil
}

var _ queue.Job = (*AggregationJob)(nil)

// QueueAggregationEnqueuer publishes aggregation requests to the job queue.
type QueueAggregationEnqueuer struct {
	q queue.Enqueuer
}

func NewQueueAggregationEnqueuer(q queue.Enqueuer) *QueueAggregationEnqueuer {
	return &QueueAggregationEnqueuer{q: q}
}

func (e *QueueAggregationEnqueuer) EnqueueAggregation(ctx context.Context, req models.AggregationRequest) (string, error) {
	id, err := e.q.Enqueue(ctx, AggregationJobType, payloadFromRequest(req))
	if err != nil {
		return "", fmt.Errorf("enqueue aggregation: %w", err)
	}
	return id, nil
}
