package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/service/ratelimit"
	"FinScan/internal/usecase"
	xhttp "FinScan/pkg/http"
	xlogger "FinScan/pkg/logger"
	"FinScan/pkg/queue"
	"FinScan/pkg/scheduler"
	xutil "FinScan/pkg/util"

	"github.com/labstack/echo/v4"
)

// ScanAPI is the service facade the handler exposes.
type ScanAPI interface {
	RunScan(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error)
	TriggerAggregation(ctx context.Context, req models.AggregationRequest, async bool) (*models.AggregationTicket, error)
	GetCacheStats(ctx context.Context) (models.CacheStats, error)
	InvalidateCache(ctx context.Context, scanType, timeframe string) (int, error)
}

// CandleReader serves stored candles.
type CandleReader interface {
	GetCandles(ctx context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error)
}

// JobLister reports scheduler state.
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// QueueStatter reports job queue depths.
type QueueStatter interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// ScanEchoHandler implements the HTTP surface over Echo.
type ScanEchoHandler struct {
	logger  *xlogger.Logger
	scans   ScanAPI
	candles CandleReader
	jobs    JobLister
	queue   QueueStatter
	health  map[string]domrepo.Health
	limiter *ratelimit.Limiter
	loc     *time.Location
}

type HandlerOption func(*ScanEchoHandler)

func WithJobs(j JobLister) HandlerOption { return func(h *ScanEchoHandler) { h.jobs = j } }

func WithQueueStats(q QueueStatter) HandlerOption { return func(h *ScanEchoHandler) { h.queue = q } }

// WithRateLimit throttles scan and aggregation requests per client IP.
func WithRateLimit(l *ratelimit.Limiter) HandlerOption {
	return func(h *ScanEchoHandler) { h.limiter = l }
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, c domrepo.Health) HandlerOption {
	return func(h *ScanEchoHandler) { h.health[name] = c }
}

func NewScanEchoHandler(logger *xlogger.Logger, scans ScanAPI, candles CandleReader, loc *time.Location, opts ...HandlerOption) *ScanEchoHandler {
	if loc == nil {
		loc = time.UTC
	}
	h := &ScanEchoHandler{logger: logger, scans: scans, candles: candles, loc: loc, health: map[string]domrepo.Health{}}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *ScanEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.POST("/scan", h.Scan, h.throttle)
	g.POST("/aggregation", h.Aggregate, h.throttle)
	g.GET("/cache/stats", h.CacheStats)
	g.DELETE("/cache", h.InvalidateCache)
	g.GET("/candles", h.Candles)
	g.GET("/jobs", h.Jobs)
}

func (h *ScanEchoHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter == nil {
			return next(c)
		}
		key := c.RealIP()
		if !h.limiter.Allow(key) {
			wait := h.limiter.RetryAfter(key)
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many requests"))
		}
		return next(c)
	}
}

func (h *ScanEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *ScanEchoHandler) Scan(c echo.Context) error {
	req := &models.ScanRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.scans.RunScan(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "scan", err)
	}
	if res.FromCache {
		c.Response().Header().Set("X-Cache", "HIT")
	} else {
		c.Response().Header().Set("X-Cache", "MISS")
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ScanEchoHandler) Aggregate(c echo.Context) error {
	req := &models.AggregationHTTPRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	areq := models.AggregationRequest{
		Symbols:         req.Symbols,
		SourceTimeframe: req.SourceTimeframe,
		TargetTimeframe: req.TargetTimeframe,
	}
	if req.Date != "" {
		d, ok := xutil.ParseDateIn(req.Date, h.loc)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("date must be YYYY-MM-DD"))
		}
		areq.Date = d
	}
	async := req.Async == nil || *req.Async
	ticket, err := h.scans.TriggerAggregation(c.Request().Context(), areq, async)
	if err != nil {
		return h.fail(c, "aggregation", err)
	}
	if ticket.Queued {
		return xhttp.DataResponse(c, http.StatusAccepted, ticket)
	}
	return xhttp.SuccessResponse(c, ticket)
}

func (h *ScanEchoHandler) CacheStats(c echo.Context) error {
	st, err := h.scans.GetCacheStats(c.Request().Context())
	if err != nil {
		return h.fail(c, "cache stats", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *ScanEchoHandler) InvalidateCache(c echo.Context) error {
	req := &models.InvalidateCacheRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	n, err := h.scans.InvalidateCache(c.Request().Context(), req.ScanType, req.Timeframe)
	if err != nil {
		return h.fail(c, "invalidate cache", err)
	}
	return xhttp.SuccessResponse(c, map[string]int{"removed": n})
}

func (h *ScanEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := domrepo.Timeframe(req.TF)
	to := time.Now()
	if req.To != "" {
		t, ok := xutil.ParseDateIn(req.To, h.loc)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("invalid to"))
		}
		to = t.AddDate(0, 0, 1)
	}
	from := to.Add(-time.Duration(req.Limit) * tf.Duration())
	if req.From != "" {
		t, ok := xutil.ParseDateIn(req.From, h.loc)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("invalid from"))
		}
		from = t
	}
	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol: req.Symbol, From: from, To: to, Timeframe: tf, Limit: req.Limit,
	})
	if err != nil {
		return h.fail(c, "candles", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *ScanEchoHandler) Jobs(c echo.Context) error {
	out := map[string]any{}
	if h.jobs != nil {
		out["scheduler"] = h.jobs.Jobs()
	}
	if h.queue != nil {
		st, err := h.queue.Stats(c.Request().Context())
		if err != nil {
			return h.fail(c, "queue stats", err)
		}
		out["queue"] = st
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *ScanEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()
	status := map[string]string{}
	healthy := true
	for name, chk := range h.health {
		if err := chk.Health(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, status)
	}
	return xhttp.SuccessResponse(c, status)
}

var _ xhttp.Handler = (*ScanEchoHandler)(nil)
