package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type scanBody struct {
	Timeframe string   `json:"timeframe" default:"1d" validate:"oneof=5m 15m 1h 1d"`
	Phases    []string `json:"phases" validate:"omitempty,min=1"`
	Limit     int      `json:"limit" default:"20" validate:"gte=1,lte=100"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (APIResponse, []map[string]interface{}) {
	t.Helper()
	var env struct {
		APIResponse
		Data []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return env.APIResponse, env.Data
}

func TestReadAndValidateRequestUsesJSONNames(t *testing.T) {
	e := echo.New()
	e.POST("/scan", func(c echo.Context) error {
		req := &scanBody{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, req)
	})

	do := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := do(`{"limit":500}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	_, data := decodeEnvelope(t, rec)
	if len(data) != 1 || data[0]["field"] != "limit" || data[0]["code"] != "ERR_LTE" {
		t.Fatalf("unexpected errors %v", data)
	}

	rec = do(`{}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"timeframe":"1d"`) {
		t.Fatalf("defaults not applied: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(`{"limit":`)
	_, data = decodeEnvelope(t, rec)
	if rec.Code != http.StatusBadRequest || data[0]["code"] != "ERR_MALFORMED" {
		t.Fatalf("malformed body: %d %v", rec.Code, data)
	}
}

func TestAppErrorResponseHidesInternalErrors(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	e.GET("/app", func(c echo.Context) error {
		return AppErrorResponse(c, fmt.Errorf("wrap: %w", ServiceUnavailableError("store down")))
	})
	e.GET("/raw", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("dsn=secret"))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app", nil))
	env, data := decodeEnvelope(t, rec)
	if rec.Code != http.StatusServiceUnavailable || env.Status != 503 || data[0]["code"] != "ERR_UNAVAILABLE" {
		t.Fatalf("app error: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raw", nil))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("raw error leaked: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	_, data = decodeEnvelope(t, rec)
	if rec.Code != http.StatusNotFound || data[0]["code"] != "ERR_HTTP" {
		t.Fatalf("404 envelope: %d %s", rec.Code, rec.Body.String())
	}
}
