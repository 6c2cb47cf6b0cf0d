package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/pos/internal/platform/requestctx"
)

func TestEventLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core))

	log(context.Background(), "register.held", map[string]any{"heldOrderId": "H1", "lines": 2})
	log(context.Background(), "held_order.autosave_failed", map[string]any{"error": "boom"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["heldOrderId"] != "H1" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["event"] != "held_order.autosave_failed" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(baseCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "register.resumed", nil)

	if baseLogs.Len() != 0 || reqLogs.Len() != 1 {
		t.Fatalf("expected request logger to receive the entry, base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/register", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected body %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := RequestLogger(zap.New(core), "till-1", "op-1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("inside")
		w.WriteHeader(http.StatusConflict)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/register/hold", nil))

	inside := logs.FilterMessage("inside").All()
	if len(inside) != 1 || inside[0].ContextMap()["terminal_id"] != "till-1" {
		t.Fatalf("expected request-scoped logger on context, got %+v", inside)
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.WarnLevel || completed[0].ContextMap()["status"] != int64(http.StatusConflict) {
		t.Fatalf("unexpected completion entry %+v", completed)
	}
}

func TestTraceContinuesCloudTraceHeader(t *testing.T) {
	const traceID = "105445aa7843bc8bf206b12000100000"
	var seen string
	handler := Trace()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestctx.TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/register", nil)
	req.Header.Set(cloudTraceHeader, traceID+"/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != traceID {
		t.Fatalf("expected trace id %s on context, got %s", traceID, seen)
	}
	if got := rec.Header().Get(cloudTraceHeader); !strings.HasPrefix(got, traceID+"/1;o=1") {
		t.Fatalf("unexpected echoed header %q", got)
	}
}

func TestParseCloudTraceRejectsMalformed(t *testing.T) {
	for _, header := range []string{"", "abc", "105445aa7843bc8bf206b12000100000/xyz", "zz/1"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Errorf("expected %q to be rejected", header)
		}
	}
}
