package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"runcell/internal/artifact"
	"runcell/internal/compiler"
	"runcell/internal/observer"
	"runcell/internal/sandbox"
	"runcell/internal/server"
	"runcell/internal/server/controller"
	"runcell/internal/server/service"
	appErr "runcell/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const helloProgram = `
.class Main
.method main 0 0
.line 1
    pushs "hello"
    call Console.println 1
    pop
    return
.end
`

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	Details json.RawMessage  `json:"details"`
	TraceID string           `json:"trace_id"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	metrics, err := observer.NewPrometheus(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	cache := artifact.NewCache(compiler.NewAssembler(), artifact.CacheOptions{Metrics: metrics})
	svc, err := service.NewRunService(service.Config{
		Cache:          cache,
		Executor:       sandbox.NewController(sandbox.Config{}, metrics),
		DefaultCompile: artifact.DefaultCompileOptions(),
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return server.NewRouter(controller.NewRunController(svc), reg)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, env
}

func TestRunEndpoint(t *testing.T) {
	h := newTestRouter(t)
	body := map[string]interface{}{
		"sources": map[string]string{"Main.cell": helloProgram},
		"run":     map[string]interface{}{"timeout": 1000},
	}

	for i, wantCached := range []bool{false, true} {
		rec, env := do(t, h, http.MethodPost, "/api/v1/run", body)
		if rec.Code != http.StatusOK || env.Code != appErr.Success {
			t.Fatalf("request %d: unexpected status %d code %d: %s", i, rec.Code, env.Code, rec.Body.String())
		}
		if env.TraceID == "" || rec.Header().Get("X-Trace-Id") != env.TraceID {
			t.Fatalf("expected trace id to be echoed")
		}
		var out service.RunOutput
		if err := json.Unmarshal(env.Data, &out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if out.Cached != wantCached {
			t.Fatalf("request %d: expected cached=%v", i, wantCached)
		}
		if !out.Result.Completed || out.Result.Output() != "hello" || out.Result.RunID == "" {
			t.Fatalf("request %d: unexpected result %+v", i, out.Result)
		}
	}

	rec, env := do(t, h, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var status service.Status
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Compiler != compiler.Name || status.Cache.Hits != 1 || status.Cache.Misses != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	rec, _ = do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "runcell_runs_total") {
		t.Fatalf("expected run metrics, got %d", rec.Code)
	}
}

func TestRunEndpointReportsCompileErrors(t *testing.T) {
	h := newTestRouter(t)
	rec, env := do(t, h, http.MethodPost, "/api/v1/run", map[string]interface{}{
		"sources": map[string]string{"Main.cell": ".class Main\n.method main 0 0\n    bogus\n.end\n"},
	})
	if rec.Code != http.StatusUnprocessableEntity || env.Code != appErr.CompilationFailed {
		t.Fatalf("expected compilation failure, got %d %d", rec.Code, env.Code)
	}
	var details struct {
		Diagnostics []artifact.Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(env.Details, &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	found := false
	for _, d := range details.Diagnostics {
		if d.Severity == artifact.SeverityError && d.Location.Line == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error on line 3, got %+v", details.Diagnostics)
	}
}

func TestRunEndpointRejectsBadRequests(t *testing.T) {
	h := newTestRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/v1/run", "{not json")
	if rec.Code != http.StatusBadRequest || env.Code != appErr.InvalidParams {
		t.Fatalf("expected bad request, got %d %d", rec.Code, env.Code)
	}

	rec, env = do(t, h, http.MethodPost, "/api/v1/run", map[string]interface{}{
		"sources": map[string]string{"Main.cell": helloProgram},
		"run":     map[string]interface{}{"entryClass": "Missing"},
	})
	if rec.Code != http.StatusBadRequest || env.Code != appErr.ClassNotFound {
		t.Fatalf("expected ClassNotFound, got %d %d", rec.Code, env.Code)
	}

	rec, env = do(t, h, http.MethodDelete, "/api/v1/runs/unknown", nil)
	if rec.Code != http.StatusNotFound || env.Code != appErr.NotFound {
		t.Fatalf("expected not found, got %d %d", rec.Code, env.Code)
	}
	if env.Message != "run unknown not found" {
		t.Fatalf("unexpected not found message %q", env.Message)
	}
}
