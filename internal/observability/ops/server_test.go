package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "remindbot/pkg/logx"
)

func do(t *testing.T, h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	var healthErr error
	s := New(Config{Token: "secret"}, Sources{Health: func() error { return healthErr }}, logx.Nop())
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	healthErr = errors.New("scheduler stopped")
	h = s.Handler()
	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "scheduler stopped") {
		t.Fatalf("unhealthy = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusRequiresToken(t *testing.T) {
	t.Parallel()
	status := func() any { return map[string]string{"state": "awaiting"} }
	h := New(Config{Token: "secret"}, Sources{Status: status}, logx.Nop()).Handler()

	if rec := do(t, h, http.MethodGet, "/status", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/status?token=wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/status", map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["state"] != "awaiting" {
		t.Fatalf("body = %v, %v", body, err)
	}
	if rec := do(t, h, http.MethodGet, "/status?token=secret", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token = %d", rec.Code)
	}
}

func TestMetricsAndPprofRoutes(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "remindbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := New(Config{}, Sources{Gatherer: reg}, logx.Nop()).Handler()
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "remindbot_test_total 1") {
		t.Fatalf("metrics = %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof without flag = %d", rec.Code)
	}

	h = New(Config{Pprof: true}, Sources{}, logx.Nop()).Handler()
	if rec := do(t, h, http.MethodGet, "/debug/pprof/", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("Addr after Stop = %q", s.Addr())
	}
}

func TestStartBindError(t *testing.T) {
	t.Parallel()
	if err := New(Config{Addr: "256.0.0.1:bad"}, Sources{}, logx.Nop()).Start(context.Background()); err == nil {
		t.Fatalf("Start on bad address succeeded")
	}
}
