package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/dtnmesh-go/internal/telemetry/logger"
	"github.com/yndnr/dtnmesh-go/internal/telemetry/metric"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler(), mw("a"), mw("b"), mw("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("order = %v, want a,b,c", order)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
		if r.Header.Get("X-Request-ID") != seen {
			t.Error("request header and context disagree")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(seen, "req-") || len(seen) != len("req-")+26 {
		t.Errorf("generated id = %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get("X-Request-ID"), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "client-42" {
		t.Errorf("client id not kept: %q", seen)
	}
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"valid", "dtna_secret", "Bearer dtna_secret", http.StatusOK},
		{"missing", "dtna_secret", "", http.StatusUnauthorized},
		{"wrong", "dtna_secret", "Bearer dtna_other", http.StatusUnauthorized},
		{"not bearer", "dtna_secret", "Basic dtna_secret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AdminAuth(tt.token)(okHandler()).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("X-Error-Code") != "BP-AUTH-4010" {
				t.Errorf("error code = %q", rec.Header().Get("X-Error-Code"))
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(0.001, 2)(okHandler())

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := range 2 {
		if got := call("10.0.0.1"); got != http.StatusOK {
			t.Fatalf("request %d status = %d", i, got)
		}
	}
	if got := call("10.0.0.1"); got != http.StatusTooManyRequests {
		t.Errorf("over burst status = %d, want 429", got)
	}
	if got := call("10.0.0.2"); got != http.StatusOK {
		t.Errorf("other client status = %d, want 200", got)
	}
}

func TestNetworkACL(t *testing.T) {
	h := NetworkACL([]string{"10.1.0.0/16", "192.168.1.7", "bogus/99"}, discard)(okHandler())

	tests := []struct {
		addr string
		want int
	}{
		{"10.1.2.3:1000", http.StatusOK},
		{"192.168.1.7:1000", http.StatusOK},
		{"192.168.1.8:1000", http.StatusForbidden},
		{"[::1]:1000", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil)
		req.RemoteAddr = tt.addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.addr, rec.Code, tt.want)
		}
	}

	open := NetworkACL(nil, discard)(okHandler())
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("empty allowlist status = %d", rec.Code)
	}
}

func TestRecover(t *testing.T) {
	h := Recover(discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["code"] != "BP-SYS-5000" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestAudit_RecordsMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/plans/{node}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := Audit(discard, reg)(mux)

	for _, node := range []string{"2", "3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/v1/plans/"+node, nil))
	}
	got := testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("GET", "GET /admin/v1/plans/{node}", "404"))
	if got != 2 {
		t.Errorf("requests_total = %v, want 2", got)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	if got := getClientIP(req); got != "::1" {
		t.Errorf("remote addr = %q", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.9")
	if got := getClientIP(req); got != "10.0.0.9" {
		t.Errorf("x-real-ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	if got := getClientIP(req); got != "10.0.0.1" {
		t.Errorf("x-forwarded-for = %q", got)
	}
}
