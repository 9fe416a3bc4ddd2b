package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewHTTPClient_BaseURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"localhost:4550", "http://localhost:4550"},
		{"http://node:4550/", "http://node:4550"},
		{"https://node:4550", "https://node:4550"},
		{"unix:///run/dtnmesh/admin.sock", "http://localhost"},
	}
	for _, tt := range tests {
		if got := NewHTTPClient(tt.server, "").BaseURL(); got != tt.want {
			t.Errorf("NewHTTPClient(%q).BaseURL() = %q, want %q", tt.server, got, tt.want)
		}
	}
}

func TestHTTPClient_Do(t *testing.T) {
	var gotAuth, gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/admin/v1/kin":
			json.NewEncoder(w).Encode(map[string]any{"code": "OK", "message": "Success", "data": map[string]any{"kin": []int{2, 3}}})
		case "/admin/v1/plans/9":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"code": "BP-ROUT-4041", "message": "plan not found", "request_id": "req-1", "details": "node 9"})
		default:
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "<html>bad gateway</html>")
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret")
	ctx := context.Background()

	var kin struct {
		Kin []uint64 `json:"kin"`
	}
	if err := c.Post(ctx, "/admin/v1/kin", map[string]int{"node": 3}, &kin); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotAuth != "Bearer secret" || gotMethod != http.MethodPost || gotBody != `{"node":3}` {
		t.Errorf("request = %s %q auth %q", gotMethod, gotBody, gotAuth)
	}
	if len(kin.Kin) != 2 || kin.Kin[1] != 3 {
		t.Errorf("kin = %v", kin.Kin)
	}

	err := c.Delete(ctx, "/admin/v1/plans/9", nil)
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Status != http.StatusNotFound || ae.RequestID != "req-1" || !IsCode(err, "BP-ROUT-4041") {
		t.Errorf("unexpected error %+v", ae)
	}
	if ae.Error() != "[BP-ROUT-4041] plan not found: node 9" {
		t.Errorf("Error() = %q", ae.Error())
	}

	err = c.Get(ctx, "/elsewhere", nil)
	if !errors.As(err, &ae) || ae.Status != http.StatusBadGateway {
		t.Errorf("expected 502 APIError, got %v", err)
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := NewHTTPClient(url, "").Get(context.Background(), "/health", nil); err == nil {
		t.Fatal("expected an error for a closed server")
	}
}

func TestHTTPClient_UnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "dtncli")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "admin.sock")

	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": "OK", "data": map[string]string{"path": r.URL.Path}})
	}))
	srv.Listener = l
	srv.Start()
	defer srv.Close()

	var out map[string]string
	if err := NewHTTPClient(UnixScheme+path, "").Get(context.Background(), "/ready", &out); err != nil {
		t.Fatalf("Get over socket: %v", err)
	}
	if out["path"] != "/ready" {
		t.Errorf("data = %v", out)
	}
}

func TestHTTPClient_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": "OK"})
	}))
	defer srv.Close()

	if err := NewHTTPClient(srv.URL, "").Get(context.Background(), "/health", nil); err == nil {
		t.Fatal("an untrusted certificate should be refused")
	}

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	c := NewHTTPClient(srv.URL, "", WithTLS(&tls.Config{RootCAs: pool}))
	if err := c.Get(context.Background(), "/health", nil); err != nil {
		t.Fatalf("Get with trusted CA: %v", err)
	}
}
