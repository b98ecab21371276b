package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
)

type staticHealth map[string]channels.HealthStatus

func (h staticHealth) HealthAll() map[string]channels.HealthStatus { return h }

func newTestGateway(t *testing.T, token string, health HealthSource) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "zoey_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	g := New(Config{AuthToken: token}, health, reg, func() map[string]any {
		return map[string]any{"pending_reminders": 2}
	}, "v1.2.3", nil)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		health HealthSource
		want   string
	}{
		{"all connected", staticHealth{"telegram": {Connected: true}}, "ok"},
		{"one down", staticHealth{"telegram": {Connected: true}, "discord": {}}, "degraded"},
		{"no channels", nil, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestGateway(t, "", tt.health)
			resp, err := http.Get(srv.URL + "/healthz")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != tt.want {
				t.Errorf("status = %v, want %v", body["status"], tt.want)
			}
			if body["version"] != "v1.2.3" || body["pending_reminders"] != float64(2) {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestMetrics_Auth(t *testing.T) {
	t.Parallel()

	srv := newTestGateway(t, "secret", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "zoey_test_total 1") {
		t.Errorf("metrics status=%d body=%q", resp.StatusCode, data)
	}

	// Health stays public.
	hr, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	hr.Body.Close()
	if hr.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", hr.StatusCode)
	}
}
