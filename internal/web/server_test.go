package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/logic"
	"github.com/sweeney/bonsai-node/internal/status"
	"github.com/sweeney/bonsai-node/internal/update"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		DeviceID:    "dev",
		PollMs:      200,
		DebounceMs:  2000,
		HeartbeatMs: 900000,
		MaxRunMs:    60000,
		Broker:      "10.0.0.2",
		HTTPAddr:    ":80",
	}
	tr := status.NewTracker(clock.Fake(start), cfg)

	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "bonsai_test_gauge", Help: "test"})
	reg.MustRegister(g)
	g.Set(7)

	srv := New(":0", tr, reg)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, srv, tr
}

// answer serves one forwarded request with rep and returns it.
func answer(t *testing.T, srv *Server, rep Reply) <-chan Request {
	t.Helper()
	got := make(chan Request, 1)
	go func() {
		select {
		case req := <-srv.Requests():
			got <- req
			req.Respond(rep)
		case <-time.After(2 * time.Second):
			close(got)
		}
	}()
	return got
}

func TestJSONEndpoint(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.UpdateSoil(logic.SoilDry, 10, 3700, true, logic.EventCounts{Dry: 5, Wet: 2})
	tr.SetMQTTConnected(true)
	tr.SetFuse("program", update.Fuse{Failures: 1})

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.Soil != "DRY" {
		t.Errorf("Soil: got %q, want DRY", sj.Status.Soil)
	}
	if !sj.Status.Ready || !sj.Status.MQTT.Connected {
		t.Error("expected ready and connected")
	}
	if sj.Status.Counts.Dry != 5 || sj.Status.Counts.Wet != 2 {
		t.Errorf("counts: %+v", sj.Status.Counts)
	}
	if len(sj.Status.Updates.Fuses) != 1 || sj.Status.Updates.Fuses[0].Failures != 1 {
		t.Errorf("fuses: %+v", sj.Status.Updates.Fuses)
	}
	if sj.Status.Config.PollMs != 200 {
		t.Errorf("Config.PollMs: got %d, want 200", sj.Status.Config.PollMs)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.UpdateSoil(logic.SoilWet, 80, 800, true, logic.EventCounts{})
	tr.SetPump(false, true)
	tr.SetFuse("config", update.Fuse{Failures: 3, Until: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC).Unix()})
	tr.SetLastUpdate(update.Outcome{Domain: "config", Result: update.ResultFailed, ErrorClass: update.ClassIntegrityFailure})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("Content-Type: got %q, want text/html", ct)
		}
		for _, want := range []string{"Bonsai dev", "WET", "ACTIVE", "cooldown until 2026-01-02T00:00:00Z", "integrity_failure"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("%s: page missing %q", path, want)
			}
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "bonsai_test_gauge 7") {
		t.Errorf("metrics output missing gauge:\n%s", body)
	}
}

func TestSoilEndpoint(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.UpdateSoil(logic.SoilDry, 12, 3600, true, logic.EventCounts{})
	tr.SetPump(true, false)

	resp, err := http.Get(ts.URL + "/api/soil")
	if err != nil {
		t.Fatalf("GET /api/soil: %v", err)
	}
	defer resp.Body.Close()

	var got SoilJSON
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Moisture != 12 || got.Raw != 3600 || got.Soil != "DRY" || !got.Pump {
		t.Errorf("soil: %+v", got)
	}
}

func TestConfigGetForwarded(t *testing.T) {
	ts, srv, _ := newTestServer(t)
	got := answer(t, srv, Reply{Status: 200, Body: []byte(`{"wifi_ssid":"garden"}`)})

	resp, err := http.Get(ts.URL + "/api/config")
	if err != nil {
		t.Fatalf("GET /api/config: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	req, ok := <-got
	if !ok {
		t.Fatal("request not forwarded")
	}
	if req.Kind != KindConfigGet {
		t.Errorf("kind: got %v", req.Kind)
	}
	if resp.StatusCode != 200 || string(body) != `{"wifi_ssid":"garden"}` {
		t.Errorf("reply: %d %s", resp.StatusCode, body)
	}
}

func TestConfigPostForwardsBody(t *testing.T) {
	ts, srv, _ := newTestServer(t)
	got := answer(t, srv, JSONReply(http.StatusBadRequest, map[string]string{"error": "invalid"}))

	resp, err := http.Post(ts.URL+"/api/config", "application/json", bytes.NewBufferString(`{"pump_duration":9999}`))
	if err != nil {
		t.Fatalf("POST /api/config: %v", err)
	}
	defer resp.Body.Close()

	req := <-got
	if req.Kind != KindConfigSet || string(req.Body) != `{"pump_duration":9999}` {
		t.Errorf("forwarded: %v %s", req.Kind, req.Body)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestPumpEndpoints(t *testing.T) {
	ts, srv, _ := newTestServer(t)

	tests := []struct {
		path string
		kind Kind
	}{
		{"/api/pump/on", KindPumpOn},
		{"/api/pump/off", KindPumpOff},
	}
	for _, tt := range tests {
		got := answer(t, srv, JSONReply(200, map[string]string{"status": "ok"}))
		resp, err := http.Post(ts.URL+tt.path, "", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if req := <-got; req.Kind != tt.kind {
			t.Errorf("%s: kind %v, want %v", tt.path, req.Kind, tt.kind)
		}
	}

	resp, err := http.Get(ts.URL + "/api/pump/on")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET pump: got %d, want 405", resp.StatusCode)
	}
}

func TestConfigMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/config", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestRespondNeverBlocks(t *testing.T) {
	req := Request{reply: make(chan Reply, 1)}
	req.Respond(Reply{Status: 200})
	req.Respond(Reply{Status: 500})
	if rep := <-req.reply; rep.Status != 200 {
		t.Errorf("first reply lost: %d", rep.Status)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{61*time.Second + 400*time.Millisecond, "1m 1s"},
		{time.Hour + 5*time.Second, "1h 0m 5s"},
		{50*time.Hour + 3*time.Minute, "2d 2h 3m 0s"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
