package net

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"longwalk/internal/longdistance"
	"longwalk/internal/loop"
	"longwalk/internal/observability"
	"longwalk/internal/settings"
	"longwalk/internal/telemetry"
	"longwalk/internal/walkable"
	"longwalk/internal/world"
)

type testServer struct {
	loop     *loop.Loop
	settings *settings.Store
	feed     *Feed
	handler  http.Handler
}

func newTestServer(t *testing.T, obs observability.Config) *testServer {
	t.Helper()
	store, err := settings.OpenInMemory()
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	grid := world.NewGrid(world.GridConfig{
		Maps:  []world.MapConfig{{BlocksWide: 8, BlocksHigh: 8}},
		Start: world.Position{X: 8, Y: 8},
	})
	walker := world.NewShortRange(grid, func(x, y int) bool {
		return walkable.CheckTileWalkability(grid, x, y)
	}, world.DefaultWalkerConfig())
	cache, err := walkable.New(walkable.Config{Dir: t.TempDir()}, walkable.Deps{
		State: grid,
		Meta:  grid,
		Tiles: grid,
		Knobs: store,
	})
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	cfg := longdistance.DefaultConfig()
	cfg.Search.YieldFor = 0
	coord, err := longdistance.New(cfg, longdistance.Deps{
		State:  grid,
		Walker: walker,
		Grid:   cache,
		Knobs:  store,
	})
	if err != nil {
		t.Fatalf("create coordinator: %v", err)
	}
	t.Cleanup(coord.Close)

	feed := NewFeed(DefaultFeedConfig(), nil)
	t.Cleanup(feed.Close)
	l, err := loop.New(loop.DefaultConfig(), loop.Deps{
		World:       grid,
		Walker:      walker,
		Cache:       cache,
		Coordinator: coord,
		Feed:        feed,
	})
	if err != nil {
		t.Fatalf("create loop: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := telemetry.NewPrometheus(registry)
	if err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	metrics.Add(telemetry.KeyRequestsAccepted, 1)

	handler := NewHTTPHandler(l, HTTPHandlerConfig{
		Observability: obs,
		Feed:          feed,
		Gatherer:      registry,
		Settings:      store,
		Metrics:       metrics.Snapshot,
	})
	return &testServer{loop: l, settings: store, feed: feed, handler: handler}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload %q: %v", resp.Body.String(), err)
	}
	return payload
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, observability.Config{})
	resp := srv.do(http.MethodGet, "/health", "")
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.Code, resp.Body.String())
	}
}

func TestDiagnosticsIncludesSimulationAndTelemetry(t *testing.T) {
	srv := newTestServer(t, observability.Config{})
	srv.loop.Tick()

	resp := srv.do(http.MethodGet, "/diagnostics", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}
	payload := decode(t, resp)

	sim, ok := payload["simulation"].(map[string]any)
	if !ok {
		t.Fatalf("expected simulation object, got %T", payload["simulation"])
	}
	if tick, _ := sim["tick"].(float64); tick != 1 {
		t.Fatalf("expected tick 1, got %v", sim["tick"])
	}
	if _, ok := sim["pathfinding"].(map[string]any); !ok {
		t.Fatalf("expected pathfinding snapshot, payload=%s", resp.Body.String())
	}
	if _, ok := payload["feed"].(map[string]any); !ok {
		t.Fatalf("expected feed telemetry, payload=%s", resp.Body.String())
	}
	telemetryValue, ok := payload["telemetry"].(map[string]any)
	if !ok {
		t.Fatalf("expected telemetry object, payload=%s", resp.Body.String())
	}
	if got, _ := telemetryValue[telemetry.KeyRequestsAccepted].(float64); got != 1 {
		t.Fatalf("expected accepted counter 1, got %v", telemetryValue[telemetry.KeyRequestsAccepted])
	}
	if target, _ := payload["generationTargetMs"].(float64); target != 2 {
		t.Fatalf("expected default generation target 2ms, got %v", payload["generationTargetMs"])
	}
}

func TestPathRequest(t *testing.T) {
	srv := newTestServer(t, observability.Config{})

	resp := srv.do(http.MethodPost, "/path", `{"x":50,"y":50}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 Accepted, got %d body=%s", resp.Code, resp.Body.String())
	}
	if accepted, _ := decode(t, resp)["accepted"].(bool); !accepted {
		t.Fatalf("expected request to be accepted")
	}

	resp = srv.do(http.MethodPost, "/path", `{"x":40,"y":40}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected cooldown to reject with 409, got %d", resp.Code)
	}

	resp = srv.do(http.MethodPost, "/path/stop", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected stop to succeed, got %d", resp.Code)
	}
	if st := srv.loop.Status().Pathfinding.State; st != "cancelled" {
		t.Fatalf("expected cancelled request after stop, got %q", st)
	}
}

func TestPathRequestValidation(t *testing.T) {
	srv := newTestServer(t, observability.Config{})
	for _, tc := range []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{name: "wrong method", method: http.MethodGet, code: http.StatusMethodNotAllowed},
		{name: "malformed", method: http.MethodPost, body: "{", code: http.StatusBadRequest},
		{name: "missing y", method: http.MethodPost, body: `{"x":3}`, code: http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := srv.do(tc.method, "/path", tc.body)
			if resp.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.Code)
			}
		})
	}
}

func TestSettingsPersistKnobs(t *testing.T) {
	srv := newTestServer(t, observability.Config{})

	resp := srv.do(http.MethodPost, "/settings", `{"generationTargetMs":7,"longDistanceEnabled":false}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	payload := decode(t, resp)
	if got, _ := payload["generationTargetMs"].(float64); got != 7 {
		t.Fatalf("expected generation target 7, got %v", payload["generationTargetMs"])
	}
	if enabled, _ := payload["longDistanceEnabled"].(bool); enabled {
		t.Fatalf("expected long distance to be disabled")
	}
	if got := srv.settings.Int(walkable.KnobGenerationTargetMs, 0); got != 7 {
		t.Fatalf("expected persisted target 7, got %d", got)
	}
	if srv.settings.Bool(longdistance.KnobEnabled, true) {
		t.Fatalf("expected persisted enabled=false")
	}

	resp = srv.do(http.MethodPost, "/settings", `{"generationTargetMs":500}`)
	if got, _ := decode(t, resp)["generationTargetMs"].(float64); got != 50 {
		t.Fatalf("expected generation target clamped to 50, got %v", got)
	}

	resp = srv.do(http.MethodPost, "/path", `{"x":50,"y":50}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected disabled coordinator to reject, got %d", resp.Code)
	}
}

func TestMetricsEndpointIsOptIn(t *testing.T) {
	srv := newTestServer(t, observability.Config{})
	if resp := srv.do(http.MethodGet, "/metrics", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected /metrics to be disabled, got %d", resp.Code)
	}

	srv = newTestServer(t, observability.Config{EnableMetrics: true, EnablePprofTrace: true})
	resp := srv.do(http.MethodGet, "/metrics", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected /metrics to respond, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "longwalk_events_total") {
		t.Fatalf("expected longwalk counters in metrics output")
	}
	if resp := srv.do(http.MethodGet, "/debug/pprof/", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected pprof index, got %d", resp.Code)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read feed message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode feed message: %v", err)
	}
	return msg
}

func TestWebsocketFeed(t *testing.T) {
	srv := newTestServer(t, observability.Config{})
	server := httptest.NewServer(srv.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close()

	if msg := readEnvelope(t, conn); msg["type"] != "status" {
		t.Fatalf("expected initial status, got %v", msg["type"])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"path","x":50,"y":50}`)); err != nil {
		t.Fatalf("write path message: %v", err)
	}
	msg := readEnvelope(t, conn)
	if msg["type"] != "pathAck" {
		t.Fatalf("expected pathAck, got %v", msg["type"])
	}
	if accepted, _ := msg["payload"].(map[string]any)["accepted"].(bool); !accepted {
		t.Fatalf("expected path to be accepted, got %v", msg["payload"])
	}

	srv.feed.Broadcast("message", map[string]string{"message": "hello"})
	if msg := readEnvelope(t, conn); msg["type"] != "message" {
		t.Fatalf("expected broadcast message, got %v", msg["type"])
	}
	if subs := srv.feed.Snapshot().Subscribers; subs != 1 {
		t.Fatalf("expected one subscriber, got %d", subs)
	}
}
