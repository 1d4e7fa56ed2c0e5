package net

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"longwalk/internal/loop"
	"longwalk/internal/observability"
	"longwalk/internal/telemetry"
)

// SettingsLister exposes the persisted knobs for diagnostics.
type SettingsLister interface {
	All() (map[string]string, error)
}

type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	Observability observability.Config
	Feed          *Feed
	Gatherer      prometheus.Gatherer
	Settings      SettingsLister
	Metrics       func() map[string]uint64
}

type pathRequest struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

type settingsRequest struct {
	GenerationTargetMs  *int  `json:"generationTargetMs"`
	LongDistanceEnabled *bool `json:"longDistanceEnabled"`
}

type clientMessage struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

func NewHTTPHandler(l *loop.Loop, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	feed := cfg.Feed
	if feed == nil {
		feed = NewFeed(DefaultFeedConfig(), logger)
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		payload := struct {
			Status             string            `json:"status"`
			ServerTime         int64             `json:"serverTime"`
			GenerationTargetMs int64             `json:"generationTargetMs"`
			Simulation         loop.Status       `json:"simulation"`
			Feed               FeedSnapshot      `json:"feed"`
			Settings           map[string]string `json:"settings,omitempty"`
			Telemetry          map[string]uint64 `json:"telemetry,omitempty"`
		}{
			Status:             "ok",
			ServerTime:         time.Now().UnixMilli(),
			GenerationTargetMs: l.GenerationTarget().Milliseconds(),
			Simulation:         l.Status(),
			Feed:               feed.Snapshot(),
		}
		if cfg.Settings != nil {
			settings, err := cfg.Settings.All()
			if err != nil {
				logger.Printf("diagnostics: %v", err)
			}
			payload.Settings = settings
		}
		if cfg.Metrics != nil {
			payload.Telemetry = cfg.Metrics()
		}
		writeJSON(w, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("/path", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req pathRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.X == nil || req.Y == nil {
			httpError(w, "x and y are required", nethttp.StatusBadRequest)
			return
		}
		accepted := l.RequestPath(*req.X, *req.Y)
		status := nethttp.StatusAccepted
		if !accepted {
			status = nethttp.StatusConflict
		}
		writeJSON(w, status, struct {
			Accepted    bool `json:"accepted"`
			Pathfinding any  `json:"pathfinding"`
		}{Accepted: accepted, Pathfinding: l.Status().Pathfinding})
	})

	mux.HandleFunc("/path/stop", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		l.StopPath()
		writeJSON(w, nethttp.StatusOK, struct {
			Status string `json:"status"`
		}{Status: "ok"})
	})

	mux.HandleFunc("/settings", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req settingsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.GenerationTargetMs != nil {
			if err := l.SetGenerationTarget(time.Duration(*req.GenerationTargetMs) * time.Millisecond); err != nil {
				logger.Printf("settings: %v", err)
				httpError(w, "failed to persist settings", nethttp.StatusInternalServerError)
				return
			}
		}
		if req.LongDistanceEnabled != nil {
			if err := l.SetLongDistanceEnabled(*req.LongDistanceEnabled); err != nil {
				logger.Printf("settings: %v", err)
				httpError(w, "failed to persist settings", nethttp.StatusInternalServerError)
				return
			}
		}
		writeJSON(w, nethttp.StatusOK, struct {
			GenerationTargetMs  int64 `json:"generationTargetMs"`
			LongDistanceEnabled bool  `json:"longDistanceEnabled"`
		}{
			GenerationTargetMs:  l.GenerationTarget().Milliseconds(),
			LongDistanceEnabled: l.Status().Pathfinding.Enabled,
		})
	})

	if cfg.Observability.EnableMetrics {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.Observability.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("upgrade failed: %v", err)
			return
		}
		sub := feed.Subscribe(conn)
		defer sub.Close()
		feed.Send(sub, "status", l.Status())

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				logger.Printf("discarding malformed feed message: %v", err)
				continue
			}
			switch msg.Type {
			case "path":
				accepted := l.RequestPath(msg.X, msg.Y)
				feed.Send(sub, "pathAck", struct {
					Accepted bool `json:"accepted"`
				}{Accepted: accepted})
			case "stop":
				l.StopPath()
			case "status":
				feed.Send(sub, "status", l.Status())
			default:
				logger.Printf("unknown feed message type %q", msg.Type)
			}
		}
	})

	return mux
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	if r.Body == nil {
		httpError(w, "missing payload", nethttp.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil && err != io.EOF {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
