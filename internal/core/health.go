package core

import (
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/emitter"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/render"
	"github.com/e7canasta/orion-faceid/internal/session"
)

// HealthStatus represents the health state of the service
type HealthStatus struct {
	Status        string                `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64                 `json:"uptime_seconds"`
	ModelsReady   bool                  `json:"models_ready"`
	MQTTConnected bool                  `json:"mqtt_connected"`
	Camera        camera.ManagerStats   `json:"camera"`
	Engine        *engine.WorkerMetrics `json:"engine,omitempty"`
	MQTT          *emitter.Stats        `json:"mqtt,omitempty"`
	Session       session.Status        `json:"session"`
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	st := s.lifecycle.Status()
	h := HealthStatus{
		Status:      "healthy",
		ModelsReady: st.ModelsReady,
		Camera:      st.Camera,
		Session:     st,
	}
	if running {
		h.UptimeSeconds = int64(s.clk.Now().Sub(started).Seconds())
	}
	if s.worker != nil {
		m := s.worker.Metrics()
		h.Engine = &m
	}
	if s.emitter != nil {
		es := s.emitter.Stats()
		h.MQTT = &es
		h.MQTTConnected = es.Connected
	}

	switch {
	case !running:
		h.Status = "unhealthy"
	case !h.ModelsReady, s.emitter != nil && !h.MQTTConnected:
		h.Status = "degraded"
	}
	return h
}

// Router returns the HTTP routes of the service.
func (s *Service) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.LivenessHandler).Methods("GET")
	r.HandleFunc("/readiness", s.ReadinessHandler).Methods("GET")
	r.HandleFunc("/status", s.StatusHandler).Methods("GET")
	r.HandleFunc("/metrics", s.MetricsHandler).Methods("GET")
	r.HandleFunc("/preview.jpg", s.PreviewHandler).Methods("GET")
	return r
}

// LivenessHandler handles /health (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	var uptime int64
	if !started.IsZero() {
		uptime = int64(s.clk.Now().Sub(started).Seconds())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": uptime,
	})
}

// ReadinessHandler handles /readiness. Degraded still counts as ready.
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// StatusHandler handles /status with the session snapshot.
func (s *Service) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lifecycle.Status())
}

// MetricsHandler handles /metrics in the Prometheus text format.
func (s *Service) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	h := s.HealthCheck()
	id := s.cfg.InstanceID

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	metric := func(name string, v interface{}) {
		fmt.Fprintf(w, "%s{instance=%q} %v\n", name, id, v)
	}
	metric("faceid_uptime_seconds", h.UptimeSeconds)
	metric("faceid_models_ready", boolGauge(h.ModelsReady))
	metric("faceid_sessions_total", h.Session.Sessions)
	metric("faceid_session_active", boolGauge(h.Session.Active))
	metric("faceid_camera_open", boolGauge(h.Camera.Open))
	metric("faceid_camera_acquires_total", h.Camera.Acquires)
	metric("faceid_camera_releases_total", h.Camera.Releases)
	metric("faceid_camera_failures_total", h.Camera.Failures)
	metric("faceid_camera_frames_dropped", h.Camera.Dropped)
	if e := h.Engine; e != nil {
		metric("faceid_engine_requests_total", e.Requests)
		metric("faceid_engine_failures_total", e.Failures)
		metric("faceid_engine_restarts_total", e.Restarts)
		metric("faceid_engine_latency_ms", e.AvgLatencyMS)
	}
	if m := h.MQTT; m != nil {
		metric("faceid_mqtt_connected", boolGauge(m.Connected))
		metric("faceid_mqtt_errors_total", m.Errors)
	}
}

// PreviewHandler handles /preview.jpg: the live frame with the overlay
// composed on top. 404 when no session is running.
func (s *Service) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.lifecycle.Current()
	if sess == nil {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}
	video, ok := sess.Video.(*render.VideoSink)
	if !ok {
		http.Error(w, "preview not available", http.StatusNotFound)
		return
	}
	overlay, _ := sess.Overlay.(*render.Canvas)

	img := render.Compose(video, overlay)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 80}); err != nil {
		slog.Warn("preview encode failed", "session_id", sess.ID, "error", err)
	}
}

// StartHealthServer starts the HTTP server in the background
func (s *Service) StartHealthServer(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	slog.Info("starting http server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness", "/status", "/metrics", "/preview.jpg"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
