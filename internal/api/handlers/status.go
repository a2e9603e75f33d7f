package handlers

import (
	"net/http"
	"time"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/classify"
	"github.com/visionclass/backend/internal/config"
	"github.com/visionclass/backend/internal/stream"
)

var startTime = time.Now()

// StatusHandler reports service configuration and runtime state
type StatusHandler struct {
	cfg        *config.Config
	dispatcher *classify.Dispatcher
	streams    *stream.Manager
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(cfg *config.Config, dispatcher *classify.Dispatcher, streams *stream.Manager) *StatusHandler {
	return &StatusHandler{
		cfg:        cfg,
		dispatcher: dispatcher,
		streams:    streams,
	}
}

// StatusResponse represents the service status
type StatusResponse struct {
	Service       string   `json:"service"`
	Environment   string   `json:"environment"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	DefaultModel  string   `json:"default_model"`
	Models        []string `json:"models"`
	CacheEnabled  bool     `json:"cache_enabled"`
	ActiveStreams int      `json:"active_streams"`
}

// GetStatus handles GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	infos := h.dispatcher.ListModels()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}

	response.Success(w, StatusResponse{
		Service:       "visionclass-api",
		Environment:   h.cfg.Env,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		DefaultModel:  h.dispatcher.DefaultModel(),
		Models:        names,
		CacheEnabled:  h.cfg.CacheEnabled,
		ActiveStreams: h.streams.ActiveCount(),
	})
}
