package handlers

import (
	"net/http"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/classify"
)

// ModelsHandler exposes the available classification backends
type ModelsHandler struct {
	dispatcher *classify.Dispatcher
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(dispatcher *classify.Dispatcher) *ModelsHandler {
	return &ModelsHandler{dispatcher: dispatcher}
}

// ModelsResponse lists available models and the server default
type ModelsResponse struct {
	Default string               `json:"default"`
	Models  []classify.ModelInfo `json:"models"`
}

// ListModels handles GET /api/v1/models
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	response.Success(w, ModelsResponse{
		Default: h.dispatcher.DefaultModel(),
		Models:  h.dispatcher.ListModels(),
	})
}
