package classify

import (
	"context"
	"image"
	"log"
)

// Backend is the plugin interface for classification models. Implementations
// are black boxes returning unranked, unfiltered candidates; the dispatcher
// owns filtering, ranking, and truncation. Implementations must tolerate
// returning partial or empty lists.
type Backend interface {
	// Name is the model identifier used in requests and cache keys.
	Name() string

	// Info describes the model for listing endpoints.
	Info() ModelInfo

	// Predict classifies a decoded image. The returned slice carries no
	// ordering guarantee.
	Predict(ctx context.Context, img image.Image) ([]Prediction, error)
}

// ModelInfo describes a registered backend.
type ModelInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Classes     []string `json:"classes"`
	Accuracy    float64  `json:"accuracy,omitempty"`
	Custom      bool     `json:"custom,omitempty"`
	IsDefault   bool     `json:"is_default"`
}

// preferredModels is the fixed startup preference order for "auto" default
// selection: higher-capacity models first, the mock stub as the floor.
var preferredModels = []string{
	ModelMobileNetV2,
	ModelResNet50,
	ModelVisionAPI,
	ModelMock,
}

// Well-known model identifiers.
const (
	ModelMobileNetV2 = "mobilenet_v2"
	ModelResNet50    = "resnet50"
	ModelVisionAPI   = "vision_api"
	ModelMock        = "mock"
)

// Registry is an immutable set of backends built once at startup and injected
// into the dispatcher. There is no global mutable model state.
type Registry struct {
	backends map[string]Backend
	order    []string
}

// NewRegistry builds a registry from the given backends, preserving
// registration order for the "first registered" fallback.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if _, dup := r.backends[b.Name()]; dup {
			continue
		}
		r.backends[b.Name()] = b
		r.order = append(r.order, b.Name())
	}
	return r
}

// Get returns the backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names returns registered model names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// First returns the first registered backend, or nil when empty.
func (r *Registry) First() Backend {
	if len(r.order) == 0 {
		return nil
	}
	return r.backends[r.order[0]]
}

// ResolveDefault picks the process-wide default model once at startup.
// "auto" walks the preference order; an explicit name that is not registered
// falls back to the mock stub.
func (r *Registry) ResolveDefault(configured string) string {
	if configured != "" && configured != "auto" {
		if _, ok := r.backends[configured]; ok {
			log.Printf("[classify] Using configured default model: %s", configured)
			return configured
		}
		log.Printf("[classify] Configured model %q not available, using %s", configured, ModelMock)
		return ModelMock
	}

	for _, name := range preferredModels {
		if _, ok := r.backends[name]; ok {
			log.Printf("[classify] Auto model selection: %s", name)
			return name
		}
	}

	if first := r.First(); first != nil {
		return first.Name()
	}
	return ModelMock
}
