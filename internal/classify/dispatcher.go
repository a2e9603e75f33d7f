package classify

import (
	"context"
	"fmt"
	"image"
	"log"
	"sort"
	"time"
)

// Dispatcher routes classification requests through the result cache to the
// selected backend and applies confidence filtering, ranking, and top-K
// truncation to whatever comes back.
type Dispatcher struct {
	registry         *Registry
	cache            *ResultCache
	defaultModel     string
	defaultThreshold float64
	backendTimeout   time.Duration
}

// NewDispatcher builds a dispatcher. The default model is resolved exactly
// once here; it is never re-evaluated per request.
func NewDispatcher(registry *Registry, cache *ResultCache, configuredModel string, defaultThreshold float64, backendTimeout time.Duration) *Dispatcher {
	if backendTimeout <= 0 {
		backendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		registry:         registry,
		cache:            cache,
		defaultModel:     registry.ResolveDefault(configuredModel),
		defaultThreshold: defaultThreshold,
		backendTimeout:   backendTimeout,
	}
}

// DefaultModel returns the model used when a request names none.
func (d *Dispatcher) DefaultModel() string {
	return d.defaultModel
}

// ListModels describes every registered backend.
func (d *Dispatcher) ListModels() []ModelInfo {
	names := d.registry.Names()
	infos := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		b, _ := d.registry.Get(name)
		info := b.Info()
		info.IsDefault = name == d.defaultModel
		infos = append(infos, info)
	}
	return infos
}

// Classify runs one classification request. On a cache hit the cached raw
// predictions are re-filtered with the caller's threshold, so a single cached
// computation serves any threshold. Unknown model names fall back to the
// first registered backend, then the mock stub; they never error. This
// permissive fallback silently masks typos — callers that care should check
// Result.ModelUsed.
func (d *Dispatcher) Classify(ctx context.Context, img image.Image, opts Options) (*Result, error) {
	start := time.Now()

	model := opts.Model
	if model == "" {
		model = d.defaultModel
	}
	backend, ok := d.registry.Get(model)
	if !ok {
		fallback := d.registry.First()
		if fallback == nil {
			var mockOK bool
			backend, mockOK = d.registry.Get(ModelMock)
			if !mockOK {
				return nil, fmt.Errorf("no classification backends registered")
			}
		} else {
			backend = fallback
		}
		log.Printf("[classify] unknown model %q, falling back to %s", model, backend.Name())
		model = backend.Name()
	}

	return d.run(ctx, backend, model, img, opts, start)
}

// ClassifyWith runs a request against a backend the caller resolved itself,
// such as a marketplace model that is not in the startup registry. Caching
// and filtering behave exactly as in Classify, keyed by the backend's name.
func (d *Dispatcher) ClassifyWith(ctx context.Context, backend Backend, img image.Image, opts Options) (*Result, error) {
	return d.run(ctx, backend, backend.Name(), img, opts, time.Now())
}

func (d *Dispatcher) run(ctx context.Context, backend Backend, model string, img image.Image, opts Options, start time.Time) (*Result, error) {
	threshold := d.defaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	var fingerprint string
	if opts.UseCache && d.cache.Enabled() {
		fingerprint = Fingerprint(img)

		if raw, cachedLatency, hit := d.cache.Get(ctx, fingerprint, model); hit {
			return &Result{
				Predictions:      FilterRank(raw, threshold, TopK),
				ModelUsed:        model,
				ThresholdApplied: threshold,
				ProcessingTime:   cachedLatency,
				FromCache:        true,
				Fingerprint:      fingerprint,
			}, nil
		}
	}

	backendCtx, cancel := context.WithTimeout(ctx, d.backendTimeout)
	defer cancel()

	raw, err := backend.Predict(backendCtx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %v", ErrBackendFailure, model, err)
	}

	latency := time.Since(start)

	if opts.UseCache && d.cache.Enabled() {
		d.cache.Put(ctx, fingerprint, model, raw, latency)
	}

	return &Result{
		Predictions:      FilterRank(raw, threshold, TopK),
		ModelUsed:        model,
		ThresholdApplied: threshold,
		ProcessingTime:   latency,
		FromCache:        false,
		Fingerprint:      fingerprint,
	}, nil
}

// FilterRank drops predictions below threshold, sorts the rest by descending
// confidence, and truncates to at most topK entries. The input is not
// modified.
func FilterRank(raw []Prediction, threshold float64, topK int) []Prediction {
	filtered := make([]Prediction, 0, len(raw))
	for _, p := range raw {
		if p.Confidence >= threshold {
			filtered = append(filtered, p)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Confidence > filtered[j].Confidence
	})

	if topK > 0 && len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered
}
