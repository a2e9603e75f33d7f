// Package classify implements the classification core: content fingerprinting,
// the result cache, backend dispatch, and confidence filtering/ranking.
package classify

import (
	"errors"
	"time"
)

// TopK is the maximum number of predictions returned to callers.
const TopK = 5

// Prediction is a single label candidate from a backend. Backends return
// these unranked and unfiltered.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	ClassID    string  `json:"class_id"`
}

// Result is the caller-facing outcome of a classification request.
type Result struct {
	Predictions      []Prediction  `json:"predictions"`
	ModelUsed        string        `json:"model_used"`
	ThresholdApplied float64       `json:"threshold_applied"`
	ProcessingTime   time.Duration `json:"processing_time"`
	FromCache        bool          `json:"from_cache"`
	Fingerprint      string        `json:"fingerprint"`
}

// Options control a single Classify call. Zero values fall back to the
// dispatcher's configured defaults.
type Options struct {
	Model     string
	Threshold *float64
	UseCache  bool
}

// ErrBackendFailure wraps backend errors so callers can distinguish them from
// input validation failures.
var ErrBackendFailure = errors.New("classification backend failure")
