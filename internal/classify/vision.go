package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"
)

const (
	visionDefaultTimeout = 30 * time.Second
	visionMaxLabels      = 20
)

// VisionAPIBackend calls an external label-detection HTTP API. It is a black
// box like every backend: one request, no retries — a failed call surfaces as
// a classification failure to the dispatcher.
type VisionAPIBackend struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// visionRequest is the wire format sent to the label-detection endpoint.
// The image bytes are base64-encoded by encoding/json.
type visionRequest struct {
	Image      []byte `json:"image"`
	MaxResults int    `json:"max_results"`
}

// visionResponse is the wire format returned by the endpoint.
type visionResponse struct {
	Labels []struct {
		Description string  `json:"description"`
		Score       float64 `json:"score"`
		MID         string  `json:"mid"`
	} `json:"labels"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewVisionAPIBackend creates a vision API backend. Returns nil when not
// configured, so callers can skip registration.
func NewVisionAPIBackend(apiKey, baseURL string) *VisionAPIBackend {
	if apiKey == "" || baseURL == "" {
		return nil
	}
	return &VisionAPIBackend{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: visionDefaultTimeout,
		},
	}
}

// Name implements Backend.
func (v *VisionAPIBackend) Name() string { return ModelVisionAPI }

// Info implements Backend.
func (v *VisionAPIBackend) Info() ModelInfo {
	return ModelInfo{
		Name:        ModelVisionAPI,
		Description: "Cloud vision label-detection API",
		Version:     "1.0.0",
		Classes:     []string{"various"},
	}
}

// Predict implements Backend. The image is PNG-encoded and posted to the
// label-detection endpoint.
func (v *VisionAPIBackend) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	body, err := json.Marshal(visionRequest{
		Image:      buf.Bytes(),
		MaxResults: visionMaxLabels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read vision API response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision API returned status %d: %s", resp.StatusCode, respBody)
	}

	var parsed visionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse vision API response: %w", err)
	}
	if parsed.Error.Message != "" {
		return nil, fmt.Errorf("vision API error: %s", parsed.Error.Message)
	}

	preds := make([]Prediction, 0, len(parsed.Labels))
	for _, label := range parsed.Labels {
		preds = append(preds, Prediction{
			Label:      label.Description,
			Confidence: label.Score,
			ClassID:    label.MID,
		})
	}
	return preds, nil
}
