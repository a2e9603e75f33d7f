package classify

import (
	"context"
	"image"
	"strconv"
	"time"
)

// MockBackend is the development and testing stub. It returns a fixed,
// deterministic prediction set so cache and ranking behavior is reproducible.
type MockBackend struct {
	// Delay simulates inference latency. Zero means no delay.
	Delay time.Duration
}

var mockClasses = []string{"cat", "dog", "bird", "car", "airplane"}
var mockScores = []float64{0.8, 0.15, 0.03, 0.015, 0.005}

// NewMockBackend creates a mock backend with a small simulated latency.
func NewMockBackend() *MockBackend {
	return &MockBackend{Delay: 100 * time.Millisecond}
}

// Name implements Backend.
func (m *MockBackend) Name() string { return ModelMock }

// Info implements Backend.
func (m *MockBackend) Info() ModelInfo {
	return ModelInfo{
		Name:        ModelMock,
		Description: "Mock model for development and testing",
		Version:     "1.0.0",
		Classes:     append([]string(nil), mockClasses...),
		Accuracy:    0.85,
	}
}

// Predict implements Backend with a fixed candidate set.
func (m *MockBackend) Predict(ctx context.Context, _ image.Image) ([]Prediction, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	preds := make([]Prediction, len(mockClasses))
	for i, class := range mockClasses {
		preds[i] = Prediction{
			Label:      class,
			Confidence: mockScores[i],
			ClassID:    strconv.Itoa(i),
		}
	}
	return preds, nil
}
