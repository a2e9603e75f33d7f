package classify

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/cache"
)

// countingBackend records how many times Predict ran.
type countingBackend struct {
	name  string
	preds []Prediction
	err   error
	calls int
}

func (b *countingBackend) Name() string    { return b.name }
func (b *countingBackend) Info() ModelInfo { return ModelInfo{Name: b.name} }

func (b *countingBackend) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.preds, nil
}

func newTestDispatcher(t *testing.T, backend Backend, enabled bool) (*Dispatcher, *cache.Memory) {
	t.Helper()
	store := cache.NewMemory(time.Minute)
	t.Cleanup(func() { store.Close() })

	rc := NewResultCache(store, time.Hour, time.Second, enabled)
	registry := NewRegistry(backend)
	return NewDispatcher(registry, rc, backend.Name(), 0.5, 5*time.Second), store
}

func TestFilterRank(t *testing.T) {
	raw := []Prediction{
		{Label: "bird", Confidence: 0.03},
		{Label: "cat", Confidence: 0.8},
		{Label: "dog", Confidence: 0.15},
		{Label: "car", Confidence: 0.55},
		{Label: "boat", Confidence: 0.5},
		{Label: "tree", Confidence: 0.61},
		{Label: "fish", Confidence: 0.99},
	}

	got := FilterRank(raw, 0.5, 5)

	require.Len(t, got, 5)
	labels := make([]string, len(got))
	for i, p := range got {
		labels[i] = p.Label
	}
	// exactly threshold counts as passing, ordering is descending
	assert.Equal(t, []string{"fish", "cat", "tree", "car", "boat"}, labels)
}

func TestFilterRankStableForTies(t *testing.T) {
	raw := []Prediction{
		{Label: "first", Confidence: 0.7},
		{Label: "second", Confidence: 0.7},
	}

	got := FilterRank(raw, 0.1, 5)

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Label)
	assert.Equal(t, "second", got[1].Label)
}

func TestFilterRankEmptyWhenAllBelowThreshold(t *testing.T) {
	raw := []Prediction{{Label: "cat", Confidence: 0.2}}

	got := FilterRank(raw, 0.9, 5)

	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestClassifyCacheHitSkipsBackend(t *testing.T) {
	backend := &countingBackend{
		name: "test-model",
		preds: []Prediction{
			{Label: "cat", Confidence: 0.8},
			{Label: "dog", Confidence: 0.4},
		},
	}
	d, _ := newTestDispatcher(t, backend, true)
	img := testImage(4, 4, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	first, err := d.Classify(context.Background(), img, Options{UseCache: true})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, backend.calls)

	second, err := d.Classify(context.Background(), img, Options{UseCache: true})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, backend.calls, "cache hit must not re-run the backend")
	assert.Equal(t, first.Predictions, second.Predictions)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestClassifyCacheHitReappliesThreshold(t *testing.T) {
	// Cache stores raw predictions, so a later request with a lower
	// threshold must surface predictions the first request filtered out.
	backend := &countingBackend{
		name: "test-model",
		preds: []Prediction{
			{Label: "cat", Confidence: 0.8},
			{Label: "dog", Confidence: 0.4},
		},
	}
	d, _ := newTestDispatcher(t, backend, true)
	img := testImage(4, 4, color.RGBA{R: 9, A: 255})

	strict, err := d.Classify(context.Background(), img, Options{UseCache: true})
	require.NoError(t, err)
	require.Len(t, strict.Predictions, 1)

	loose := 0.1
	relaxed, err := d.Classify(context.Background(), img, Options{UseCache: true, Threshold: &loose})
	require.NoError(t, err)
	assert.True(t, relaxed.FromCache)
	assert.Len(t, relaxed.Predictions, 2)
	assert.Equal(t, loose, relaxed.ThresholdApplied)
}

func TestClassifyUnknownModelFallsBack(t *testing.T) {
	backend := &countingBackend{
		name:  "test-model",
		preds: []Prediction{{Label: "cat", Confidence: 0.9}},
	}
	d, _ := newTestDispatcher(t, backend, false)

	result, err := d.Classify(context.Background(), testImage(2, 2, color.White), Options{Model: "no-such-model"})
	require.NoError(t, err, "unknown models fall back instead of erroring")
	assert.Equal(t, "test-model", result.ModelUsed)
}

func TestClassifyBackendErrorIsWrapped(t *testing.T) {
	backend := &countingBackend{name: "flaky", err: errors.New("connection refused")}
	d, _ := newTestDispatcher(t, backend, false)

	_, err := d.Classify(context.Background(), testImage(2, 2, color.White), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendFailure)
}

func TestClassifyCacheDisabledAlwaysRunsBackend(t *testing.T) {
	backend := &countingBackend{
		name:  "test-model",
		preds: []Prediction{{Label: "cat", Confidence: 0.9}},
	}
	d, _ := newTestDispatcher(t, backend, false)
	img := testImage(3, 3, color.RGBA{G: 7, A: 255})

	for i := 0; i < 3; i++ {
		result, err := d.Classify(context.Background(), img, Options{UseCache: true})
		require.NoError(t, err)
		assert.False(t, result.FromCache)
	}
	assert.Equal(t, 3, backend.calls)
}

func TestClassifyCacheKeyedByModel(t *testing.T) {
	// Same image, different model: no cross-model cache hits.
	a := &countingBackend{name: "model-a", preds: []Prediction{{Label: "cat", Confidence: 0.9}}}
	b := &countingBackend{name: "model-b", preds: []Prediction{{Label: "dog", Confidence: 0.9}}}

	store := cache.NewMemory(time.Minute)
	t.Cleanup(func() { store.Close() })
	rc := NewResultCache(store, time.Hour, time.Second, true)
	d := NewDispatcher(NewRegistry(a, b), rc, "model-a", 0.5, 5*time.Second)

	img := testImage(5, 5, color.RGBA{B: 3, A: 255})

	first, err := d.Classify(context.Background(), img, Options{Model: "model-a", UseCache: true})
	require.NoError(t, err)

	second, err := d.Classify(context.Background(), img, Options{Model: "model-b", UseCache: true})
	require.NoError(t, err)

	assert.False(t, second.FromCache)
	assert.NotEqual(t, first.Predictions[0].Label, second.Predictions[0].Label)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestMockBackendDeterministic(t *testing.T) {
	mock := NewMockBackend()
	img := testImage(2, 2, color.White)

	first, err := mock.Predict(context.Background(), img)
	require.NoError(t, err)
	second, err := mock.Predict(context.Background(), img)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLocalBackendsDeterministicPerModel(t *testing.T) {
	img := testImage(10, 10, color.RGBA{R: 120, G: 30, B: 200, A: 255})

	mobilenet := NewMobileNetBackend()
	resnet := NewResNetBackend()

	m1, err := mobilenet.Predict(context.Background(), img)
	require.NoError(t, err)
	m2, err := mobilenet.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)

	r1, err := resnet.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.NotEqual(t, m1, r1, "different models should score the same image differently")
}

func TestRegistryResolveDefault(t *testing.T) {
	mock := NewMockBackend()
	mobilenet := NewMobileNetBackend()
	registry := NewRegistry(mock, mobilenet)

	assert.Equal(t, ModelMobileNetV2, registry.ResolveDefault("auto"),
		"auto picks the preferred model when registered")
	assert.Equal(t, ModelMock, registry.ResolveDefault(ModelMock))
	assert.Equal(t, ModelMock, registry.ResolveDefault("nonsense"),
		"an explicit but unregistered name falls back to the stub")
}
