package multimodal

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color/palette"
	"image/gif"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/cache"
	"github.com/visionclass/backend/internal/classify"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := cache.NewMemory(time.Minute)
	t.Cleanup(func() { store.Close() })
	registry := classify.NewRegistry(classify.NewMockBackend())
	resultCache := classify.NewResultCache(store, time.Hour, time.Second, true)
	dispatcher := classify.NewDispatcher(registry, resultCache, classify.ModelMock, 0.0, 5*time.Second)
	return NewService(dispatcher)
}

// gifBytes builds an animated GIF where each frame has a distinct fill.
func gifBytes(t *testing.T, frames int, delayCentis int) []byte {
	t.Helper()
	g := &gif.GIF{Config: image.Config{Width: 8, Height: 8}}
	for i := 0; i < frames; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 8), palette.Plan9)
		for p := range frame.Pix {
			frame.Pix[p] = uint8((i*37 + p) % len(palette.Plan9))
		}
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, delayCentis)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

// wavBytes builds a mono 16-bit PCM WAV with an alternating-sign signal of
// the given amplitude.
func wavBytes(t *testing.T, amplitude float64, samples, sampleRate int) []byte {
	t.Helper()
	pcm := make([]int16, samples)
	for i := range pcm {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		pcm[i] = int16(v * 32767)
	}

	var buf bytes.Buffer
	dataSize := len(pcm) * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, pcm)
	return buf.Bytes()
}

func TestClassifyVideoSamplesEvenlySpacedFrames(t *testing.T) {
	s := newTestService(t)

	result, err := s.ClassifyVideo(context.Background(), gifBytes(t, 6, 10), classify.Options{UseCache: true}, 3)
	require.NoError(t, err)

	assert.Equal(t, 6, result.Metadata.TotalFrames)
	assert.Equal(t, 3, result.Metadata.ExtractedFrames)
	require.Len(t, result.Frames, 3)
	assert.Equal(t, 0, result.Frames[0].FrameIndex)
	assert.Equal(t, 5, result.Frames[2].FrameIndex)
	assert.Greater(t, result.Frames[1].FrameIndex, result.Frames[0].FrameIndex)
	assert.Greater(t, result.Frames[2].FrameIndex, result.Frames[1].FrameIndex)
}

func TestClassifyVideoMetadataAndTimestamps(t *testing.T) {
	s := newTestService(t)

	result, err := s.ClassifyVideo(context.Background(), gifBytes(t, 4, 25), classify.Options{UseCache: true}, 4)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.Metadata.DurationSeconds, 0.001)
	assert.Equal(t, 8, result.Metadata.Width)
	assert.Equal(t, 8, result.Metadata.Height)
	require.Len(t, result.Frames, 4)
	assert.Equal(t, int64(0), result.Frames[0].TimestampMs)
	assert.Equal(t, int64(750), result.Frames[3].TimestampMs)
}

func TestClassifyVideoSummaryStableScene(t *testing.T) {
	s := newTestService(t)

	// The mock backend returns the same predictions for every frame, so the
	// scene never changes and the top label dominates.
	result, err := s.ClassifyVideo(context.Background(), gifBytes(t, 3, 10), classify.Options{UseCache: true}, 3)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Summary.SceneChanges)
	assert.Equal(t, 1.0, result.Summary.SceneStability)
	require.NotEmpty(t, result.Summary.DominantLabels)
	assert.Equal(t, 3, result.Summary.DominantLabels[0].Count)
	assert.Greater(t, result.Summary.ConfidenceStats.Max, result.Summary.ConfidenceStats.Min)
}

func TestClassifyVideoRejectsNonGIF(t *testing.T) {
	s := newTestService(t)

	_, err := s.ClassifyVideo(context.Background(), []byte("definitely not video"), classify.Options{}, 3)
	assert.ErrorIs(t, err, ErrUnsupportedVideo)
}

func TestClassifyAudioEnergyBands(t *testing.T) {
	s := newTestService(t)

	tests := []struct {
		name      string
		amplitude float64
		wantLabel string
	}{
		{"high energy", 0.5, "High Energy Audio"},
		{"medium energy", 0.07, "Medium Energy Audio"},
		{"low energy", 0.01, "Low Energy Audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.ClassifyAudio(wavBytes(t, tt.amplitude, 16000, 16000))
			require.NoError(t, err)
			require.Len(t, result.Predictions, 1)
			assert.Equal(t, tt.wantLabel, result.Predictions[0].Label)
		})
	}
}

func TestClassifyAudioFeatures(t *testing.T) {
	s := newTestService(t)

	result, err := s.ClassifyAudio(wavBytes(t, 0.5, 8000, 16000))
	require.NoError(t, err)

	assert.Equal(t, 16000, result.Features.SampleRate)
	assert.Equal(t, 1, result.Features.Channels)
	assert.InDelta(t, 0.5, result.Features.DurationSeconds, 0.001)
	assert.InDelta(t, 0.5, result.Features.RMSEnergy, 0.01)
	// The test signal alternates sign every sample.
	assert.InDelta(t, 1.0, result.Features.ZeroCrossingRate, 0.01)
}

func TestClassifyAudioRejectsNonWAV(t *testing.T) {
	s := newTestService(t)

	_, err := s.ClassifyAudio([]byte("not a riff container"))
	assert.ErrorIs(t, err, ErrUnsupportedAudio)

	// A RIFF header alone, with no PCM data, is also rejected.
	_, err = s.ClassifyAudio([]byte("RIFF\x04\x00\x00\x00WAVE"))
	assert.ErrorIs(t, err, ErrUnsupportedAudio)
}
