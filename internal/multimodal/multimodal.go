// Package multimodal extends classification beyond still images. Video
// uploads are sampled into evenly spaced frames and run through the image
// pipeline; audio uploads are classified from signal features.
package multimodal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/gif"
	"math"
	"sort"

	"github.com/visionclass/backend/internal/classify"
)

var (
	ErrUnsupportedVideo = errors.New("unsupported video format; animated GIF required")
	ErrUnsupportedAudio = errors.New("unsupported audio format; 16-bit PCM WAV required")
)

// DefaultFrameSamples is how many frames are classified per video when the
// caller does not ask for a specific count.
const DefaultFrameSamples = 5

// topLabelsPerFrame bounds how many predictions per frame feed the summary.
const topLabelsPerFrame = 3

// Service classifies video and audio uploads.
type Service struct {
	dispatcher *classify.Dispatcher
}

func NewService(dispatcher *classify.Dispatcher) *Service {
	return &Service{dispatcher: dispatcher}
}

// FrameClassification is the result for one sampled video frame.
type FrameClassification struct {
	FrameIndex  int                   `json:"frame_index"`
	TimestampMs int64                 `json:"timestamp_ms"`
	Predictions []classify.Prediction `json:"predictions"`
	Model       string                `json:"model"`
	FromCache   bool                  `json:"from_cache"`
}

// VideoMetadata describes the decoded video.
type VideoMetadata struct {
	TotalFrames     int     `json:"total_frames"`
	ExtractedFrames int     `json:"extracted_frames"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// LabelCount is one dominant label with its appearance count across frames.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ConfidenceStats aggregates prediction confidences across sampled frames.
type ConfidenceStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// VideoSummary condenses per-frame results into video-level findings.
type VideoSummary struct {
	DominantLabels  []LabelCount    `json:"dominant_labels"`
	SceneChanges    int             `json:"scene_changes"`
	SceneStability  float64         `json:"scene_stability"`
	ConfidenceStats ConfidenceStats `json:"confidence_stats"`
}

// VideoResult is the caller-facing outcome of a video classification.
type VideoResult struct {
	Metadata VideoMetadata         `json:"metadata"`
	Frames   []FrameClassification `json:"frame_classifications"`
	Summary  VideoSummary          `json:"summary"`
}

// ClassifyVideo decodes an animated GIF, samples up to maxFrames evenly
// spaced frames, and classifies each through the image pipeline.
func (s *Service) ClassifyVideo(ctx context.Context, data []byte, opts classify.Options, maxFrames int) (*VideoResult, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil || len(g.Image) == 0 {
		return nil, ErrUnsupportedVideo
	}
	if maxFrames <= 0 {
		maxFrames = DefaultFrameSamples
	}

	total := len(g.Image)
	indices := sampleIndices(total, maxFrames)

	// GIF delays are in hundredths of a second; the cumulative delay up to
	// a frame is its timestamp.
	elapsedMs := make([]int64, total)
	var cum int64
	for i := 0; i < total; i++ {
		elapsedMs[i] = cum
		if i < len(g.Delay) {
			cum += int64(g.Delay[i]) * 10
		}
	}

	frames := make([]FrameClassification, 0, len(indices))
	for _, idx := range indices {
		result, err := s.dispatcher.Classify(ctx, g.Image[idx], opts)
		if err != nil {
			return nil, fmt.Errorf("frame %d classification failed: %w", idx, err)
		}
		frames = append(frames, FrameClassification{
			FrameIndex:  idx,
			TimestampMs: elapsedMs[idx],
			Predictions: result.Predictions,
			Model:       result.ModelUsed,
			FromCache:   result.FromCache,
		})
	}

	return &VideoResult{
		Metadata: VideoMetadata{
			TotalFrames:     total,
			ExtractedFrames: len(frames),
			DurationSeconds: float64(cum) / 1000,
			Width:           g.Config.Width,
			Height:          g.Config.Height,
		},
		Frames:  frames,
		Summary: summarize(frames),
	}, nil
}

// sampleIndices picks n evenly spaced frame indices out of total, always
// including the first and last frame.
func sampleIndices(total, n int) []int {
	if n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if n == 1 {
		return []int{0}
	}
	out := make([]int, 0, n)
	step := float64(total-1) / float64(n-1)
	prev := -1
	for i := 0; i < n; i++ {
		idx := int(math.Round(float64(i) * step))
		if idx == prev {
			continue
		}
		out = append(out, idx)
		prev = idx
	}
	return out
}

func summarize(frames []FrameClassification) VideoSummary {
	summary := VideoSummary{DominantLabels: []LabelCount{}}
	if len(frames) == 0 {
		return summary
	}

	counts := make(map[string]int)
	var confidences []float64
	for _, frame := range frames {
		top := frame.Predictions
		if len(top) > topLabelsPerFrame {
			top = top[:topLabelsPerFrame]
		}
		for _, p := range top {
			counts[p.Label]++
			confidences = append(confidences, p.Confidence)
		}
	}

	for label, count := range counts {
		summary.DominantLabels = append(summary.DominantLabels, LabelCount{Label: label, Count: count})
	}
	sort.Slice(summary.DominantLabels, func(i, j int) bool {
		a, b := summary.DominantLabels[i], summary.DominantLabels[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Label < b.Label
	})
	if len(summary.DominantLabels) > 10 {
		summary.DominantLabels = summary.DominantLabels[:10]
	}

	if len(confidences) > 0 {
		stats := ConfidenceStats{Min: confidences[0], Max: confidences[0]}
		var sum float64
		for _, c := range confidences {
			sum += c
			stats.Min = math.Min(stats.Min, c)
			stats.Max = math.Max(stats.Max, c)
		}
		stats.Average = sum / float64(len(confidences))
		summary.ConfidenceStats = stats
	}

	// A scene change is a shift of the top label between consecutive frames.
	prevTop := ""
	for _, frame := range frames {
		if len(frame.Predictions) == 0 {
			continue
		}
		top := frame.Predictions[0].Label
		if prevTop != "" && top != prevTop {
			summary.SceneChanges++
		}
		prevTop = top
	}
	denom := len(frames) - 1
	if denom < 1 {
		denom = 1
	}
	summary.SceneStability = 1 - float64(summary.SceneChanges)/float64(denom)

	return summary
}
