package multimodal

import (
	"encoding/binary"
	"math"

	"github.com/visionclass/backend/internal/classify"
)

// AudioFeatures are the signal measurements extracted from an upload.
type AudioFeatures struct {
	DurationSeconds  float64 `json:"duration_seconds"`
	SampleRate       int     `json:"sample_rate"`
	Channels         int     `json:"channels"`
	RMSEnergy        float64 `json:"rms_energy"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
}

// AudioResult is the caller-facing outcome of an audio classification.
type AudioResult struct {
	Predictions []classify.Prediction `json:"predictions"`
	Features    AudioFeatures         `json:"features"`
}

// Energy bands for feature-based audio classification.
const (
	highEnergyRMS   = 0.1
	mediumEnergyRMS = 0.05
)

// ClassifyAudio decodes a 16-bit PCM WAV upload and classifies it from its
// signal features.
func (s *Service) ClassifyAudio(data []byte) (*AudioResult, error) {
	features, err := decodeWAV(data)
	if err != nil {
		return nil, err
	}
	return &AudioResult{
		Predictions: classifyAudioFeatures(features),
		Features:    features,
	}, nil
}

func classifyAudioFeatures(f AudioFeatures) []classify.Prediction {
	switch {
	case f.RMSEnergy > highEnergyRMS:
		return []classify.Prediction{{Label: "High Energy Audio", Confidence: 0.75}}
	case f.RMSEnergy > mediumEnergyRMS:
		return []classify.Prediction{{Label: "Medium Energy Audio", Confidence: 0.65}}
	default:
		return []classify.Prediction{{Label: "Low Energy Audio", Confidence: 0.55}}
	}
}

// decodeWAV parses a RIFF/WAVE container with 16-bit PCM samples and computes
// signal features. Anything else is rejected as unsupported.
func decodeWAV(data []byte) (AudioFeatures, error) {
	var f AudioFeatures
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return f, ErrUnsupportedAudio
	}

	var (
		pcm        bool
		channels   int
		sampleRate int
		bits       int
		samples    []int16
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return f, ErrUnsupportedAudio
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return f, ErrUnsupportedAudio
			}
			pcm = binary.LittleEndian.Uint16(data[body:]) == 1
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			raw := data[body : body+size]
			samples = make([]int16, len(raw)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
			}
		}
		off = body + size
		if size%2 == 1 {
			// Chunks are word-aligned; odd sizes carry a pad byte.
			off++
		}
	}

	if !pcm || bits != 16 || channels < 1 || sampleRate <= 0 || len(samples) == 0 {
		return f, ErrUnsupportedAudio
	}

	var sumSquares float64
	crossings := 0
	for i, s := range samples {
		v := float64(s) / 32768
		sumSquares += v * v
		if i > 0 && (s >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}

	f.SampleRate = sampleRate
	f.Channels = channels
	f.RMSEnergy = math.Sqrt(sumSquares / float64(len(samples)))
	if len(samples) > 1 {
		f.ZeroCrossingRate = float64(crossings) / float64(len(samples)-1)
	}
	f.DurationSeconds = float64(len(samples)/channels) / float64(sampleRate)
	return f, nil
}
