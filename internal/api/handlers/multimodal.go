package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/classify"
	"github.com/visionclass/backend/internal/middleware"
	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/multimodal"
)

// MultimodalHandler handles video and audio classification endpoints
type MultimodalHandler struct {
	service  *multimodal.Service
	maxBytes int64
}

// NewMultimodalHandler creates a new multimodal handler
func NewMultimodalHandler(service *multimodal.Service, maxBytes int64) *MultimodalHandler {
	return &MultimodalHandler{service: service, maxBytes: maxBytes}
}

// ClassifyVideo handles POST /api/v1/classify/video
func (h *MultimodalHandler) ClassifyVideo(w http.ResponseWriter, r *http.Request) {
	data, err := readMedia(r, "video", h.maxBytes)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if http.DetectContentType(data) != "image/gif" {
		response.BadRequest(w, multimodal.ErrUnsupportedVideo.Error())
		return
	}

	opts, err := parseClassifyOptions(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	frames := h.frameBudget(r)

	result, err := h.service.ClassifyVideo(r.Context(), data, opts, frames)
	if err != nil {
		switch {
		case errors.Is(err, multimodal.ErrUnsupportedVideo):
			response.BadRequest(w, err.Error())
		case errors.Is(err, classify.ErrBackendFailure):
			response.ServiceUnavailable(w, "Classification backend is unavailable")
		default:
			log.Printf("[multimodal] video request failed: %v", err)
			response.InternalError(w, "Video classification failed")
		}
		return
	}

	response.Success(w, result)
}

// ClassifyAudio handles POST /api/v1/classify/audio
func (h *MultimodalHandler) ClassifyAudio(w http.ResponseWriter, r *http.Request) {
	data, err := readMedia(r, "audio", h.maxBytes)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.service.ClassifyAudio(data)
	if err != nil {
		if errors.Is(err, multimodal.ErrUnsupportedAudio) {
			response.BadRequest(w, err.Error())
			return
		}
		log.Printf("[multimodal] audio request failed: %v", err)
		response.InternalError(w, "Audio classification failed")
		return
	}

	response.Success(w, result)
}

// frameBudget resolves how many frames to sample: the caller's request,
// capped by their subscription tier.
func (h *MultimodalHandler) frameBudget(r *http.Request) int {
	budget := multimodal.DefaultFrameSamples
	if sub, ok := middleware.MeteredSubscription(r.Context()); ok {
		budget = maxFramesForTier(sub.Tier)
	}

	requested := 0
	if raw := firstNonEmpty(r.FormValue("frames"), r.URL.Query().Get("frames")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			requested = n
		}
	}
	if requested > 0 && requested < budget {
		return requested
	}
	return budget
}

func maxFramesForTier(tier string) int {
	switch {
	case models.TierHierarchy(tier) >= models.TierHierarchy(models.TierEnterprise):
		return 20
	case models.TierHierarchy(tier) >= models.TierHierarchy(models.TierProfessional):
		return 10
	default:
		return multimodal.DefaultFrameSamples
	}
}

// readMedia accepts either a multipart field or a raw request body.
func readMedia(r *http.Request, field string, maxBytes int64) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	if len(contentType) >= 19 && contentType[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, errors.New("upload exceeds the maximum size")
		}
		file, _, err := r.FormFile(field)
		if err != nil {
			return nil, errors.New("missing '" + field + "' form field")
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			return nil, errors.New("failed to read upload")
		}
		if int64(len(data)) > maxBytes {
			return nil, errors.New("upload exceeds the maximum size")
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if int64(len(data)) > maxBytes {
		return nil, errors.New("upload exceeds the maximum size")
	}
	if len(data) == 0 {
		return nil, errors.New("upload is empty")
	}
	return data, nil
}
