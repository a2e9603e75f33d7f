package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/classify"
	"github.com/visionclass/backend/internal/marketplace"
	"github.com/visionclass/backend/internal/metrics"
	"github.com/visionclass/backend/internal/middleware"
	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/repository"
	"github.com/visionclass/backend/internal/upload"
)

const maxBatchFiles = 10

// ClassifyHandler handles image classification endpoints
type ClassifyHandler struct {
	dispatcher   *classify.Dispatcher
	validator    *upload.Validator
	history      *repository.HistoryRepository
	customModels *marketplace.Registry
}

// NewClassifyHandler creates a new classification handler
func NewClassifyHandler(dispatcher *classify.Dispatcher, validator *upload.Validator, history *repository.HistoryRepository, customModels *marketplace.Registry) *ClassifyHandler {
	return &ClassifyHandler{
		dispatcher:   dispatcher,
		validator:    validator,
		history:      history,
		customModels: customModels,
	}
}

// ClassificationResponse represents a classification result in API responses
type ClassificationResponse struct {
	Predictions      []classify.Prediction `json:"predictions"`
	ModelUsed        string                `json:"model_used"`
	ThresholdApplied float64               `json:"threshold_applied"`
	ProcessingTimeMs int64                 `json:"processing_time_ms"`
	FromCache        bool                  `json:"from_cache"`
	Fingerprint      string                `json:"fingerprint,omitempty"`
	Filename         string                `json:"filename,omitempty"`
}

// BatchItemResponse is one entry in a batch classification response
type BatchItemResponse struct {
	Filename string                  `json:"filename"`
	Result   *ClassificationResponse `json:"result,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// Classify handles POST /api/v1/classify
func (h *ClassifyHandler) Classify(w http.ResponseWriter, r *http.Request) {
	filename, data, err := h.readImage(r)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	opts, err := parseClassifyOptions(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	up, err := h.validator.Validate(filename, data)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	result, err := h.dispatcher.Classify(r.Context(), up.Image, opts)
	if err != nil {
		if errors.Is(err, classify.ErrBackendFailure) {
			response.ServiceUnavailable(w, "Classification backend is unavailable")
			return
		}
		log.Printf("[classify] request failed: %v", err)
		response.InternalError(w, "Classification failed")
		return
	}

	h.observe(result)
	h.record(r, up.Filename, result)

	response.Success(w, toClassificationResponse(result, up.Filename))
}

// ClassifyBatch handles POST /api/v1/classify/batch
func (h *ClassifyHandler) ClassifyBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.validator.MaxBytes() * maxBatchFiles); err != nil {
		response.BadRequest(w, "Invalid multipart request")
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		response.BadRequest(w, "No images provided; use the 'images' form field")
		return
	}
	if len(files) > maxBatchFiles {
		response.BadRequest(w, "Too many images in one batch")
		return
	}

	opts, err := parseClassifyOptions(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	items := make([]BatchItemResponse, 0, len(files))
	for _, fh := range files {
		item := BatchItemResponse{Filename: fh.Filename}

		data, err := readMultipartFile(fh, h.validator.MaxBytes())
		if err != nil {
			item.Error = err.Error()
			items = append(items, item)
			continue
		}

		up, err := h.validator.Validate(fh.Filename, data)
		if err != nil {
			item.Error = err.Error()
			items = append(items, item)
			continue
		}

		result, err := h.dispatcher.Classify(r.Context(), up.Image, opts)
		if err != nil {
			item.Error = "classification failed"
			items = append(items, item)
			continue
		}

		h.observe(result)
		h.record(r, up.Filename, result)
		item.Result = toClassificationResponse(result, up.Filename)
		items = append(items, item)
	}

	response.Success(w, items)
}

// ClassifyCustom handles POST /api/v1/classify/custom/{id}, running a request
// against a marketplace model. Private models are only visible to their owner;
// anyone else gets the same 404 as a nonexistent model.
func (h *ClassifyHandler) ClassifyCustom(w http.ResponseWriter, r *http.Request) {
	model, err := h.customModels.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, marketplace.ErrModelNotFound) {
			response.NotFound(w, "Custom model not found")
			return
		}
		response.InternalError(w, "Failed to load custom model")
		return
	}
	if !model.Public {
		key, ok := middleware.MeteredKey(r.Context())
		if !ok || key.UserID != model.OwnerID {
			response.NotFound(w, "Custom model not found")
			return
		}
	}

	filename, data, err := h.readImage(r)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	opts, err := parseClassifyOptions(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	up, err := h.validator.Validate(filename, data)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	backend := classify.NewCustomBackend(model.ID, model.Name, model.Description,
		model.Version, model.Accuracy, model.Labels)
	result, err := h.dispatcher.ClassifyWith(r.Context(), backend, up.Image, opts)
	if err != nil {
		if errors.Is(err, classify.ErrBackendFailure) {
			response.ServiceUnavailable(w, "Classification backend is unavailable")
			return
		}
		log.Printf("[classify] custom model request failed: %v", err)
		response.InternalError(w, "Classification failed")
		return
	}

	h.observe(result)
	h.record(r, up.Filename, result)

	response.Success(w, toClassificationResponse(result, up.Filename))
}

// readImage accepts either a multipart "image" field or a raw request body.
func (h *ClassifyHandler) readImage(r *http.Request) (string, []byte, error) {
	contentType := r.Header.Get("Content-Type")
	if len(contentType) >= 19 && contentType[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.validator.MaxBytes()); err != nil {
			return "", nil, upload.ErrTooLarge
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return "", nil, errors.New("missing 'image' form field")
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, h.validator.MaxBytes()+1))
		if err != nil {
			return "", nil, errors.New("failed to read upload")
		}
		return header.Filename, data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, h.validator.MaxBytes()+1))
	if err != nil {
		return "", nil, errors.New("failed to read request body")
	}
	return "", data, nil
}

func readMultipartFile(fh *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, errors.New("failed to open upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	return data, nil
}

func parseClassifyOptions(r *http.Request) (classify.Options, error) {
	opts := classify.Options{
		Model:    r.FormValue("model"),
		UseCache: true,
	}
	if opts.Model == "" {
		opts.Model = r.URL.Query().Get("model")
	}

	if raw := firstNonEmpty(r.FormValue("threshold"), r.URL.Query().Get("threshold")); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil || t < 0 || t > 1 {
			return opts, errors.New("threshold must be a number between 0 and 1")
		}
		opts.Threshold = &t
	}

	if raw := firstNonEmpty(r.FormValue("use_cache"), r.URL.Query().Get("use_cache")); raw != "" {
		useCache, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New("use_cache must be a boolean")
		}
		opts.UseCache = useCache
	}

	return opts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *ClassifyHandler) observe(result *classify.Result) {
	cacheLabel := "miss"
	if result.FromCache {
		cacheLabel = "hit"
	}
	metrics.ClassificationsTotal.WithLabelValues(result.ModelUsed, cacheLabel).Inc()
	if !result.FromCache {
		metrics.ClassificationDuration.WithLabelValues(result.ModelUsed).Observe(result.ProcessingTime.Seconds())
	}
}

// record appends to the caller's history, best effort.
func (h *ClassifyHandler) record(r *http.Request, filename string, result *classify.Result) {
	key, ok := middleware.MeteredKey(r.Context())
	if !ok {
		return
	}

	rec := &models.ClassificationRecord{
		UserID:         key.UserID,
		Filename:       filename,
		Fingerprint:    result.Fingerprint,
		Model:          result.ModelUsed,
		FromCache:      result.FromCache,
		ProcessingTime: result.ProcessingTime,
	}
	if len(result.Predictions) > 0 {
		rec.TopLabel = result.Predictions[0].Label
		rec.TopConfidence = result.Predictions[0].Confidence
	}
	if raw, err := json.Marshal(result.Predictions); err == nil {
		rec.PredictionsRaw = string(raw)
	}

	if err := h.history.Create(r.Context(), rec); err != nil {
		log.Printf("[classify] failed to record history for user %s: %v", key.UserID, err)
	}
}

func toClassificationResponse(result *classify.Result, filename string) *ClassificationResponse {
	return &ClassificationResponse{
		Predictions:      result.Predictions,
		ModelUsed:        result.ModelUsed,
		ThresholdApplied: result.ThresholdApplied,
		ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
		FromCache:        result.FromCache,
		Fingerprint:      result.Fingerprint,
		Filename:         filename,
	}
}

func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		response.PayloadTooLarge(w, "Image exceeds the maximum upload size")
	case errors.Is(err, upload.ErrEmptyFile):
		response.BadRequest(w, "Upload is empty")
	case errors.Is(err, upload.ErrUnsupportedType),
		errors.Is(err, upload.ErrExtensionMismatch),
		errors.Is(err, upload.ErrUnsafeFilename),
		errors.Is(err, classify.ErrMalformedImage):
		response.BadRequest(w, err.Error())
	default:
		response.BadRequest(w, err.Error())
	}
}
