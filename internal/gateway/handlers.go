/**
 * HTTP handlers for the Recipe Extraction gateway
 *
 * Accepts images as base64 JSON or multipart uploads, runs the extraction
 * pipeline and translates typed pipeline failures into HTTP responses.
 */

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
	"github.com/adverant/nexus/recipe-extractor/internal/logging"
	"github.com/adverant/nexus/recipe-extractor/internal/processor"
	"github.com/adverant/nexus/recipe-extractor/internal/storage"
)

// JobQueue submits and tracks asynchronous extractions
type JobQueue interface {
	Submit(ctx context.Context, image processor.RawImage, language string) (*storage.JobRecord, error)
	Get(ctx context.Context, jobID string) (*storage.JobRecord, error)
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// HandlerConfig holds handler dependencies
type HandlerConfig struct {
	Processor processor.RecipeProcessorInterface
	// Jobs is optional; the job endpoints answer 503 without it
	Jobs          JobQueue
	MaxImageBytes int64
	Checks        map[string]ReadinessCheck
}

// Handler serves the gateway endpoints
type Handler struct {
	processor     processor.RecipeProcessorInterface
	jobs          JobQueue
	maxImageBytes int64
	checks        map[string]ReadinessCheck
	logger        *logging.Logger
}

// ExtractRequestDTO is the body of the base64 endpoints
type ExtractRequestDTO struct {
	Image    string `json:"image"`
	MimeType string `json:"mimeType,omitempty"`
	Language string `json:"language,omitempty"`
}

// JobAcceptedDTO is returned when a job is queued
type JobAcceptedDTO struct {
	JobID  string            `json:"jobId"`
	Status storage.JobStatus `json:"status"`
}

// NewHandler creates the gateway handler
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 2 * 1024 * 1024
	}
	return &Handler{
		processor:     cfg.Processor,
		jobs:          cfg.Jobs,
		maxImageBytes: cfg.MaxImageBytes,
		checks:        cfg.Checks,
		logger:        logging.NewLogger("Gateway"),
	}, nil
}

// jsonBodyLimit allows for base64 expansion plus the JSON envelope
func (h *Handler) jsonBodyLimit() int64 {
	return h.maxImageBytes/3*4 + 64*1024
}

func (h *Handler) multipartBodyLimit() int64 {
	return h.maxImageBytes + 1024*1024
}

// ExtractFromBase64 handles POST /extract_recipe_from_image
func (h *Handler) ExtractFromBase64(w http.ResponseWriter, r *http.Request) {
	image, language, ok := h.decodeJSONImage(w, r)
	if !ok {
		return
	}
	h.extract(w, r, image, language)
}

// ExtractFromUpload handles POST /upload_recipe_image
func (h *Handler) ExtractFromUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.multipartBodyLimit())

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "expected multipart/form-data body")
		return
	}

	var (
		image    processor.RawImage
		language string
		found    bool
	)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.writeBodyError(w, err)
			return
		}

		switch part.FormName() {
		case "image", "file":
			if found {
				part.Close()
				continue
			}
			image, err = readImagePart(part)
			if err != nil {
				h.writeBodyError(w, err)
				return
			}
			found = true
		case "language":
			value, err := io.ReadAll(io.LimitReader(part, 64))
			if err != nil {
				h.writeBodyError(w, err)
				return
			}
			language = strings.TrimSpace(string(value))
		}
		part.Close()
	}

	if !found || len(image.Data) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "multipart field \"image\" is required")
		return
	}

	h.extract(w, r, image, language)
}

func readImagePart(part *multipart.Part) (processor.RawImage, error) {
	data, err := io.ReadAll(part)
	if err != nil {
		return processor.RawImage{}, err
	}
	return processor.RawImage{
		Data:     data,
		MimeType: processor.ResolveMimeType(part.Header.Get("Content-Type"), data),
	}, nil
}

func (h *Handler) extract(w http.ResponseWriter, r *http.Request, image processor.RawImage, language string) {
	result := h.processor.Process(r.Context(), &processor.ExtractRequest{
		RequestID: chimiddleware.GetReqID(r.Context()),
		Image:     image,
		Language:  language,
	})

	if result.Success() {
		writeJSON(w, http.StatusOK, result.Recipe)
		return
	}

	pe := result.Err
	if pe == nil {
		h.logger.Error("Pipeline returned neither recipe nor error", "requestId", result.Diagnostics.RequestID)
		writeError(w, http.StatusInternalServerError, CodeInternal, "extraction failed")
		return
	}

	h.logger.Warn("Extraction failed",
		"requestId", result.Diagnostics.RequestID,
		"error_code", pe.Kind,
		"stage", pe.Stage,
		"status", StatusForKind(pe.Kind),
	)
	writePipelineError(w, pe)
}

// SubmitJob handles POST /extraction_jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, CodeJobsDisabled, "asynchronous extraction is not configured")
		return
	}

	image, language, ok := h.decodeJSONImage(w, r)
	if !ok {
		return
	}

	// Reject obviously bad input before it reaches the queue
	if int64(len(image.Data)) > h.maxImageBytes {
		writePipelineError(w, errors.NewImageTooLargeError(int64(len(image.Data)), h.maxImageBytes))
		return
	}
	if !processor.IsAllowedMimeType(image.MimeType) {
		writePipelineError(w, errors.NewUnsupportedFormatError(image.MimeType, nil))
		return
	}

	rec, err := h.jobs.Submit(r.Context(), image, language)
	if pe, ok := errors.AsPipelineError(err); ok {
		h.logger.Warn("Extraction job rejected", "error_code", pe.Kind)
		writePipelineError(w, pe)
		return
	}
	if err != nil {
		h.logger.Error("Failed to submit extraction job", "error", err)
		writeError(w, http.StatusServiceUnavailable, CodeJobsUnavailable, "extraction job could not be queued")
		return
	}

	w.Header().Set("Location", "/extraction_jobs/"+rec.JobID)
	writeJSON(w, http.StatusAccepted, JobAcceptedDTO{JobID: rec.JobID, Status: rec.Status})
}

// GetJob handles GET /extraction_jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, CodeJobsDisabled, "asynchronous extraction is not configured")
		return
	}

	jobID := chi.URLParam(r, "jobId")
	rec, err := h.jobs.Get(r.Context(), jobID)
	if stderrors.Is(err, storage.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, CodeJobNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}
	if err != nil {
		h.logger.Error("Failed to load extraction job", "jobId", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "job status is unavailable")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "recipe-extractor"})
}

// Ready handles GET /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

// decodeJSONImage reads the base64 body. It writes the error response itself
// and returns ok=false on failure.
func (h *Handler) decodeJSONImage(w http.ResponseWriter, r *http.Request) (processor.RawImage, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.jsonBodyLimit())

	var req ExtractRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBodyError(w, err)
		return processor.RawImage{}, "", false
	}

	if strings.TrimSpace(req.Image) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "field \"image\" is required")
		return processor.RawImage{}, "", false
	}

	data, declared, err := decodeBase64Image(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "field \"image\" is not valid base64")
		return processor.RawImage{}, "", false
	}

	if req.MimeType != "" {
		declared = req.MimeType
	}

	return processor.RawImage{
		Data:     data,
		MimeType: processor.ResolveMimeType(declared, data),
	}, strings.TrimSpace(req.Language), true
}

// decodeBase64Image accepts plain base64 or a data URL and returns the
// bytes with any MIME type the data URL declares.
func decodeBase64Image(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)

	var declared string
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("data URL without payload")
		}
		header := s[len("data:"):comma]
		if !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("data URL is not base64 encoded")
		}
		declared = strings.TrimSuffix(header, ";base64")
		s = s[comma+1:]
	}

	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, declared, nil
		}
	}
	return nil, "", fmt.Errorf("invalid base64 payload")
}

func (h *Handler) writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		writeError(w, http.StatusBadRequest, string(errors.ErrorImageTooLarge),
			fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, CodeInvalidRequest, "request body could not be read")
}
