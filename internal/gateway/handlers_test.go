package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
	"github.com/adverant/nexus/recipe-extractor/internal/processor"
	"github.com/adverant/nexus/recipe-extractor/internal/storage"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3, 4}

type stubProcessor struct {
	mu       sync.Mutex
	result   *processor.PipelineResult
	requests []*processor.ExtractRequest
}

func (s *stubProcessor) Process(ctx context.Context, req *processor.ExtractRequest) *processor.PipelineResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result
}

func (s *stubProcessor) last() *processor.ExtractRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

type stubJobs struct {
	submitted []processor.RawImage
	records   map[string]*storage.JobRecord
	err       error
}

func (s *stubJobs) Submit(ctx context.Context, image processor.RawImage, language string) (*storage.JobRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.submitted = append(s.submitted, image)
	return &storage.JobRecord{JobID: "job-123", Status: storage.JobQueued}, nil
}

func (s *stubJobs) Get(ctx context.Context, jobID string) (*storage.JobRecord, error) {
	if rec, ok := s.records[jobID]; ok {
		return rec, nil
	}
	return nil, storage.ErrJobNotFound
}

var soup = &processor.Recipe{
	Title:        "Tomato Soup",
	Ingredients:  []string{"4 tomatoes", "1 onion"},
	Instructions: []string{"Chop", "Simmer"},
	Servings:     4,
	Tags:         []string{"soup", "vegan"},
}

func newTestServer(t *testing.T, proc *stubProcessor, jobs JobQueue, checks map[string]ReadinessCheck) http.Handler {
	t.Helper()
	h, err := NewHandler(HandlerConfig{Processor: proc, Jobs: jobs, MaxImageBytes: 4096, Checks: checks})
	require.NoError(t, err)
	return NewRouter(h, RouterConfig{})
}

func postJSON(t *testing.T, srv http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestExtractFromBase64Success(t *testing.T) {
	proc := &stubProcessor{result: &processor.PipelineResult{Recipe: soup}}
	srv := newTestServer(t, proc, nil, nil)

	rec := postJSON(t, srv, "/extract_recipe_from_image", ExtractRequestDTO{
		Image:    base64.StdEncoding.EncodeToString(pngBytes),
		Language: "en",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got processor.Recipe
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, *soup, got)

	req := proc.last()
	require.NotNil(t, req)
	assert.Equal(t, pngBytes, req.Image.Data)
	assert.Equal(t, processor.MimePNG, req.Image.MimeType)
	assert.Equal(t, "en", req.Language)
	assert.NotEmpty(t, req.RequestID)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "id")
	assert.Contains(t, raw, "prepTime")
}

func TestExtractFromBase64DataURL(t *testing.T) {
	proc := &stubProcessor{result: &processor.PipelineResult{Recipe: soup}}
	srv := newTestServer(t, proc, nil, nil)

	rec := postJSON(t, srv, "/extract_recipe_from_image", ExtractRequestDTO{
		Image: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xE0}),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, processor.MimeJPEG, proc.last().Image.MimeType)
}

func TestExtractFromBase64InvalidRequests(t *testing.T) {
	proc := &stubProcessor{result: &processor.PipelineResult{Recipe: soup}}
	srv := newTestServer(t, proc, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing image", `{"language":"en"}`},
		{"bad base64", `{"image":"***"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/extract_recipe_from_image", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).ErrorCode)
		})
	}
	assert.Nil(t, proc.last())
}

func TestExtractBodyTooLarge(t *testing.T) {
	proc := &stubProcessor{result: &processor.PipelineResult{Recipe: soup}}
	srv := newTestServer(t, proc, nil, nil)

	huge := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 200*1024))
	rec := postJSON(t, srv, "/extract_recipe_from_image", ExtractRequestDTO{Image: huge})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IMAGE_TOO_LARGE", decodeError(t, rec).ErrorCode)
	assert.Nil(t, proc.last())
}

func TestPipelineErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    *errors.PipelineError
		status int
		code   string
	}{
		{errors.NewUnsupportedFormatError("image/gif", nil), http.StatusBadRequest, "UNSUPPORTED_FORMAT"},
		{errors.NewImageTooLargeError(10, 5), http.StatusBadRequest, "IMAGE_TOO_LARGE"},
		{errors.NewInsufficientTextError(0.1, 4), http.StatusBadRequest, "INSUFFICIENT_TEXT"},
		{errors.NewUnrecoverableSchemaError("no ingredients or instructions found"), http.StatusUnprocessableEntity, "UNRECOVERABLE_SCHEMA"},
		{errors.NewMalformedResponseError(nil), http.StatusUnprocessableEntity, "MALFORMED_RESPONSE"},
		{errors.NewOCREngineUnavailableError("tesseract", nil), http.StatusServiceUnavailable, "OCR_ENGINE_UNAVAILABLE"},
		{errors.NewInterpreterUnavailableError(nil), http.StatusServiceUnavailable, "INTERPRETER_UNAVAILABLE"},
		{errors.NewOCRTimeoutError("tesseract", 0), http.StatusGatewayTimeout, "OCR_TIMEOUT"},
		{errors.NewInterpreterTimeoutError(0, nil), http.StatusGatewayTimeout, "INTERPRETER_TIMEOUT"},
		{errors.NewPipelineTimeoutError(0, nil), http.StatusGatewayTimeout, "PIPELINE_TIMEOUT"},
		{errors.NewOverloadedError(4), http.StatusTooManyRequests, "OVERLOADED"},
		{&errors.PipelineError{Kind: "SOMETHING_NEW", Message: "boom"}, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			pe := tt.err.WithStage(errors.StageInterpreting, "req-1")
			proc := &stubProcessor{result: &processor.PipelineResult{Err: pe}}
			srv := newTestServer(t, proc, nil, nil)

			rec := postJSON(t, srv, "/extract_recipe_from_image", ExtractRequestDTO{
				Image: base64.StdEncoding.EncodeToString(pngBytes),
			})

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.ErrorCode)
			assert.Equal(t, pe.Message, body.Message)
			assert.NotContains(t, rec.Body.String(), "Interpreting")
		})
	}
}

func TestOverloadedSetsRetryAfter(t *testing.T) {
	proc := &stubProcessor{result: &processor.PipelineResult{Err: errors.NewOverloadedError(4)}}
	srv := newTestServer(t, proc, nil, nil)

	rec := postJSON(t, srv, "/extract_recipe_from_image", ExtractRequestDTO{Image: base64.StdEncoding.EncodeToString(pngBytes)})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func multipartBody(t *testing.T, field, contentType string, data []byte, language string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if language != "" {
		require.NoError(t, mw.WriteField("language", language))
	}
	if field != "" {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="recipe.png"`)
		if contentType != "" {
			hdr.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestExtractFromUpload(t *testing.T) {
	proc := &stubProcessor{result: &processor.PipelineResult{Recipe: soup}}
	srv := newTestServer(t, proc, nil, nil)

	for _, field := range []string{"image", "file"} {
		body, ct := multipartBody(t, field, "application/octet-stream", pngBytes, "he")
		req := httptest.NewRequest(http.MethodPost, "/upload_recipe_image", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, field)
		last := proc.last()
		assert.Equal(t, processor.MimePNG, last.Image.MimeType)
		assert.Equal(t, "he", last.Language)
		assert.Equal(t, pngBytes, last.Image.Data)
	}
}

func TestExtractFromUploadErrors(t *testing.T) {
	proc := &stubProcessor{result: &processor.PipelineResult{Recipe: soup}}
	srv := newTestServer(t, proc, nil, nil)

	body, ct := multipartBody(t, "", "", nil, "en")
	req := httptest.NewRequest(http.MethodPost, "/upload_recipe_image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).ErrorCode)

	req = httptest.NewRequest(http.MethodPost, "/upload_recipe_image", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big, ct := multipartBody(t, "image", "image/png", bytes.Repeat([]byte{7}, 2*1024*1024), "")
	req = httptest.NewRequest(http.MethodPost, "/upload_recipe_image", big)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Nil(t, proc.last())
}

func TestJobEndpoints(t *testing.T) {
	jobs := &stubJobs{records: map[string]*storage.JobRecord{
		"done": {JobID: "done", Status: storage.JobCompleted, Recipe: soup},
		"bad":  {JobID: "bad", Status: storage.JobFailed, ErrorCode: "INSUFFICIENT_TEXT", Message: "Too little text"},
	}}
	srv := newTestServer(t, &stubProcessor{}, jobs, nil)

	rec := postJSON(t, srv, "/extraction_jobs", ExtractRequestDTO{Image: base64.StdEncoding.EncodeToString(pngBytes)})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/extraction_jobs/job-123", rec.Header().Get("Location"))

	var accepted JobAcceptedDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, JobAcceptedDTO{JobID: "job-123", Status: storage.JobQueued}, accepted)
	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, processor.MimePNG, jobs.submitted[0].MimeType)

	get := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extraction_jobs/"+id, nil))
		return rec
	}

	rec = get("done")
	require.Equal(t, http.StatusOK, rec.Code)
	var done storage.JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, "Tomato Soup", done.Recipe.Title)

	rec = get("bad")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_code":"INSUFFICIENT_TEXT"`)

	rec = get("missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeJobNotFound, decodeError(t, rec).ErrorCode)
}

func TestSubmitJobRejectsUnsupportedFormat(t *testing.T) {
	jobs := &stubJobs{}
	srv := newTestServer(t, &stubProcessor{}, jobs, nil)

	rec := postJSON(t, srv, "/extraction_jobs", ExtractRequestDTO{
		Image: base64.StdEncoding.EncodeToString([]byte("GIF89a......")),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_FORMAT", decodeError(t, rec).ErrorCode)
	assert.Empty(t, jobs.submitted)
}

func TestSubmitJobQueueFailure(t *testing.T) {
	srv := newTestServer(t, &stubProcessor{}, &stubJobs{err: stderrors.New("redis down")}, nil)

	rec := postJSON(t, srv, "/extraction_jobs", ExtractRequestDTO{Image: base64.StdEncoding.EncodeToString(pngBytes)})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeJobsUnavailable, decodeError(t, rec).ErrorCode)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestSubmitJobQueueFull(t *testing.T) {
	full := fmt.Errorf("submit: %w", errors.NewOverloadedError(100))
	srv := newTestServer(t, &stubProcessor{}, &stubJobs{err: full}, nil)

	rec := postJSON(t, srv, "/extraction_jobs", ExtractRequestDTO{Image: base64.StdEncoding.EncodeToString(pngBytes)})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "OVERLOADED", decodeError(t, rec).ErrorCode)
}

func TestJobEndpointsDisabled(t *testing.T) {
	srv := newTestServer(t, &stubProcessor{}, nil, nil)

	rec := postJSON(t, srv, "/extraction_jobs", ExtractRequestDTO{Image: base64.StdEncoding.EncodeToString(pngBytes)})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeJobsDisabled, decodeError(t, rec).ErrorCode)
}

func TestHealthAndReady(t *testing.T) {
	healthy := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return stderrors.New("connection refused") }

	srv := newTestServer(t, &stubProcessor{}, nil, map[string]ReadinessCheck{"redis": healthy})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	srv = newTestServer(t, &stubProcessor{}, nil, map[string]ReadinessCheck{"redis": healthy, "postgres": down})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"unavailable"`)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, &stubProcessor{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecodeBase64Image(t *testing.T) {
	raw := base64.RawStdEncoding.EncodeToString(pngBytes)
	data, mt, err := decodeBase64Image(raw)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Empty(t, mt)

	wrapped := base64.StdEncoding.EncodeToString(pngBytes)
	data, _, err = decodeBase64Image(wrapped[:8] + "\n" + wrapped[8:])
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	_, _, err = decodeBase64Image("data:image/png,notbase64")
	assert.Error(t, err)
}
