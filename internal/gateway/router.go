package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus/recipe-extractor/internal/logging"
)

// RouterConfig holds router configuration
type RouterConfig struct {
	// RequestTimeout should exceed the pipeline ceiling so the pipeline
	// reports its own timeout first.
	RequestTimeout time.Duration
}

// NewRouter creates the gateway router with all routes configured
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 65 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logging.NewLogger("HTTP")))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

		r.Post("/extract_recipe_from_image", h.ExtractFromBase64)
		r.Post("/upload_recipe_image", h.ExtractFromUpload)

		r.Route("/extraction_jobs", func(r chi.Router) {
			r.Post("/", h.SubmitJob)
			r.Get("/{jobId}", h.GetJob)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeInvalidRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
	})

	return r
}

// requestLogger logs one line per request with the chi request ID
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				kv := []interface{}{
					"requestId", chimiddleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"remoteAddr", r.RemoteAddr,
				}
				if ww.Status() >= http.StatusInternalServerError {
					logger.Error("Request completed", kv...)
					return
				}
				logger.Info("Request completed", kv...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
