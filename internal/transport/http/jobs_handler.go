package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "txtconv/internal/errors"
	"txtconv/internal/services"
)

const maxJobsPageSize = 100

// JobsHandler serves the conversion job history.
type JobsHandler struct {
	service      *services.ConvertService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(service *services.ConvertService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *JobsHandler {
	return &JobsHandler{
		service:      service,
		logger:       logger.With(slog.String("handler", "jobs")),
		errorHandler: errorHandler,
	}
}

// Routes returns the job history routes.
func (h *JobsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	return r
}

// List handles GET /api/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxJobsPageSize {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("limit", "Must be an integer between 1 and 100"))
			return
		}
		limit = parsed
	}

	jobs, err := h.service.Jobs(r.Context(), limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, mapServiceError(err))
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Get handles GET /api/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, mapServiceError(err))
		return
	}
	render.JSON(w, r, job)
}
