package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"txtconv/internal/services"
)

// CharsetsHandler serves the supported charset list.
type CharsetsHandler struct {
	service *services.ConvertService
	logger  *slog.Logger
}

// NewCharsetsHandler creates a charsets handler.
func NewCharsetsHandler(service *services.ConvertService, logger *slog.Logger) *CharsetsHandler {
	return &CharsetsHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "charsets")),
	}
}

// Routes returns the charset routes.
func (h *CharsetsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/", h.List)
	return r
}

// List handles GET /api/charsets.
func (h *CharsetsHandler) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"charsets": h.service.Charsets(),
	})
}
