package http

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"txtconv/internal/conv"
	apierrors "txtconv/internal/errors"
	"txtconv/internal/services"
)

var validate = validator.New()

// ConvertHandler handles conversion HTTP requests.
type ConvertHandler struct {
	service        *services.ConvertService
	logger         *slog.Logger
	errorHandler   *apierrors.ErrorHandler
	maxTextBytes   int64
	maxUploadBytes int64
}

// NewConvertHandler creates a conversion handler.
func NewConvertHandler(service *services.ConvertService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler, maxTextBytes, maxUploadBytes int64) *ConvertHandler {
	return &ConvertHandler{
		service:        service,
		logger:         logger.With(slog.String("handler", "convert")),
		errorHandler:   errorHandler,
		maxTextBytes:   maxTextBytes,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the conversion routes.
func (h *ConvertHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/", h.ConvertText)
	r.Post("/batch", h.ConvertBatch)
	r.Post("/file", h.ConvertFile)
	r.Post("/detect", h.Detect)

	return r
}

// ConvertTextRequest is the body of POST /api/convert.
type ConvertTextRequest struct {
	Text    string `json:"text" validate:"required"`
	From    string `json:"from" validate:"omitempty,max=64"`
	To      string `json:"to" validate:"omitempty,max=64"`
	Newline string `json:"newline" validate:"omitempty,oneof=preserve lf crlf cr"`
	BOM     string `json:"bom" validate:"omitempty,oneof=preserve add strip"`
	Lossy   bool   `json:"lossy"`
}

// ConvertBatchRequest is the body of POST /api/convert/batch.
type ConvertBatchRequest struct {
	Items []ConvertTextRequest `json:"items" validate:"required,min=1,max=50,dive"`
}

// ConvertResponse is the JSON result of a conversion. Output that is valid
// UTF-8 comes back as text; anything else is base64 in data.
type ConvertResponse struct {
	Text          string  `json:"text,omitempty"`
	Data          []byte  `json:"data,omitempty"`
	SourceCharset string  `json:"source_charset"`
	TargetCharset string  `json:"target_charset"`
	Detected      bool    `json:"detected,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	BytesIn       int64   `json:"bytes_in"`
	BytesOut      int64   `json:"bytes_out"`
	JobID         string  `json:"job_id,omitempty"`
	DurationMs    int64   `json:"duration_ms"`
}

// DetectResponse is the JSON result of POST /api/detect.
type DetectResponse struct {
	Charset    string  `json:"charset"`
	Confidence float64 `json:"confidence"`
}

// ConvertText handles POST /api/convert.
func (h *ConvertHandler) ConvertText(w http.ResponseWriter, r *http.Request) {
	var req ConvertTextRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if int64(len(req.Text)) > h.maxTextBytes {
		h.errorHandler.HandleError(w, r, apierrors.ErrPayloadTooLarge)
		return
	}

	result, err := h.service.ConvertText(r.Context(), toServiceRequest(req, ""))
	if err != nil {
		h.errorHandler.HandleError(w, r, mapServiceError(err))
		return
	}

	render.JSON(w, r, toConvertResponse(result))
}

// ConvertBatch handles POST /api/convert/batch.
func (h *ConvertHandler) ConvertBatch(w http.ResponseWriter, r *http.Request) {
	var req ConvertBatchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	var total int64
	reqs := make([]services.ConvertRequest, len(req.Items))
	for i, item := range req.Items {
		total += int64(len(item.Text))
		reqs[i] = toServiceRequest(item, "")
	}
	if total > h.maxTextBytes {
		h.errorHandler.HandleError(w, r, apierrors.ErrPayloadTooLarge)
		return
	}

	results, err := h.service.ConvertBatch(r.Context(), reqs)
	if err != nil {
		h.errorHandler.HandleError(w, r, mapServiceError(err))
		return
	}

	responses := make([]*ConvertResponse, len(results))
	for i, result := range results {
		responses[i] = toConvertResponse(result)
	}
	render.JSON(w, r, map[string]interface{}{"items": responses})
}

// ConvertFile handles POST /api/convert/file. The multipart form carries the
// file plus the same option fields as the JSON endpoint; the converted file
// streams back as an attachment.
func (h *ConvertHandler) ConvertFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("file", "File field is required"))
		return
	}
	defer file.Close()

	data, err := h.readUpload(file)
	if err != nil {
		h.errorHandler.HandleError(w, r, mapServiceError(err))
		return
	}

	req := services.ConvertRequest{
		Data:     data,
		Filename: header.Filename,
		Options: conv.Options{
			Source:  r.FormValue("from"),
			Target:  r.FormValue("to"),
			Newline: conv.NewlinePolicy(r.FormValue("newline")),
			BOM:     conv.BOMPolicy(r.FormValue("bom")),
			Lossy:   r.FormValue("lossy") == "true",
		},
	}
	if !req.Options.Newline.Valid() {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("newline", "Must be one of preserve, lf, crlf, cr"))
		return
	}
	if !req.Options.BOM.Valid() {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("bom", "Must be one of preserve, add, strip"))
		return
	}

	result, err := h.service.ConvertFile(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, mapServiceError(err))
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": header.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Output)))
	w.Header().Set("X-Job-Id", result.JobID)
	w.Header().Set("X-Source-Charset", result.SourceCharset)
	w.Header().Set("X-Target-Charset", result.TargetCharset)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Output); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write converted file",
			slog.String("error", err.Error()))
	}
}

// Detect handles POST /api/detect. The raw body is the sample to sniff.
func (h *ConvertHandler) Detect(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxTextBytes+1))
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if int64(len(data)) > h.maxTextBytes {
		h.errorHandler.HandleError(w, r, apierrors.ErrPayloadTooLarge)
		return
	}

	det, err := h.service.Detect(r.Context(), data)
	if err != nil {
		h.errorHandler.HandleError(w, r, mapServiceError(err))
		return
	}
	render.JSON(w, r, DetectResponse{Charset: det.Charset, Confidence: det.Confidence})
}

func (h *ConvertHandler) readUpload(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.maxUploadBytes {
		return nil, services.ErrTooLarge
	}
	return data, nil
}

// decodeAndValidate parses the JSON body into dst and runs struct
// validation, writing the error response itself on failure.
func (h *ConvertHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := render.DecodeJSON(io.LimitReader(r.Body, h.maxTextBytes*2+4096), dst); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		h.errorHandler.HandleError(w, r, validationAPIError(err))
		return false
	}
	return true
}

func validationAPIError(err error) *apierrors.APIError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]apierrors.ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, apierrors.ValidationError{
				Field:   fe.Field(),
				Message: "failed " + fe.Tag() + " validation",
			})
		}
		return apierrors.NewValidationErrors(fields)
	}
	return apierrors.InvalidRequestWithError(err)
}

func toServiceRequest(req ConvertTextRequest, filename string) services.ConvertRequest {
	return services.ConvertRequest{
		Data:     []byte(req.Text),
		Filename: filename,
		Options: conv.Options{
			Source:  req.From,
			Target:  req.To,
			Newline: conv.NewlinePolicy(req.Newline),
			BOM:     conv.BOMPolicy(req.BOM),
			Lossy:   req.Lossy,
		},
	}
}

func toConvertResponse(result *services.ConvertResult) *ConvertResponse {
	resp := &ConvertResponse{
		SourceCharset: result.SourceCharset,
		TargetCharset: result.TargetCharset,
		Detected:      result.Detected,
		Confidence:    result.Confidence,
		BytesIn:       result.BytesIn,
		BytesOut:      result.BytesOut,
		JobID:         result.JobID,
		DurationMs:    result.Duration.Milliseconds(),
	}
	if utf8.Valid(result.Output) {
		resp.Text = string(result.Output)
	} else {
		resp.Data = result.Output
	}
	return resp
}

// mapServiceError translates service and engine errors into API errors.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, conv.ErrUnknownCharset):
		return apierrors.NewWithDetails(http.StatusBadRequest, "UNKNOWN_CHARSET", "Unknown or unsupported charset", err.Error())
	case errors.Is(err, conv.ErrUndecodableInput):
		return apierrors.ErrUndecodableInput
	case errors.Is(err, conv.ErrUnencodableRune):
		return apierrors.NewWithDetails(http.StatusUnprocessableEntity, "UNENCODABLE_TEXT",
			"Text contains characters outside the target charset", "Retry with lossy=true to replace them")
	case errors.Is(err, services.ErrEmptyInput):
		return apierrors.ErrValidation("input", "Input must not be empty")
	case errors.Is(err, services.ErrTooLarge):
		return apierrors.ErrPayloadTooLarge
	case errors.Is(err, services.ErrJobNotFound):
		return apierrors.ErrJobNotFound
	case errors.Is(err, services.ErrHistoryDisabled):
		return apierrors.NewWithDetails(http.StatusNotFound, "HISTORY_DISABLED", "Job history is disabled", "Enable the store in the service configuration")
	case errors.Is(err, services.ErrInvalidInput):
		return apierrors.ErrInvalidRequest
	case errors.Is(err, services.ErrServiceUnavailable):
		return apierrors.ErrServiceUnavailable
	default:
		return apierrors.ErrInternalServer
	}
}
