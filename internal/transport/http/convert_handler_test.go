package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"txtconv/internal/conv"
	apierrors "txtconv/internal/errors"
	"txtconv/internal/services"
	"txtconv/internal/store"
	ws "txtconv/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConvertHandler(t *testing.T, withStore bool) *ConvertHandler {
	t.Helper()
	var jobs *store.Store
	if withStore {
		var err error
		jobs, err = store.New(filepath.Join(t.TempDir(), "jobs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = jobs.Close() })
	}
	hub := ws.NewHub(testLogger())
	hub.Start()
	t.Cleanup(hub.Stop)

	svc := services.NewConvertService(conv.NewConverter("utf-8"), jobs, hub, nil, testLogger())
	return NewConvertHandler(svc, testLogger(), apierrors.NewErrorHandler(testLogger(), false), 1<<20, 8<<20)
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestConvertTextEndpoint(t *testing.T) {
	h := newTestConvertHandler(t, false)

	rec := postJSON(t, h.Routes(), "/", ConvertTextRequest{
		Text: "hello",
		From: "utf-8",
		To:   "utf-8",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConvertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "utf-8", resp.SourceCharset)
	assert.Equal(t, "utf-8", resp.TargetCharset)
	assert.Equal(t, int64(5), resp.BytesIn)
}

func TestConvertTextAutoDetect(t *testing.T) {
	h := newTestConvertHandler(t, false)

	rec := postJSON(t, h.Routes(), "/", ConvertTextRequest{Text: "plain"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConvertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Detected)
	assert.Equal(t, "utf-8", resp.SourceCharset)
}

func TestConvertTextNonUTF8OutputIsBase64(t *testing.T) {
	h := newTestConvertHandler(t, false)

	rec := postJSON(t, h.Routes(), "/", ConvertTextRequest{
		Text: "编码",
		From: "utf-8",
		To:   "gbk",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConvertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Text)
	require.NotEmpty(t, resp.Data)

	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "编码", string(decoded))
}

func TestConvertTextValidation(t *testing.T) {
	h := newTestConvertHandler(t, false)

	tests := []struct {
		name string
		body ConvertTextRequest
	}{
		{name: "missing text", body: ConvertTextRequest{From: "utf-8"}},
		{name: "bad newline", body: ConvertTextRequest{Text: "x", Newline: "mixed"}},
		{name: "bad bom", body: ConvertTextRequest{Text: "x", BOM: "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.Routes(), "/", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
		})
	}
}

func TestConvertTextUnknownCharsetProblem(t *testing.T) {
	h := newTestConvertHandler(t, false)

	rec := postJSON(t, h.Routes(), "/", ConvertTextRequest{Text: "x", From: "klingon"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Contains(t, problem["details"], "klingon")
	assert.Equal(t, "UNKNOWN_CHARSET", problem["error_code"])
}

func TestConvertTextUnencodable(t *testing.T) {
	h := newTestConvertHandler(t, false)

	rec := postJSON(t, h.Routes(), "/", ConvertTextRequest{Text: "日本語", From: "utf-8", To: "windows-1252"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConvertBatchEndpoint(t *testing.T) {
	h := newTestConvertHandler(t, false)

	rec := postJSON(t, h.Routes(), "/batch", ConvertBatchRequest{
		Items: []ConvertTextRequest{
			{Text: "one", From: "utf-8", To: "utf-8"},
			{Text: "two", From: "utf-8", To: "utf-8"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []ConvertResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "one", resp.Items[0].Text)
	assert.Equal(t, "two", resp.Items[1].Text)
}

func TestConvertBatchEmptyItems(t *testing.T) {
	h := newTestConvertHandler(t, false)

	rec := postJSON(t, h.Routes(), "/batch", ConvertBatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestConvertFileEndpoint(t *testing.T) {
	h := newTestConvertHandler(t, true)

	input, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("文件内容"))
	require.NoError(t, err)

	body, contentType := multipartUpload(t, map[string]string{
		"from": "gbk",
		"to":   "utf-8",
	}, "upload.txt", input)

	req := httptest.NewRequest(http.MethodPost, "/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "文件内容", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "upload.txt")
	assert.NotEmpty(t, rec.Header().Get("X-Job-Id"))
	assert.Equal(t, "gbk", rec.Header().Get("X-Source-Charset"))
	assert.Equal(t, "utf-8", rec.Header().Get("X-Target-Charset"))
}

func TestConvertFileQuoteInFilename(t *testing.T) {
	h := newTestConvertHandler(t, true)

	body, contentType := multipartUpload(t, map[string]string{
		"from": "utf-8",
		"to":   "utf-8",
	}, `re"port.txt`, []byte("content"))

	req := httptest.NewRequest(http.MethodPost, "/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	disposition := rec.Header().Get("Content-Disposition")
	mediaType, params, err := mime.ParseMediaType(disposition)
	require.NoError(t, err, "disposition must stay parseable: %q", disposition)
	assert.Equal(t, "attachment", mediaType)
	assert.Equal(t, `re"port.txt`, params["filename"])
}

func TestConvertFileMissingFile(t *testing.T) {
	h := newTestConvertHandler(t, true)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("from", "utf-8"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectEndpoint(t *testing.T) {
	h := newTestConvertHandler(t, false)

	req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("just text"))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "utf-8", resp.Charset)
	assert.Greater(t, resp.Confidence, 0.0)
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "unknown charset", err: conv.ErrUnknownCharset, wantStatus: http.StatusBadRequest},
		{name: "undecodable", err: conv.ErrUndecodableInput, wantStatus: http.StatusUnprocessableEntity},
		{name: "unencodable", err: conv.ErrUnencodableRune, wantStatus: http.StatusUnprocessableEntity},
		{name: "empty input", err: services.ErrEmptyInput, wantStatus: http.StatusBadRequest},
		{name: "too large", err: services.ErrTooLarge, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "job not found", err: services.ErrJobNotFound, wantStatus: http.StatusNotFound},
		{name: "history disabled", err: services.ErrHistoryDisabled, wantStatus: http.StatusNotFound},
		{name: "unknown", err: context.DeadlineExceeded, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr, ok := mapServiceError(tt.err).(*apierrors.APIError)
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
		})
	}
}
