package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"txtconv/internal/conv"
	"txtconv/internal/infrastructure"
	"txtconv/internal/store"
	ws "txtconv/internal/websocket"
)

// streamChunkSize is the read size for file conversions; each chunk
// produces one progress event.
const streamChunkSize = 64 * 1024

// defaultBatchWorkers bounds parallel conversions in a batch request when
// no worker count is configured.
const defaultBatchWorkers = 4

// ConvertRequest describes one conversion.
type ConvertRequest struct {
	Data     []byte
	Filename string
	Options  conv.Options
}

// ConvertResult is the service-level outcome of a conversion.
type ConvertResult struct {
	Output        []byte
	SourceCharset string
	TargetCharset string
	Detected      bool
	Confidence    float64
	BytesIn       int64
	BytesOut      int64
	JobID         string
	Duration      time.Duration
}

// ConvertService runs conversions, persists job history, and pushes
// progress over the websocket hub. The store may be nil when history is
// disabled; the hub and metrics may be nil in tests.
type ConvertService struct {
	converter    *conv.Converter
	jobs         *store.Store
	hub          *ws.Hub
	metrics      *infrastructure.ConversionMetrics
	logger       *slog.Logger
	batchWorkers int
}

// NewConvertService wires the conversion service.
func NewConvertService(converter *conv.Converter, jobs *store.Store, hub *ws.Hub, metrics *infrastructure.ConversionMetrics, logger *slog.Logger) *ConvertService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConvertService{
		converter:    converter,
		jobs:         jobs,
		hub:          hub,
		metrics:      metrics,
		logger:       logger.With(slog.String("service", "convert")),
		batchWorkers: defaultBatchWorkers,
	}
}

// SetBatchWorkers overrides the batch concurrency limit. Non-positive
// values keep the default. Call before serving requests.
func (s *ConvertService) SetBatchWorkers(n int) {
	if n > 0 {
		s.batchWorkers = n
	}
}

// Charsets returns the curated charset list.
func (s *ConvertService) Charsets() []conv.CharsetInfo {
	return conv.SupportedCharsets()
}

// Detect runs charset detection without converting.
func (s *ConvertService) Detect(ctx context.Context, data []byte) (conv.Detection, error) {
	if len(data) == 0 {
		return conv.Detection{}, ErrEmptyInput
	}
	det := conv.DetectCharset(data)
	s.logger.DebugContext(ctx, "detected charset",
		slog.String("charset", det.Charset),
		slog.Float64("confidence", det.Confidence))
	return det, nil
}

// ConvertText converts an in-memory payload synchronously. No job record is
// written; text conversions are not part of the history.
func (s *ConvertService) ConvertText(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	if len(req.Data) == 0 {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	res, err := s.converter.Convert(req.Data, req.Options)
	duration := time.Since(start)
	if err != nil {
		s.recordConversion(ctx, req.Options, "error", 0, duration)
		s.logger.WarnContext(ctx, "text conversion failed",
			slog.String("source", req.Options.Source),
			slog.String("target", req.Options.Target),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.recordConversion(ctx, req.Options, "ok", int64(res.BytesOut), duration)
	return resultFrom(res, "", duration), nil
}

// ConvertFile converts an uploaded file, records it in the job history, and
// broadcasts progress and completion events.
func (s *ConvertService) ConvertFile(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	if len(req.Data) == 0 {
		return nil, ErrEmptyInput
	}

	job := &store.ConversionJob{
		BaseModel:     store.BaseModel{ID: uuid.New()},
		Filename:      req.Filename,
		SourceCharset: req.Options.Source,
		TargetCharset: req.Options.Target,
		Newline:       string(req.Options.Newline),
		BOM:           string(req.Options.BOM),
		BytesIn:       int64(len(req.Data)),
		Status:        store.StatusRunning,
	}
	if s.jobs != nil {
		if err := s.jobs.Save(ctx, job); err != nil {
			s.logger.ErrorContext(ctx, "failed to save job", slog.String("error", err.Error()))
			return nil, ErrServiceUnavailable
		}
	}
	jobID := job.ID.String()
	traceID := infrastructure.GetTraceID(ctx)

	start := time.Now()
	res, err := s.runFileConversion(ctx, jobID, req)
	duration := time.Since(start)

	if err != nil {
		job.Status = store.StatusFailed
		job.Error = err.Error()
		job.DurationMs = duration.Milliseconds()
		s.finishJob(ctx, job)
		s.recordConversion(ctx, req.Options, "error", 0, duration)
		if s.hub != nil {
			s.hub.BroadcastJobError(jobID, err.Error())
		}
		s.logger.WarnContext(ctx, "file conversion failed",
			slog.String("job_id", jobID),
			slog.String("filename", req.Filename),
			slog.String("error", err.Error()))
		return nil, err
	}

	job.Status = store.StatusCompleted
	job.SourceCharset = res.SourceCharset
	job.TargetCharset = res.TargetCharset
	job.Detected = res.Detected
	job.Confidence = res.Confidence
	job.BytesOut = int64(res.BytesOut)
	job.DurationMs = duration.Milliseconds()
	s.finishJob(ctx, job)
	s.recordConversion(ctx, req.Options, "ok", int64(res.BytesOut), duration)

	if s.hub != nil {
		s.hub.BroadcastWithTrace(ws.TypeJobComplete, map[string]interface{}{
			"job_id":         jobID,
			"filename":       req.Filename,
			"source_charset": res.SourceCharset,
			"target_charset": res.TargetCharset,
			"bytes_in":       res.BytesIn,
			"bytes_out":      res.BytesOut,
			"duration_ms":    duration.Milliseconds(),
		}, traceID)
	}
	s.logger.InfoContext(ctx, "file conversion completed",
		slog.String("job_id", jobID),
		slog.String("filename", req.Filename),
		slog.String("source", res.SourceCharset),
		slog.String("target", res.TargetCharset),
		slog.Int("bytes_out", res.BytesOut),
		slog.Duration("duration", duration))

	result := resultFrom(res, jobID, duration)
	return result, nil
}

// runFileConversion picks the streaming path for lossy conversions with an
// explicit source charset and no BOM rewriting; detection, BOM handling,
// and the strict decode check need the whole payload in memory.
func (s *ConvertService) runFileConversion(ctx context.Context, jobID string, req ConvertRequest) (*conv.Result, error) {
	opts := req.Options
	explicitSource := opts.Source != "" && opts.Source != conv.AutoDetect
	plainBOM := opts.BOM == "" || opts.BOM == conv.BOMPreserve
	if !explicitSource || !plainBOM || !opts.Lossy {
		s.progress(jobID, 0, int64(len(req.Data)), "converting")
		res, err := s.converter.Convert(req.Data, opts)
		if err != nil {
			return nil, err
		}
		s.progress(jobID, int64(len(req.Data)), int64(len(req.Data)), "done")
		return res, nil
	}

	counter := &countingReader{r: bytes.NewReader(req.Data)}
	reader, err := s.converter.NewReader(counter, opts)
	if err != nil {
		return nil, err
	}

	total := int64(len(req.Data))
	var out bytes.Buffer
	buf := make([]byte, streamChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := reader.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
			s.progress(jobID, counter.n, total, "converting")
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mapStreamError(err)
		}
	}
	s.progress(jobID, total, total, "done")

	_, srcCanonical, err := conv.ResolveCharset(opts.Source)
	if err != nil {
		return nil, err
	}
	target := opts.Target
	if target == "" {
		target = "utf-8"
	}
	_, tgtCanonical, err := conv.ResolveCharset(target)
	if err != nil {
		return nil, err
	}

	return &conv.Result{
		Output:        out.Bytes(),
		SourceCharset: srcCanonical,
		TargetCharset: tgtCanonical,
		BytesIn:       len(req.Data),
		BytesOut:      out.Len(),
	}, nil
}

// ConvertBatch converts several payloads concurrently. Results keep request
// order; the first error cancels the remaining conversions.
func (s *ConvertService) ConvertBatch(ctx context.Context, reqs []ConvertRequest) ([]*ConvertResult, error) {
	if len(reqs) == 0 {
		return nil, ErrEmptyInput
	}

	results := make([]*ConvertResult, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchWorkers)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.ConvertText(ctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Jobs returns recent job history, newest first.
func (s *ConvertService) Jobs(ctx context.Context, limit int) ([]store.ConversionJob, error) {
	if s.jobs == nil {
		return nil, ErrHistoryDisabled
	}
	return s.jobs.Recent(ctx, limit)
}

// Job fetches one job record by id.
func (s *ConvertService) Job(ctx context.Context, id string) (*store.ConversionJob, error) {
	if s.jobs == nil {
		return nil, ErrHistoryDisabled
	}
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidInput
	}
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *ConvertService) finishJob(ctx context.Context, job *store.ConversionJob) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to update job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
}

func (s *ConvertService) progress(jobID string, current, total int64, message string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastProgress(jobID, current, total, message)
}

func (s *ConvertService) recordConversion(ctx context.Context, opts conv.Options, status string, bytesOut int64, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", opts.Source),
		attribute.String("target", opts.Target),
		attribute.String("status", status),
	)
	s.metrics.ConversionsTotal.Add(ctx, 1, attrs)
	s.metrics.ConversionDuration.Record(ctx, duration.Seconds(), attrs)
	if status == "ok" {
		s.metrics.BytesConverted.Add(ctx, bytesOut, attrs)
	} else {
		s.metrics.ConversionErrors.Add(ctx, 1, attrs)
	}
}

func resultFrom(res *conv.Result, jobID string, duration time.Duration) *ConvertResult {
	return &ConvertResult{
		Output:        res.Output,
		SourceCharset: res.SourceCharset,
		TargetCharset: res.TargetCharset,
		Detected:      res.Detected,
		Confidence:    res.Confidence,
		BytesIn:       int64(res.BytesIn),
		BytesOut:      int64(res.BytesOut),
		JobID:         jobID,
		Duration:      duration,
	}
}

// mapStreamError keeps the streaming path's error surface aligned with the
// buffered path.
func mapStreamError(err error) error {
	if errors.Is(err, conv.ErrUnknownCharset) || errors.Is(err, conv.ErrUndecodableInput) || errors.Is(err, conv.ErrUnencodableRune) {
		return err
	}
	return errors.Join(conv.ErrUnencodableRune, err)
}

// countingReader tracks bytes consumed from the underlying reader so
// progress reflects input position.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
