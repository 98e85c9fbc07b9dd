package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/deepfry/internal/config"
	"github.com/dunamismax/deepfry/internal/domain"
	"github.com/dunamismax/deepfry/internal/pipeline"
	"github.com/dunamismax/deepfry/internal/queue"
	"github.com/dunamismax/deepfry/internal/store"
	"github.com/dunamismax/deepfry/internal/webhook"
	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const downloadURLTTL = time.Hour

type Server struct {
	logger          logrus.FieldLogger
	presigner       presigner
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type presigner interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger logrus.FieldLogger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	objects pipeline.ObjectStore,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if objects == nil {
		return nil, fmt.Errorf("object storage is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(
		pipeline.ObjectStoreFetcher{Storage: objects},
		pipeline.ObjectStoreEmitter{Storage: objects, OutputPrefix: "outputs"},
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := newServer(logger, workerCfg.MaxActiveJobs, localProcessor, objectProcessor, webhookClient, jobStore, usageStore)
	if p, ok := objects.(presigner); ok {
		s.presigner = p
	}
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			Logger:   logger,
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retry":     fmt.Sprintf("%d/%d", retried, maxRetry),
				}).WithError(err).Error("task failed")
			}),
		},
	)
	return s, nil
}

func newServer(
	logger logrus.FieldLogger,
	maxActiveJobs int,
	local, objects processor,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) *Server {
	return &Server{
		logger:          logger,
		sem:             make(chan struct{}, max(1, maxActiveJobs)),
		localProcessor:  local,
		objectProcessor: objects,
		webhookClient:   webhookClient,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("github.com/dunamismax/deepfry/internal/worker"),
	}
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeFryImage, s.handleFryImage)
	return mux
}

// Start begins consuming tasks in the background.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

// Shutdown waits for in-flight tasks before returning.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleFryImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseFryImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.fry_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.format", payload.Format),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.WithFields(logrus.Fields{
		"job_id":      payload.JobID,
		"source_type": payload.SourceType,
		"object_key":  payload.ObjectKey,
	})
	log.Info("frying")

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	proc := s.objectProcessor
	if payload.SourceType == domain.SourceTypeLocalFile {
		proc = s.localProcessor
	}

	result, err := proc.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Recipe:     payload.Recipe,
		Format:     payload.Format,
		Quality:    payload.Quality,
	})
	if err != nil {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		log.WithError(err).Warn("fry failed")
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if pipeline.IsPermanent(err) {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	log.WithFields(logrus.Fields{
		"passes": result.Output.Passes,
		"output": result.Output.Path,
		"size":   humanize.Bytes(uint64(result.Output.Bytes)),
	}).Info("fried")

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	for _, algo := range result.Algorithms {
		s.metrics.passesTotal.WithLabelValues(algo.Operation.String()).Inc()
	}
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	completed := map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output":       result.Output,
	}
	if url := s.downloadURL(ctx, payload, result.Output); url != "" {
		completed["download_url"] = url
	}
	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, completed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		// The image is already written; a redelivery would fry it again.
		outcome = domain.JobStatusSucceeded
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "fried")
	return nil
}

// downloadURL presigns the fried object for object-store jobs. Local outputs
// have no URL.
func (s *Server) downloadURL(ctx context.Context, payload queue.FryImagePayload, out pipeline.Output) string {
	if s.presigner == nil || payload.SourceType == domain.SourceTypeLocalFile {
		return ""
	}
	url, err := s.presigner.PresignedGetURL(ctx, out.Path, downloadURLTTL)
	if err != nil {
		s.logger.WithField("job_id", payload.JobID).WithError(err).Warn("presign download failed")
		return ""
	}
	return url
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		s.logger.WithFields(logrus.Fields{"job_id": jobID, "status": status}).WithError(err).Warn("job status update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.FryImagePayload, event string, body map[string]any) error {
	if strings.TrimSpace(payload.WebhookURL) == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.WithFields(logrus.Fields{"job_id": payload.JobID, "event": event}).WithError(err).Warn("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

// recordUsage bills every pass over every pixel.
func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.WithField("job_id", jobID).WithError(err).Warn("usage lookup failed")
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	out := result.Output
	pixelsProcessed := int64(out.Width) * int64(out.Height) * int64(out.Passes)
	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		Passes:          out.Passes,
		PixelsProcessed: pixelsProcessed,
		BytesWritten:    int64(out.Bytes),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.WithField("job_id", jobID).WithError(err).Warn("usage log write failed")
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesWrittenTotal.Add(float64(out.Bytes))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
