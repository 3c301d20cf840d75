package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/multibuzz/attribution-engine/internal/metrics"
	"go.uber.org/zap"
)

// Worker drains the async ingestion queue. Processing failures are logged
// only; async callers were already answered.
type Worker struct {
	pipeline *Pipeline
	metrics  *metrics.Metrics
	logger   *zap.Logger

	jobs chan Job
	wg   sync.WaitGroup
}

func NewWorker(pipeline *Pipeline, queueSize int, m *metrics.Metrics, logger *zap.Logger) *Worker {
	return &Worker{
		pipeline: pipeline,
		metrics:  m,
		logger:   logger,
		jobs:     make(chan Job, queueSize),
	}
}

// Start launches n worker goroutines.
func (w *Worker) Start(n int) {
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run()
	}
	w.logger.Info("ingest workers started", zap.Int("workers", n))
}

// Dispatch queues a job without blocking. Returns false when the queue is
// full and the job was dropped.
func (w *Worker) Dispatch(job Job) bool {
	select {
	case w.jobs <- job:
		w.metrics.SetQueueDepth(len(w.jobs))
		return true
	default:
		return false
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for job := range w.jobs {
		w.metrics.SetQueueDepth(len(w.jobs))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		start := time.Now()
		_, err := w.pipeline.ProcessOne(ctx, job.AccountID, job.IsTest, job.Record, job.Meta)
		cancel()

		if err != nil {
			w.metrics.RecordIngest("error", time.Since(start))
			w.logger.Error("async event processing failed",
				zap.String("account_id", job.AccountID),
				zap.Error(err),
			)
			continue
		}
		w.metrics.RecordIngest("ok", time.Since(start))
	}
}

// Close stops intake and blocks until queued jobs are drained.
func (w *Worker) Close() {
	close(w.jobs)
	w.wg.Wait()
}
