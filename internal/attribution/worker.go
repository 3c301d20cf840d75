package attribution

import (
	"context"
	"sync"
	"time"

	"github.com/multibuzz/attribution-engine/internal/models"
	"go.uber.org/zap"
)

// Worker runs attribution asynchronously after conversion creation, so the
// conversion request never waits on multiple algorithm runs. Failures are
// logged only; the conversion itself is already durable.
type Worker struct {
	service *Service
	logger  *zap.Logger

	jobs chan *models.Conversion
	wg   sync.WaitGroup
}

func NewWorker(service *Service, queueSize int, logger *zap.Logger) *Worker {
	return &Worker{
		service: service,
		logger:  logger,
		jobs:    make(chan *models.Conversion, queueSize),
	}
}

// Start launches n worker goroutines.
func (w *Worker) Start(n int) {
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run()
	}
	w.logger.Info("attribution workers started", zap.Int("workers", n))
}

// Dispatch queues a conversion for attribution. Returns false when the
// queue is full.
func (w *Worker) Dispatch(conversion *models.Conversion) bool {
	select {
	case w.jobs <- conversion:
		return true
	default:
		w.logger.Warn("attribution queue full, conversion skipped",
			zap.String("conversion_id", conversion.ID),
		)
		return false
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for conversion := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := w.service.ComputeForConversion(ctx, conversion); err != nil {
			w.logger.Error("attribution run failed",
				zap.String("conversion_id", conversion.ID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops intake and blocks until queued conversions are processed.
func (w *Worker) Close() {
	close(w.jobs)
	w.wg.Wait()
}
