package battle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/liveloop/backend/internal/logging"
)

// ObjectStorage persists archived battle summaries.
type ObjectStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// ArchiverConfig controls the concurrency characteristics of the archiver.
type ArchiverConfig struct {
	QueueSize int
	Workers   int
}

// SummaryArchiver asynchronously uploads finished battle summaries to
// object storage for replay and analytics.
type SummaryArchiver struct {
	storage ObjectStorage
	logger  *slog.Logger

	jobs   chan Summary
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var errArchiverClosed = errors.New("summary archiver closed")

// NewSummaryArchiver constructs a background worker pool that uploads summaries.
func NewSummaryArchiver(storage ObjectStorage, cfg ArchiverConfig, logger *slog.Logger) *SummaryArchiver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &SummaryArchiver{
		storage: storage,
		logger:  logger,
		jobs:    make(chan Summary, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	a.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go a.worker()
	}

	return a
}

// Enqueue schedules a summary upload.
func (a *SummaryArchiver) Enqueue(ctx context.Context, summary Summary) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return errArchiverClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return errArchiverClosed
	case a.jobs <- summary:
		return nil
	}
}

// Shutdown waits for the worker pool to drain outstanding uploads.
func (a *SummaryArchiver) Shutdown(ctx context.Context) error {
	a.once.Do(func() {
		a.cancel()
		close(a.jobs)
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (a *SummaryArchiver) worker() {
	defer a.wg.Done()

	for summary := range a.jobs {
		a.handle(summary)
	}
}

func (a *SummaryArchiver) handle(summary Summary) {
	if a.storage == nil {
		a.logger.Error("summary archiver missing storage", "sessionId", summary.SessionID)
		return
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		a.logger.Error("marshal battle summary", "sessionId", summary.SessionID, "error", err)
		return
	}

	uploadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	uploadCtx = logging.WithLogger(uploadCtx, a.logger)
	uploadCtx, span := logging.StartSpan(uploadCtx, "archive battle summary")
	defer span.End()

	key := fmt.Sprintf("battles/%s.json", summary.SessionID)
	location, err := a.storage.Save(uploadCtx, key, bytes.NewReader(payload))
	if err != nil {
		a.logger.Error("battle summary upload failed", "sessionId", summary.SessionID, "error", err)
		return
	}

	a.logger.Info("archived battle summary", "sessionId", summary.SessionID, "location", location)
}

var _ Archiver = (*SummaryArchiver)(nil)
