package backup

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Archiver writes one snapshot of the credential records and returns a
// location identifier for it.
type Archiver interface {
	Archive(ctx context.Context) (string, error)
}

// snapshotRequest asks the runner for an immediate snapshot.
type snapshotRequest struct {
	done chan snapshotResult
}

type snapshotResult struct {
	key string
	err error
}

// Runner drives an Archiver on a fixed interval and on demand. All snapshots
// go through the runner's loop, so a scheduled and a triggered snapshot never
// run concurrently.
type Runner struct {
	archiver Archiver
	interval time.Duration
	trigger  chan snapshotRequest
	log      *slog.Logger
}

// NewRunner creates a snapshot runner.
//
// Parameters:
// - archiver: the snapshot writer to drive
// - interval: time between scheduled snapshots, must be positive
// - log: structured logger
func NewRunner(archiver Archiver, interval time.Duration, log *slog.Logger) (*Runner, error) {
	if archiver == nil {
		return nil, errors.New("archiver is required")
	}
	if interval <= 0 {
		return nil, errors.New("snapshot interval must be positive")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Runner{
		archiver: archiver,
		interval: interval,
		trigger:  make(chan snapshotRequest),
		log:      log,
	}, nil
}

// Start runs the snapshot loop until the context is canceled. It blocks, so
// callers run it in a goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.log.Info("Snapshot runner started", slog.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Snapshot runner stopped")
			return
		case <-ticker.C:
			if key, err := r.archiver.Archive(ctx); err != nil {
				r.log.Error("Scheduled snapshot failed", "err", err)
			} else {
				r.log.Info("Scheduled snapshot complete", slog.String("key", key))
			}
		case req := <-r.trigger:
			key, err := r.archiver.Archive(ctx)
			req.done <- snapshotResult{key: key, err: err}
		}
	}
}

// TriggerSnapshot requests an immediate snapshot and waits for it to finish.
// It returns the snapshot's key, or an error if the snapshot failed or the
// context was canceled before the runner picked the request up.
func (r *Runner) TriggerSnapshot(ctx context.Context) (string, error) {
	req := snapshotRequest{done: make(chan snapshotResult, 1)}

	select {
	case r.trigger <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.key, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
