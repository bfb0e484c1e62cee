package rotation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lucerna-id/credential-engine/cryptoutils"
	"github.com/lucerna-id/credential-engine/interfaces"
	"github.com/lucerna-id/credential-engine/securebuf"
)

const (
	// DefaultCASAttempts is the compare-and-swap retry budget before a
	// contested rotation is routed to the background worker.
	DefaultCASAttempts = 3

	// DefaultOperationTimeout bounds the synchronous part of a rotation
	// (precondition check, transactional path, swap retries). The offload
	// dispatch runs outside it, under the caller's context.
	DefaultOperationTimeout = 10 * time.Second
)

// CoordinatorConfig carries the coordinator's dependencies and tuning.
// Records, Sealer and Log are mandatory; Dispatcher is optional and its
// absence just disables the offload path.
type CoordinatorConfig struct {
	Records          interfaces.RecordStore
	Sealer           *cryptoutils.CredentialSealer
	Dispatcher       interfaces.RotationDispatcher
	Log              *slog.Logger
	CASAttempts      int           // defaults to DefaultCASAttempts
	OperationTimeout time.Duration // defaults to DefaultOperationTimeout
}

// Coordinator re-encrypts credential records from an old passphrase to a new
// one. It tries up to three execution paths in order:
//
//  1. a store transaction, when the record store supports them
//  2. optimistic compare-and-swap with a bounded retry budget
//  3. handing the rotation to a background worker
//
// Which paths exist is decided at construction from the store's capability
// flags and the dispatcher's presence, never probed at runtime.
type Coordinator struct {
	records     interfaces.RecordStore
	sealer      *cryptoutils.CredentialSealer
	dispatcher  interfaces.RotationDispatcher
	log         *slog.Logger
	casAttempts int
	opTimeout   time.Duration
	metrics     *RotationMetrics
}

// NewCoordinator creates a rotation coordinator, applying defaults for the
// unset tuning fields.
func NewCoordinator(cfg *CoordinatorConfig) (*Coordinator, error) {
	if cfg == nil {
		return nil, errors.New("coordinator config is required")
	}
	if cfg.Records == nil {
		return nil, errors.New("record store is required")
	}
	if cfg.Sealer == nil {
		return nil, errors.New("credential sealer is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("logger is required")
	}

	casAttempts := cfg.CASAttempts
	if casAttempts <= 0 {
		casAttempts = DefaultCASAttempts
	}
	opTimeout := cfg.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = DefaultOperationTimeout
	}

	return &Coordinator{
		records:     cfg.Records,
		sealer:      cfg.Sealer,
		dispatcher:  cfg.Dispatcher,
		log:         cfg.Log,
		casAttempts: casAttempts,
		opTimeout:   opTimeout,
		metrics:     NewRotationMetrics(),
	}, nil
}

// Rotate re-encrypts the subject's record from oldPassphrase to
// newPassphrase. It never returns an error: the Result's Outcome is the
// whole contract. OutcomeCompleted means the record now opens with the new
// passphrase; OutcomeRouted means a worker accepted the job identified by
// Result.JobID; OutcomeFailed means nothing changed.
func (c *Coordinator) Rotate(ctx context.Context, subject interfaces.SubjectID, oldPassphrase, newPassphrase string) Result {
	start := time.Now()
	result := c.rotate(ctx, subject, oldPassphrase, newPassphrase)
	duration := time.Since(start)

	c.metrics.RecordOutcome(result.Outcome.String())
	c.metrics.ObserveRotationDuration(duration.Seconds())

	if result.Succeeded() {
		c.log.Info("Rotation finished",
			slog.String("subject", subject.String()),
			slog.String("outcome", result.Outcome.String()),
			slog.Duration("duration", duration))
	} else {
		c.log.Warn("Rotation failed",
			slog.String("subject", subject.String()),
			slog.Duration("duration", duration))
	}
	return result
}

func (c *Coordinator) rotate(ctx context.Context, subject interfaces.SubjectID, oldPassphrase, newPassphrase string) Result {
	if err := subject.Validate(); err != nil {
		c.log.Warn("Rejected rotation request", "err", err)
		return Result{Outcome: OutcomeFailed}
	}
	if oldPassphrase == "" || newPassphrase == "" {
		c.log.Warn("Rejected rotation request: empty passphrase",
			slog.String("subject", subject.String()))
		return Result{Outcome: OutcomeFailed}
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	// Precondition: the presented old passphrase must open the current
	// record. A rotation that cannot prove knowledge of the old passphrase
	// is a validation failure, not something to retry or offload.
	record, err := c.records.FetchRecord(opCtx, subject)
	if err != nil {
		c.log.Warn("Rotation precondition failed: record unavailable",
			slog.String("subject", subject.String()), "err", err)
		return Result{Outcome: OutcomeFailed}
	}
	plaintext, err := c.sealer.Open(record.CipherText, oldPassphrase)
	if err != nil {
		c.log.Warn("Rotation precondition failed: record does not open with presented passphrase",
			slog.String("subject", subject.String()))
		return Result{Outcome: OutcomeFailed}
	}
	// The check is all the precondition needed.
	securebuf.Wipe(plaintext)

	if c.records.Capabilities().Transactions {
		if c.rotateInTx(opCtx, subject, oldPassphrase, newPassphrase) {
			return Result{Outcome: OutcomeCompleted}
		}
		// Fall through: the swap path re-checks everything itself.
	}

	switch c.rotateWithSwap(opCtx, subject, oldPassphrase, newPassphrase) {
	case swapCompleted:
		return Result{Outcome: OutcomeCompleted}
	case swapTerminal:
		return Result{Outcome: OutcomeFailed}
	default:
		// Contention or infrastructure trouble; the dispatch runs under the
		// caller's context because the operation budget may be spent.
		return c.offload(ctx, subject, oldPassphrase, newPassphrase)
	}
}

// rotateInTx runs the rotation inside a store transaction and reports
// whether it committed. Every failure rolls back and falls through to the
// swap path; in particular a decrypt failure inside the transaction is not
// terminal here, because the swap path's own re-check classifies it.
func (c *Coordinator) rotateInTx(ctx context.Context, subject interfaces.SubjectID, oldPassphrase, newPassphrase string) bool {
	c.metrics.RecordPathAttempt("transactional")

	tx, err := c.records.BeginTx(ctx)
	if err != nil {
		c.log.Debug("Failed to begin rotation transaction",
			slog.String("subject", subject.String()), "err", err)
		return false
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	record, err := tx.FetchRecord(ctx, subject)
	if err != nil {
		c.log.Debug("Failed to read record in transaction",
			slog.String("subject", subject.String()), "err", err)
		return false
	}

	// Re-open under the transaction: another rotation may have committed
	// between the precondition check and here.
	plaintext, err := c.sealer.Open(record.CipherText, oldPassphrase)
	if err != nil {
		c.log.Debug("Record no longer opens with presented passphrase in transaction",
			slog.String("subject", subject.String()))
		return false
	}

	sealed, err := c.sealer.Seal(plaintext, newPassphrase)
	securebuf.Wipe(plaintext)
	if err != nil {
		c.log.Error("Failed to re-seal credential",
			slog.String("subject", subject.String()), "err", err)
		return false
	}

	if err := tx.UpdateRecord(ctx, subject, sealed, interfaces.NextUpdateTime(record.UpdatedAt)); err != nil {
		c.log.Debug("Failed to update record in transaction",
			slog.String("subject", subject.String()), "err", err)
		return false
	}
	if err := tx.Commit(); err != nil {
		c.log.Debug("Failed to commit rotation transaction",
			slog.String("subject", subject.String()), "err", err)
		return false
	}

	c.log.Debug("Rotation applied transactionally", slog.String("subject", subject.String()))
	return true
}

// swapResult classifies one run of the compare-and-swap path.
type swapResult int

const (
	// swapCompleted: the record was re-encrypted and the swap applied.
	swapCompleted swapResult = iota
	// swapTerminal: the rotation can never apply (record gone, or it no
	// longer opens with the old passphrase); do not offload.
	swapTerminal
	// swapFallthrough: contention budget exhausted or infrastructure
	// failure; a background worker may still succeed.
	swapFallthrough
)

// rotateWithSwap runs the optimistic path: read, re-encrypt, swap keyed on
// the version stamp. A lost race comes back as a typed (false, nil) and
// spends one attempt; errors and budget exhaustion fall through to offload.
func (c *Coordinator) rotateWithSwap(ctx context.Context, subject interfaces.SubjectID, oldPassphrase, newPassphrase string) swapResult {
	for attempt := 1; attempt <= c.casAttempts; attempt++ {
		c.metrics.RecordPathAttempt("cas")

		record, err := c.records.FetchRecord(ctx, subject)
		if err != nil {
			if errors.Is(err, interfaces.ErrRecordNotFound) {
				c.log.Warn("Rotation halted: record disappeared",
					slog.String("subject", subject.String()))
				return swapTerminal
			}
			c.log.Debug("Failed to read record for swap",
				slog.String("subject", subject.String()), "err", err)
			return swapFallthrough
		}

		plaintext, err := c.sealer.Open(record.CipherText, oldPassphrase)
		if err != nil {
			// The precondition held earlier, so a failure here means another
			// rotation won in the meantime. The old passphrase is dead;
			// retrying or offloading cannot revive it.
			c.log.Warn("Rotation halted: record no longer opens with presented passphrase",
				slog.String("subject", subject.String()))
			return swapTerminal
		}

		sealed, err := c.sealer.Seal(plaintext, newPassphrase)
		securebuf.Wipe(plaintext)
		if err != nil {
			c.log.Error("Failed to re-seal credential",
				slog.String("subject", subject.String()), "err", err)
			return swapFallthrough
		}

		swapped, err := c.records.CompareAndSwapRecord(ctx, subject, record.Stamp(), sealed, interfaces.NextUpdateTime(record.UpdatedAt))
		if err != nil {
			c.log.Debug("Failed to swap record",
				slog.String("subject", subject.String()), "err", err)
			return swapFallthrough
		}
		if swapped {
			c.log.Debug("Rotation applied via compare-and-swap",
				slog.String("subject", subject.String()), slog.Int("attempt", attempt))
			return swapCompleted
		}

		// Lost the race. Re-read and try again on the next attempt.
		c.log.Debug("Lost compare-and-swap race",
			slog.String("subject", subject.String()), slog.Int("attempt", attempt))
	}

	c.log.Debug("Swap retry budget exhausted",
		slog.String("subject", subject.String()), slog.Int("attempts", c.casAttempts))
	return swapFallthrough
}

// offload hands the rotation to the background worker. The dispatcher uses
// its own short timeout; an acceptance is the weaker Routed success, and the
// job ID is the caller's handle for confirming completion later.
func (c *Coordinator) offload(ctx context.Context, subject interfaces.SubjectID, oldPassphrase, newPassphrase string) Result {
	if c.dispatcher == nil {
		c.log.Warn("Rotation not applied and no dispatcher configured",
			slog.String("subject", subject.String()))
		return Result{Outcome: OutcomeFailed}
	}

	c.metrics.RecordPathAttempt("offload")

	jobID, ok := c.dispatcher.Dispatch(ctx, subject, oldPassphrase, newPassphrase)
	if !ok {
		c.log.Warn("Background worker did not accept rotation",
			slog.String("subject", subject.String()))
		return Result{Outcome: OutcomeFailed}
	}

	c.log.Info("Rotation routed to background worker",
		slog.String("subject", subject.String()), slog.String("job_id", jobID))
	return Result{Outcome: OutcomeRouted, JobID: jobID}
}
