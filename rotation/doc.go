// Package rotation implements passphrase rotation over encrypted credential
// records. All rotation is re-encryption: the sealed blob is opened with the
// old passphrase and sealed again with the new one; the secret material
// inside never changes and never leaves locked memory unwiped.
//
// # Execution Paths
//
// A rotation tries up to three paths in order. Which paths are available is
// fixed at construction time from the record store's capability flags and
// the presence of a dispatcher.
//
//  1. Transactional: re-read, re-encrypt and update inside one store
//     transaction. Any failure rolls back and falls through.
//  2. Compare-and-swap: read the record with its version stamp, re-encrypt,
//     and apply a conditional update keyed on that stamp. A lost race is a
//     typed result, not an error, and spends one unit of a small retry
//     budget.
//  3. Offload: hand the rotation to a background worker over the dispatch
//     client. Acceptance is the weaker OutcomeRouted success, confirmed
//     later through the job ID.
//
// Whatever the path, at most one writer wins a contested rotation; the
// losers observe a record that no longer opens with their old passphrase and
// stop with OutcomeFailed.
//
// # Precondition
//
// Before touching any path, Rotate proves the presented old passphrase opens
// the current record. A caller who cannot open the record gets OutcomeFailed
// immediately: no retries, no offload, nothing to brute-force against the
// worker queue.
//
// # Usage
//
//	coordinator, err := rotation.NewCoordinator(&rotation.CoordinatorConfig{
//	    Records:    records,
//	    Sealer:     sealer,
//	    Dispatcher: dispatcher, // optional
//	    Log:        logger,
//	})
//	if err != nil {
//	    return err
//	}
//
//	result := coordinator.Rotate(ctx, subject, oldPassphrase, newPassphrase)
//	switch result.Outcome {
//	case rotation.OutcomeCompleted:
//	    // the record opens with the new passphrase now
//	case rotation.OutcomeRouted:
//	    // poll the worker with result.JobID
//	case rotation.OutcomeFailed:
//	    // nothing changed
//	}
package rotation
