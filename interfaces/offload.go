package interfaces

import "context"

// RotationDispatcher routes a rotation that could not complete in-process to
// an external execution lane, typically the rotation worker daemon.
//
// Dispatch is an enqueue, not an execution: ok reports that the worker
// accepted the job, never that the rotation finished. Callers that need
// confirmation poll the worker's job API with the returned job ID.
// Implementations bound their own network timeout and must not log the
// passphrase arguments.
type RotationDispatcher interface {
	Dispatch(ctx context.Context, subject SubjectID, oldPassphrase, newPassphrase string) (jobID string, ok bool)
}
