// Package rotationhandler implements the worker side of rotation offload:
// an HTTP job API plus the dispatch client the engine uses to reach it.
//
// # Job API
//
// The handler exposes two endpoints on the internal dispatch plane:
//
//	POST /api/internal/rotation-jobs           submit a rotation job
//	GET  /api/internal/rotation-jobs/{job_id}  poll job state
//
// Both require a shared bearer token, compared in constant time. Submissions
// are deduplicated per subject: while a subject has a job in flight, further
// submissions return that job instead of racing a second rotation against
// it. Jobs run in background goroutines through a coordinator constructed
// without a dispatcher, so a rotation that cannot finish on a worker fails
// there instead of hopping between workers.
//
// Job state is in-memory with TTL pruning. A worker restart forgets
// unfinished jobs; callers that cannot confirm a routed rotation should
// re-check the credential itself before retrying.
//
// # Dispatch Client
//
// DispatchClient implements interfaces.RotationDispatcher. It is configured
// with either a static worker URL or a DNS SRV service name resolved through
// the serviceresolver package, and tries endpoints in resolution order. Its
// HTTP timeout is tight: dispatching only enqueues work.
//
// The dispatch plane carries passphrases in request bodies and must only be
// reachable inside the service network.
package rotationhandler
