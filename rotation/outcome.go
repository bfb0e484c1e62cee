package rotation

// Outcome classifies how a rotation operation ended.
type Outcome int

const (
	// OutcomeFailed means the record was not rotated and will not be without
	// a new request.
	OutcomeFailed Outcome = iota

	// OutcomeCompleted means the record now opens with the new passphrase.
	OutcomeCompleted

	// OutcomeRouted means a background worker accepted the rotation. The
	// record will be rotated eventually, or the job will fail and the status
	// endpoint will say so; the caller confirms via the job ID.
	OutcomeRouted
)

// String returns the outcome as its log and metrics label.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRouted:
		return "routed"
	default:
		return "failed"
	}
}

// Result is the report of a single Rotate call.
type Result struct {
	// Outcome is the terminal classification.
	Outcome Outcome

	// JobID identifies the background job when Outcome is OutcomeRouted,
	// empty otherwise.
	JobID string
}

// Succeeded reports whether the rotation completed synchronously or was
// accepted by a background worker. Routed is a weaker success than
// Completed: the new passphrase is promised, not yet in effect.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeCompleted || r.Outcome == OutcomeRouted
}
