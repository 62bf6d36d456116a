package domain

import "fmt"

var transitions = map[JobStatus][]JobStatus{
	JobStatusProgress:              {JobStatusTranscriptionComplete, JobStatusCanceled, JobStatusError},
	JobStatusTranscriptionComplete: {JobStatusClosed, JobStatusError},
}

// ParseJobStatus converts a persisted status name.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown job status %q", ErrInvalidInput, s)
	}
	return st, nil
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusProgress, JobStatusTranscriptionComplete, JobStatusClosed, JobStatusCanceled, JobStatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusClosed || s == JobStatusCanceled || s == JobStatusError
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
// Re-applying the current status is not an edge; stores treat it as a no-op.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors lists the statuses that may move into to.
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusProgress, JobStatusTranscriptionComplete} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Reached reports whether a job in status s has already passed through target,
// e.g. a Closed job has reached TranscriptionComplete.
func (s JobStatus) Reached(target JobStatus) bool {
	if s == target {
		return true
	}
	return target == JobStatusTranscriptionComplete && s == JobStatusClosed
}
