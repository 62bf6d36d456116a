package domain

import "time"

// JobStatus enumerates transcription job lifecycle states.
type JobStatus string

const (
	JobStatusProgress              JobStatus = "Progress"
	JobStatusTranscriptionComplete JobStatus = "TranscriptionComplete"
	JobStatusClosed                JobStatus = "Closed"
	JobStatusCanceled              JobStatus = "Canceled"
	JobStatusError                 JobStatus = "Error"

	// JobStatusUnknown is reported for media packages without any job. It is
	// never persisted.
	JobStatusUnknown JobStatus = "Unknown"
)

// Provider is a registered transcription back-end.
type Provider struct {
	ID   int64
	Name string
}

// JobControl tracks one job submitted to a provider.
type JobControl struct {
	JobID          string
	MediaPackageID string
	TrackID        string
	Status         JobStatus
	TrackDuration  time.Duration
	DateCreated    time.Time
	DateExpected   *time.Time
	DateCompleted  *time.Time
	ProviderID     int64
	ProviderName   string
}

// NewJobControl is the input for creating a JobControl row.
type NewJobControl struct {
	MediaPackageID string
	TrackID        string
	JobID          string
	Status         JobStatus
	TrackDuration  time.Duration
	DateExpected   *time.Time
	ProviderName   string
}

// ExpectedCompletion returns the provider deadline when known, otherwise the
// creation time plus the track duration.
func (j JobControl) ExpectedCompletion() time.Time {
	if j.DateExpected != nil {
		return *j.DateExpected
	}
	return j.DateCreated.Add(j.TrackDuration)
}

// ReadyAt is the earliest time the job may be polled.
func (j JobControl) ReadyAt(buffer time.Duration) time.Time {
	return j.ExpectedCompletion().Add(buffer)
}
