package domain

import (
	"context"
	"time"
)

// Artifact collections written by the service.
const (
	CollectionSubmissions = "submissions"
	CollectionTranscripts = "transcripts"
)

// ArtifactStore keeps submission inputs and transcription results.
type ArtifactStore interface {
	Put(ctx context.Context, collection, name string, data []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	// Lookup finds the artifact named stem with any extension.
	Lookup(ctx context.Context, collection, stem string) (string, error)
	Delete(ctx context.Context, collection, name string) error
	DeleteOlderThan(ctx context.Context, collection string, days int) (int, error)
}

// SubmitRequest describes media handed to a provider.
type SubmitRequest struct {
	MediaPackageID string
	TrackID        string
	MediaURL       string
	Language       string
	TrackDuration  time.Duration
}

// Submission is the provider acknowledgement of a SubmitRequest.
type Submission struct {
	JobID        string
	DateExpected *time.Time
	// Input is the payload that was sent, kept in the submissions collection.
	Input []byte
}

// ResultHandle points at a finished transcription, either by URL or inline.
type ResultHandle struct {
	JobID       string
	URL         string
	ContentType string
	Body        []byte
}

// PollResult is the outcome of a completion check. A failed check is
// reported as an error, typically *ProviderError. Failure is set when the
// provider finished the job without producing a result.
type PollResult struct {
	Done    bool
	Failure string
	Handle  ResultHandle
}

// ProviderClient is the remote transcription back-end.
type ProviderClient interface {
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
	PollCompletion(ctx context.Context, jobID string) (PollResult, error)
	// FetchAndPersistResult stores the result and returns its locator.
	FetchAndPersistResult(ctx context.Context, handle ResultHandle) (string, error)
	// DiscardJob removes media staged at the provider. Missing jobs are not an error.
	DiscardJob(ctx context.Context, jobID string) error
}

// OwnerInfo describes the latest archived version of a media package.
type OwnerInfo struct {
	MediaPackageID string
	Version        int
	OrganizationID string
}

type Organization struct {
	ID   string
	Name string
}

// TriggerRequest launches one downstream workflow for a completed job.
type TriggerRequest struct {
	MediaPackageID string
	JobID          string
	OrganizationID string
	DefinitionID   string
	Params         map[string]string
}

type TriggerHandle struct {
	WorkflowID string
}

// WorkflowEngine consumes completed jobs.
type WorkflowEngine interface {
	FindLatestSnapshot(ctx context.Context, mediaPackageID string) (*OwnerInfo, error)
	Organization(ctx context.Context, id string) (*Organization, error)
	Apply(ctx context.Context, req TriggerRequest) (*TriggerHandle, error)
}

// Notifier delivers operator notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}
