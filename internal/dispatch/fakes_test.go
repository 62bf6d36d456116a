package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"transcription/internal/domain"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type pollReply struct {
	res domain.PollResult
	err error
}

func done(jobID string) pollReply {
	return pollReply{res: domain.PollResult{Done: true, Handle: domain.ResultHandle{
		JobID:       jobID,
		ContentType: "application/json",
		Body:        []byte(`{"results":[{"transcript":"hello"}]}`),
	}}}
}

func notDone() pollReply { return pollReply{} }

func failedAtProvider(reason string) pollReply {
	return pollReply{res: domain.PollResult{Done: true, Failure: reason}}
}

func providerErr(code int) pollReply {
	return pollReply{err: &domain.ProviderError{StatusCode: code}}
}

// fakeProvider replays scripted poll replies per job; the last reply repeats.
type fakeProvider struct {
	mu        sync.Mutex
	replies   map[string][]pollReply
	polls     map[string]int
	fetches   map[string]int
	discarded []string
	fetchErr  error
	panicOn   string
	artifacts domain.ArtifactStore
}

func newFakeProvider(artifacts domain.ArtifactStore) *fakeProvider {
	return &fakeProvider{
		replies:   make(map[string][]pollReply),
		polls:     make(map[string]int),
		fetches:   make(map[string]int),
		artifacts: artifacts,
	}
}

func (p *fakeProvider) script(jobID string, replies ...pollReply) {
	p.mu.Lock()
	p.replies[jobID] = append(p.replies[jobID], replies...)
	p.mu.Unlock()
}

func (p *fakeProvider) pollCount(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls[jobID]
}

func (p *fakeProvider) Submit(context.Context, domain.SubmitRequest) (*domain.Submission, error) {
	return nil, errors.New("not used")
}

func (p *fakeProvider) PollCompletion(_ context.Context, jobID string) (domain.PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if jobID == p.panicOn {
		panic("provider exploded")
	}
	p.polls[jobID]++
	queue := p.replies[jobID]
	if len(queue) == 0 {
		return domain.PollResult{}, nil
	}
	reply := queue[0]
	if len(queue) > 1 {
		p.replies[jobID] = queue[1:]
	}
	return reply.res, reply.err
}

func (p *fakeProvider) FetchAndPersistResult(ctx context.Context, h domain.ResultHandle) (string, error) {
	p.mu.Lock()
	p.fetches[h.JobID]++
	err := p.fetchErr
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	return p.artifacts.Put(ctx, domain.CollectionTranscripts, h.JobID+".json", h.Body)
}

func (p *fakeProvider) DiscardJob(_ context.Context, jobID string) error {
	p.mu.Lock()
	p.discarded = append(p.discarded, jobID)
	p.mu.Unlock()
	return nil
}

type fakeEngine struct {
	mu        sync.Mutex
	snapshots map[string]domain.OwnerInfo
	orgs      map[string]bool
	applyErrs []error
	applied   []domain.TriggerRequest
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{snapshots: make(map[string]domain.OwnerInfo), orgs: make(map[string]bool)}
}

func (e *fakeEngine) publish(mediaPackageID, orgID string) {
	e.mu.Lock()
	e.snapshots[mediaPackageID] = domain.OwnerInfo{MediaPackageID: mediaPackageID, Version: 1, OrganizationID: orgID}
	e.orgs[orgID] = true
	e.mu.Unlock()
}

func (e *fakeEngine) appliedJobs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, r := range e.applied {
		out = append(out, r.JobID)
	}
	return out
}

func (e *fakeEngine) FindLatestSnapshot(_ context.Context, mediaPackageID string) (*domain.OwnerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.snapshots[mediaPackageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (e *fakeEngine) Organization(_ context.Context, id string) (*domain.Organization, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.orgs[id] {
		return nil, domain.ErrNotFound
	}
	return &domain.Organization{ID: id, Name: id}, nil
}

func (e *fakeEngine) Apply(_ context.Context, req domain.TriggerRequest) (*domain.TriggerHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, req)
	if len(e.applyErrs) > 0 {
		err := e.applyErrs[0]
		e.applyErrs = e.applyErrs[1:]
		if err != nil {
			return nil, &domain.TriggerError{MediaPackageID: req.MediaPackageID, JobID: req.JobID, Err: err}
		}
	}
	return &domain.TriggerHandle{WorkflowID: "wf-" + req.JobID}, nil
}

type notification struct {
	subject string
	body    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, subject, body string) {
	n.mu.Lock()
	n.sent = append(n.sent, notification{subject: subject, body: body})
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// failingJobs fails every read; writes are not expected.
type failingJobs struct {
	domain.JobControlRepository
}

func (failingJobs) FindByStatus(context.Context, ...domain.JobStatus) ([]domain.JobControl, error) {
	return nil, &domain.StoreError{Op: "find by status", Err: errors.New("connection refused")}
}
