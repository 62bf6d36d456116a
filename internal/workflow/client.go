package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"transcription/internal/domain"
	"transcription/internal/infra"
)

// JobIDParam carries the transcription job id into the launched workflow.
const JobIDParam = "transcriptionJobId"

// Options configures the workflow engine client.
type Options struct {
	BaseURL    string
	User       string
	Password   string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
}

// Client is the HTTP binding of the workflow engine.
type Client struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
	logger     *infra.Logger
}

type snapshotResponse struct {
	MediaPackageID string `json:"mediaPackageId"`
	Version        int    `json:"version"`
	OrganizationID string `json:"organizationId"`
}

type organizationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type applyRequest struct {
	DefinitionID   string            `json:"definitionId"`
	MediaPackageID string            `json:"mediaPackageId"`
	OrganizationID string            `json:"organizationId"`
	Parameters     map[string]string `json:"parameters"`
}

type applyResponse struct {
	ID string `json:"id"`
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("workflow: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.Nop())
		logger = &l
	}
	return &Client{
		baseURL:    baseURL,
		user:       opts.User,
		password:   opts.Password,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// FindLatestSnapshot resolves the latest archived version of a media package.
func (c *Client) FindLatestSnapshot(ctx context.Context, mediaPackageID string) (*domain.OwnerInfo, error) {
	var out snapshotResponse
	endpoint := c.baseURL + "/snapshots/" + url.PathEscape(mediaPackageID) + "/latest"
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, fmt.Errorf("workflow: snapshot %s: %w", mediaPackageID, err)
	}
	if out.MediaPackageID == "" {
		out.MediaPackageID = mediaPackageID
	}
	return &domain.OwnerInfo{
		MediaPackageID: out.MediaPackageID,
		Version:        out.Version,
		OrganizationID: out.OrganizationID,
	}, nil
}

func (c *Client) Organization(ctx context.Context, id string) (*domain.Organization, error) {
	if id == "" {
		return nil, fmt.Errorf("workflow: organization: %w", domain.ErrNotFound)
	}
	var out organizationResponse
	if err := c.getJSON(ctx, c.baseURL+"/organizations/"+url.PathEscape(id), &out); err != nil {
		return nil, fmt.Errorf("workflow: organization %s: %w", id, err)
	}
	if out.ID == "" {
		out.ID = id
	}
	return &domain.Organization{ID: out.ID, Name: out.Name}, nil
}

// Apply launches one workflow. Repeated calls for the same job carry the same
// Idempotency-Key so the engine can collapse them.
func (c *Client) Apply(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerHandle, error) {
	params := make(map[string]string, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	params[JobIDParam] = req.JobID

	body, err := json.Marshal(applyRequest{
		DefinitionID:   req.DefinitionID,
		MediaPackageID: req.MediaPackageID,
		OrganizationID: req.OrganizationID,
		Parameters:     params,
	})
	if err != nil {
		return nil, &domain.TriggerError{MediaPackageID: req.MediaPackageID, JobID: req.JobID, Err: err}
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/workflows", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.TriggerError{MediaPackageID: req.MediaPackageID, JobID: req.JobID, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", IdempotencyKey(req.JobID))
	if req.OrganizationID != "" {
		httpReq.Header.Set("X-Organization", req.OrganizationID)
	}

	status, raw, err := c.send(httpReq)
	if err != nil {
		return nil, &domain.TriggerError{MediaPackageID: req.MediaPackageID, JobID: req.JobID, Err: err}
	}
	if status >= 300 {
		return nil, &domain.TriggerError{
			MediaPackageID: req.MediaPackageID,
			JobID:          req.JobID,
			Err:            fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(raw))),
		}
	}
	var out applyResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			c.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("workflow: unreadable apply response")
		}
	}
	c.logger.Debug().
		Str("media_package_id", req.MediaPackageID).
		Str("job_id", req.JobID).
		Str("workflow_id", out.ID).
		Msg("workflow: started")
	return &domain.TriggerHandle{WorkflowID: out.ID}, nil
}

// IdempotencyKey is the dedup token sent with every launch for jobID.
func IdempotencyKey(jobID string) string {
	return "transcription-" + jobID
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	status, raw, err := c.send(req)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status >= 300:
		return fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

var _ domain.WorkflowEngine = (*Client)(nil)
