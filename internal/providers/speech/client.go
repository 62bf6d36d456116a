package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"transcription/internal/domain"
	"transcription/internal/infra"
)

// statusAccepted is the per-media status the provider reports for a queued job.
const statusAccepted = 500

var ErrMissingCredentials = errors.New("speech: credentials are required")

// TokenSource supplies bearer tokens for provider calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that can drop a rejected token.
type invalidator interface {
	Invalidate()
}

// Options configures the provider client.
type Options struct {
	BaseURL           string
	ClientID          string
	Tokens            TokenSource
	Artifacts         domain.ArtifactStore
	HTTPClient        *http.Client
	Logger            *infra.Logger
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	RetainHours       int
}

// Client talks to the transcription provider over HTTP.
type Client struct {
	baseURL     string
	baseHost    string
	clientID    string
	tokens      TokenSource
	artifacts   domain.ArtifactStore
	httpClient  *http.Client
	limiter     *rate.Limiter
	retainHours int
	logger      *infra.Logger
}

type submitEntry struct {
	ID     flexibleID `json:"id"`
	Length float64    `json:"length"`
	Status int        `json:"status"`
	Due    string     `json:"due"`
}

type operation struct {
	Name      string          `json:"name"`
	Done      bool            `json:"done"`
	Response  json.RawMessage `json:"response"`
	ResultURL string          `json:"resultUrl"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// flexibleID accepts ids encoded as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("speech: invalid job id %s", string(b))
	}
	*f = flexibleID(n.String())
	return nil
}

// NewClient constructs a client with defaults for unset options.
func NewClient(opts Options) (*Client, error) {
	if opts.Tokens == nil {
		return nil, ErrMissingCredentials
	}
	if opts.Artifacts == nil {
		return nil, errors.New("speech: artifact store is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("speech: base url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("speech: invalid base url %q", opts.BaseURL)
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	retain := opts.RetainHours
	if retain <= 0 {
		retain = 168
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		l := infra.Logger(zerolog.Nop())
		logger = &l
	}
	return &Client{
		baseURL:     baseURL,
		baseHost:    parsed.Host,
		clientID:    strings.TrimSpace(opts.ClientID),
		tokens:      opts.Tokens,
		artifacts:   opts.Artifacts,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(limit, 1),
		retainHours: retain,
		logger:      logger,
	}, nil
}

// Submit hands media to the provider and returns the assigned job id.
func (c *Client) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Submission, error) {
	if req.MediaPackageID == "" || req.MediaURL == "" {
		return nil, fmt.Errorf("%w: media package and media url are required", domain.ErrInvalidInput)
	}
	form := url.Values{}
	form.Set("media[0][name]", req.MediaPackageID)
	form.Set("media[0][url]", req.MediaURL)
	form.Set("ref", uuid.NewString())
	form.Set("notes", "track "+req.TrackID)
	form.Set("retain", strconv.Itoa(c.retainHours))
	if req.Language != "" {
		form.Set("language", req.Language)
	}

	endpoint := c.baseURL + "/v1/" + url.PathEscape(c.clientID) + "/submit"
	status, _, raw, err := c.do(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, providerError(status, raw)
	}

	var decoded map[string]submitEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("speech: decode submit response: %w", err)
	}
	entry, ok := decoded[req.MediaPackageID]
	if !ok {
		return nil, fmt.Errorf("speech: submit response missing media package %s", req.MediaPackageID)
	}
	if entry.Status != statusAccepted {
		return nil, &domain.ProviderError{StatusCode: entry.Status, Message: "submission not accepted"}
	}
	if entry.ID == "" {
		return nil, errors.New("speech: submit response missing job id")
	}

	input, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("speech: encode submission: %w", err)
	}
	sub := &domain.Submission{JobID: string(entry.ID), Input: input}
	if entry.Due != "" {
		if due, err := time.Parse(time.RFC3339, entry.Due); err == nil {
			sub.DateExpected = &due
		} else {
			c.logger.Warn().Str("due", entry.Due).Msg("speech: ignoring unparsable due date")
		}
	}
	c.logger.Debug().
		Str("media_package_id", req.MediaPackageID).
		Str("job_id", sub.JobID).
		Float64("length", entry.Length).
		Msg("speech: submitted media")
	return sub, nil
}

// PollCompletion checks whether the provider finished jobID.
func (c *Client) PollCompletion(ctx context.Context, jobID string) (domain.PollResult, error) {
	status, _, raw, err := c.do(ctx, http.MethodGet, c.operationURL(jobID), nil, "")
	if err != nil {
		return domain.PollResult{}, err
	}
	if status >= 300 {
		return domain.PollResult{}, providerError(status, raw)
	}

	var op operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return domain.PollResult{}, fmt.Errorf("speech: decode operation: %w", err)
	}
	if !op.Done {
		return domain.PollResult{}, nil
	}
	if op.Error != nil {
		msg := strings.TrimSpace(op.Error.Message)
		if msg == "" {
			msg = fmt.Sprintf("provider error code %d", op.Error.Code)
		}
		return domain.PollResult{Done: true, Failure: truncate(msg, maxErrorMessage)}, nil
	}
	return domain.PollResult{
		Done: true,
		Handle: domain.ResultHandle{
			JobID:       jobID,
			URL:         op.ResultURL,
			ContentType: "application/json",
			Body:        []byte(op.Response),
		},
	}, nil
}

// FetchAndPersistResult stores the finished transcription under
// transcripts/<jobId><ext> and returns its locator.
func (c *Client) FetchAndPersistResult(ctx context.Context, handle domain.ResultHandle) (string, error) {
	data, contentType := handle.Body, handle.ContentType
	if handle.URL != "" {
		status, header, raw, err := c.download(ctx, handle.URL)
		if err != nil {
			return "", err
		}
		if status >= 300 {
			return "", fmt.Errorf("speech: download result: %w", providerError(status, raw))
		}
		data, contentType = raw, header.Get("Content-Type")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("speech: empty result for job %s", handle.JobID)
	}
	locator, err := c.artifacts.Put(ctx, domain.CollectionTranscripts, handle.JobID+extensionFor(contentType), data)
	if err != nil {
		return "", fmt.Errorf("speech: persist result: %w", err)
	}
	c.logger.Debug().Str("job_id", handle.JobID).Str("locator", locator).Msg("speech: result stored")
	return locator, nil
}

// DiscardJob deletes the job and its staged media at the provider.
func (c *Client) DiscardJob(ctx context.Context, jobID string) error {
	status, _, raw, err := c.do(ctx, http.MethodDelete, c.operationURL(jobID), nil, "")
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || status < 300 {
		return nil
	}
	return providerError(status, raw)
}

func (c *Client) operationURL(jobID string) string {
	return c.baseURL + "/v1/operations/" + url.PathEscape(jobID)
}

// download fetches a result URL. The bearer token is only sent when the URL
// points at the provider itself; pre-signed storage links get no credentials.
func (c *Client) download(ctx context.Context, rawURL string) (int, http.Header, []byte, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("speech: result url: %w", err)
	}
	if target.Scheme != "" && target.Host != "" && !strings.EqualFold(target.Host, c.baseHost) {
		return c.send(ctx, http.MethodGet, rawURL, nil, "", false)
	}
	if target.Host == "" {
		rawURL = c.baseURL + "/" + strings.TrimPrefix(rawURL, "/")
	}
	return c.send(ctx, http.MethodGet, rawURL, nil, "", true)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (int, http.Header, []byte, error) {
	return c.send(ctx, method, endpoint, body, contentType, true)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, contentType string, authorize bool) (int, http.Header, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("speech: build request: %w", err)
	}
	if authorize {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("speech: token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("speech: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("speech: read response: %w", err)
	}
	if authorize && resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}
	return resp.StatusCode, resp.Header, raw, nil
}

func providerError(status int, raw []byte) *domain.ProviderError {
	msg := strings.TrimSpace(string(raw))
	var detail struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil {
		switch v := detail.Error.(type) {
		case string:
			msg = v
		case map[string]any:
			if m, ok := v["message"].(string); ok {
				msg = m
			}
		}
		if detail.Message != "" {
			msg = detail.Message
		}
	}
	return &domain.ProviderError{StatusCode: status, Message: truncate(msg, maxErrorMessage)}
}

const maxErrorMessage = 200

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".json"
	}
	switch mediaType {
	case "application/zip", "application/x-zip-compressed":
		return ".zip"
	case "text/vtt":
		return ".vtt"
	default:
		return ".json"
	}
}

var _ domain.ProviderClient = (*Client)(nil)
