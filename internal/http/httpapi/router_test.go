package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcription/internal/adapter/repo"
	"transcription/internal/dispatch"
	"transcription/internal/domain"
	"transcription/internal/http/handlers"
	"transcription/internal/middleware"
	"transcription/internal/notify"
	"transcription/internal/storage"
	"transcription/internal/transcription"
)

const (
	secret        = "callback-secret"
	operatorToken = "operator-token"
)

type provider struct{ artifacts domain.ArtifactStore }

func (provider) Submit(_ context.Context, req domain.SubmitRequest) (*domain.Submission, error) {
	if req.MediaURL == "https://unreachable" {
		return nil, &domain.ProviderError{StatusCode: 503, Message: "maintenance"}
	}
	return &domain.Submission{JobID: "job-" + req.MediaPackageID}, nil
}

func (provider) PollCompletion(context.Context, string) (domain.PollResult, error) {
	return domain.PollResult{}, nil
}

func (p provider) FetchAndPersistResult(ctx context.Context, h domain.ResultHandle) (string, error) {
	return p.artifacts.Put(ctx, domain.CollectionTranscripts, h.JobID+".json", h.Body)
}

func (provider) DiscardJob(context.Context, string) error { return nil }

type engine struct{}

func (engine) FindLatestSnapshot(context.Context, string) (*domain.OwnerInfo, error) {
	return nil, domain.ErrNotFound
}

func (engine) Organization(context.Context, string) (*domain.Organization, error) {
	return nil, domain.ErrNotFound
}

func (engine) Apply(context.Context, domain.TriggerRequest) (*domain.TriggerHandle, error) {
	return &domain.TriggerHandle{}, nil
}

func newServer(t *testing.T) http.Handler {
	t.Helper()
	artifacts, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc, err := transcription.NewService(transcription.Deps{
		Jobs:      repo.NewMemoryJobControlRepository(),
		Provider:  provider{artifacts: artifacts},
		Engine:    engine{},
		Artifacts: artifacts,
		Notifier:  notify.LogNotifier{Logger: zerolog.Nop()},
	}, transcription.Config{
		Enabled:      true,
		ProviderName: "nibity",
		Language:     "en-US",
		Dispatch:     dispatch.DefaultConfig(),
	}, zerolog.Nop())
	require.NoError(t, err)
	app := handlers.NewApp(svc, zerolog.Nop())
	return NewRouter(app, Options{
		Logger:             zerolog.Nop(),
		CallbackSecret:     secret,
		OperatorToken:      operatorToken,
		RateLimitPerMinute: 1000,
	})
}

// send issues an operator request; signed adds the callback signature.
func send(t *testing.T, h http.Handler, method, target string, body any, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	return sendAs(t, h, "Bearer "+operatorToken, method, target, body, signed)
}

func sendAs(t *testing.T, h http.Handler, authorization, method, target string, body any, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if signed {
		req.Header.Set(middleware.SignatureHeader, middleware.SignPayload(secret, raw))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := send(t, newServer(t), http.MethodGet, "/v1/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitCallbackAndFetchResult(t *testing.T) {
	h := newServer(t)

	rec := send(t, h, http.MethodPost, "/v1/transcriptions", map[string]any{
		"mediaPackageId":  "mp-1",
		"trackId":         "track-1",
		"mediaUrl":        "https://media.example.org/a.mp4",
		"trackDurationMs": 90000,
	}, false)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "job-mp-1", job["jobId"])
	assert.Equal(t, "Progress", job["status"])
	assert.EqualValues(t, 90000, job["trackDurationMs"])

	rec = send(t, h, http.MethodPost, "/v1/transcriptions/callbacks/done", map[string]any{
		"jobId":  "job-mp-1",
		"result": map[string]string{"text": "hello"},
	}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(t, h, http.MethodPost, "/v1/transcriptions/callbacks/done", map[string]any{
		"jobId":  "job-mp-1",
		"result": map[string]string{"text": "hello"},
	}, true)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = send(t, h, http.MethodGet, "/v1/transcriptions/mediapackages/mp-1", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var mp struct {
		Status string           `json:"status"`
		Jobs   []map[string]any `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mp))
	assert.Equal(t, "TranscriptionComplete", mp.Status)
	assert.Len(t, mp.Jobs, 1)

	rec = send(t, h, http.MethodGet, "/v1/transcriptions/mediapackages/mp-1/result", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"hello"}`, rec.Body.String())
	assert.Equal(t, "job-mp-1", rec.Header().Get("X-Transcription-Job"))

	rec = send(t, h, http.MethodGet, "/v1/transcriptions/mediapackages/mp-1/captions", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultNotYetAvailable(t *testing.T) {
	h := newServer(t)
	rec := send(t, h, http.MethodPost, "/v1/transcriptions", map[string]any{
		"mediaPackageId": "mp-2", "trackId": "t", "mediaUrl": "https://media.example.org/b.mp4",
	}, false)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = send(t, h, http.MethodPost, "/v1/transcriptions/callbacks/done", map[string]any{"jobId": "job-mp-2"}, true)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// No result was delivered and the provider has nothing to fetch yet.
	rec = send(t, h, http.MethodGet, "/v1/transcriptions/mediapackages/mp-2/result", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newServer(t)

	rec := send(t, h, http.MethodGet, "/v1/transcriptions/jobs/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(t, h, http.MethodPost, "/v1/transcriptions", map[string]any{"mediaPackageId": "mp"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, h, http.MethodPost, "/v1/transcriptions", map[string]any{
		"mediaPackageId": "mp", "trackId": "t", "mediaUrl": "https://unreachable",
	}, false)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = send(t, h, http.MethodPost, "/v1/transcriptions", map[string]any{
		"mediaPackageId": "mp-3", "trackId": "t", "mediaUrl": "https://media.example.org/c.mp4",
	}, false)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = send(t, h, http.MethodPost, "/v1/transcriptions/callbacks/error", map[string]any{"jobId": "job-mp-3", "message": "bad audio"}, true)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = send(t, h, http.MethodPost, "/v1/transcriptions/callbacks/done", map[string]any{"jobId": "job-mp-3"}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = send(t, h, http.MethodDelete, "/v1/transcriptions/jobs/job-mp-3", nil, false)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = send(t, h, http.MethodGet, "/v1/transcriptions/jobs/job-mp-3", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	h := newServer(t)
	rec := send(t, h, http.MethodPost, "/v1/transcriptions", map[string]any{
		"mediaPackageId": "mp-4", "trackId": "t", "mediaUrl": "https://media.example.org/d.mp4",
	}, false)
	require.Equal(t, http.StatusAccepted, rec.Code)

	routes := []struct{ method, target string }{
		{http.MethodPost, "/v1/transcriptions"},
		{http.MethodGet, "/v1/transcriptions/jobs/job-mp-4"},
		{http.MethodDelete, "/v1/transcriptions/jobs/job-mp-4"},
		{http.MethodGet, "/v1/transcriptions/mediapackages/mp-4"},
		{http.MethodGet, "/v1/transcriptions/mediapackages/mp-4/result"},
		{http.MethodGet, "/v1/transcriptions/mediapackages/mp-4/captions"},
	}
	for _, rt := range routes {
		for _, auth := range []string{"", "Bearer wrong", "Basic " + operatorToken} {
			rec := sendAs(t, h, auth, rt.method, rt.target, nil, false)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s with %q", rt.method, rt.target, auth)
		}
	}

	// the job survived the unauthenticated purge attempts
	rec = send(t, h, http.MethodGet, "/v1/transcriptions/jobs/job-mp-4", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	// callbacks are authenticated by signature alone
	rec = sendAs(t, h, "", http.MethodPost, "/v1/transcriptions/callbacks/done", map[string]any{"jobId": "job-mp-4"}, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOpenAPIServed(t *testing.T) {
	rec := send(t, newServer(t), http.MethodGet, "/v1/openapi.json", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc["paths"], "/v1/transcriptions")
}
