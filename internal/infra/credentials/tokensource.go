package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoToken is returned when no credential is configured.
var ErrNoToken = errors.New("credentials: no token configured")

// StaticTokenSource serves a fixed API key.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(string(s)), nil
}

// Invalidate is a no-op; a static key cannot be refreshed.
func (StaticTokenSource) Invalidate() {}

// RefreshOptions configures a RefreshingTokenSource.
type RefreshOptions struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	HTTPClient   *http.Client
	// MinValidity is how long a cached token must remain valid to be reused.
	MinValidity time.Duration
	Now         func() time.Time
	Logger      *zerolog.Logger
}

// RefreshingTokenSource exchanges a refresh token for access tokens and caches
// each one until shortly before it expires.
type RefreshingTokenSource struct {
	opts   RefreshOptions
	logger zerolog.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewRefreshingTokenSource(opts RefreshOptions) (*RefreshingTokenSource, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("credentials: token endpoint is required")
	}
	if strings.TrimSpace(opts.RefreshToken) == "" {
		return nil, ErrNoToken
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MinValidity <= 0 {
		opts.MinValidity = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &RefreshingTokenSource{opts: opts, logger: logger}, nil
}

// Token returns a cached access token or refreshes it.
func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.opts.Now().Add(s.opts.MinValidity).Before(s.expiry) {
		return s.token, nil
	}
	token, expiresIn, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiry = s.opts.Now().Add(expiresIn)
	s.logger.Debug().Time("expires_at", s.expiry).Msg("credentials: access token refreshed")
	return s.token, nil
}

// Invalidate drops the cached token so the next call refreshes.
func (s *RefreshingTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiry = time.Time{}
	s.mu.Unlock()
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *RefreshingTokenSource) refresh(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("client_id", s.opts.ClientID)
	form.Set("client_secret", s.opts.ClientSecret)
	form.Set("refresh_token", s.opts.RefreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("credentials: refresh token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("credentials: read token response: %w", err)
	}

	var parsed tokenResponse
	_ = json.Unmarshal(body, &parsed)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(parsed.Error + " " + parsed.ErrorDescription)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", 0, fmt.Errorf("credentials: token endpoint status %d: %s", resp.StatusCode, msg)
	}
	if parsed.AccessToken == "" {
		return "", 0, errors.New("credentials: token response missing access_token")
	}
	return parsed.AccessToken, time.Duration(parsed.ExpiresIn) * time.Second, nil
}
