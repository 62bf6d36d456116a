// Package app assembles the stores, collaborators and service from Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"transcription/internal/adapter/repo"
	"transcription/internal/dispatch"
	"transcription/internal/domain"
	"transcription/internal/infra"
	"transcription/internal/infra/credentials"
	"transcription/internal/notify"
	"transcription/internal/providers/speech"
	"transcription/internal/storage"
	"transcription/internal/transcription"
	"transcription/internal/workflow"
)

// ErrMissingOperatorToken is returned outside development when no operator
// token is configured.
var ErrMissingOperatorToken = errors.New("app: OPERATOR_TOKEN is required")

// JobStore is a job repository that can create its own schema.
type JobStore interface {
	domain.JobControlRepository
	domain.ProviderRepository
	Migrate(ctx context.Context) error
}

// Runtime holds the long-lived resources shared by the binaries.
type Runtime struct {
	Config      *infra.Config
	Logger      zerolog.Logger
	Pool        *pgxpool.Pool
	Jobs        JobStore
	Credentials *credentials.Store
	Artifacts   *storage.FileStore
}

// Open connects the configured job store and the artifact store. With the
// postgres driver the schema is created when AutoMigrate is set.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("app: using in-memory job store, state is lost on restart")
		rt.Jobs = repo.NewMemoryJobControlRepository()
	default:
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		rt.Pool = pool
		rt.Jobs = repo.NewJobControlRepository(runner)
		rt.Credentials = credentials.NewStore(runner)
		if cfg.AutoMigrate {
			if err := rt.Jobs.Migrate(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
	}

	storagePath := cfg.StoragePath
	if storagePath == "" {
		storagePath = "./storage"
	}
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("configure storage: %w", err)
	}
	rt.Artifacts = fileStore
	return rt, nil
}

func (rt *Runtime) Close() {
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}

// Ready reports whether the job store is reachable.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.Pool == nil {
		return nil
	}
	return rt.Pool.Ping(ctx)
}

// secret returns the configured value or the one kept in the credential store.
func (rt *Runtime) secret(ctx context.Context, name, value string) string {
	v, err := rt.Credentials.Resolve(ctx, name, value)
	if err != nil {
		rt.Logger.Warn().Err(err).Str("secret", name).Msg("app: failed to load secret from store")
		return strings.TrimSpace(value)
	}
	return v
}

// CallbackSecret resolves the HMAC key for provider callbacks.
func (rt *Runtime) CallbackSecret(ctx context.Context) string {
	return rt.secret(ctx, credentials.CallbackSecret, rt.Config.CallbackSecret)
}

// OperatorToken resolves the bearer token required on operator routes. Outside
// development a missing token is an error.
func (rt *Runtime) OperatorToken(ctx context.Context) (string, error) {
	token := rt.secret(ctx, credentials.OperatorToken, rt.Config.OperatorToken)
	if token == "" && rt.Config.AppEnv != "development" {
		return "", ErrMissingOperatorToken
	}
	return token, nil
}

// TokenSource picks the OAuth refresh flow when a token endpoint is
// configured and a static API key otherwise.
func (rt *Runtime) TokenSource(ctx context.Context) (speech.TokenSource, error) {
	pc := rt.Config.Provider
	httpClient := &http.Client{Timeout: pc.Timeout}
	if pc.TokenURL != "" {
		refresh := rt.secret(ctx, credentials.ProviderRefreshToken, pc.RefreshToken)
		logger := rt.Logger
		return credentials.NewRefreshingTokenSource(credentials.RefreshOptions{
			Endpoint:     pc.TokenURL,
			ClientID:     pc.OAuthClientID,
			ClientSecret: pc.OAuthClientSecret,
			RefreshToken: refresh,
			HTTPClient:   httpClient,
			Logger:       &logger,
		})
	}
	key := rt.secret(ctx, credentials.ProviderAPIKey, pc.APIKey)
	if key == "" {
		return nil, speech.ErrMissingCredentials
	}
	return credentials.StaticTokenSource(key), nil
}

// Notifier mails operators when SMTP is configured and logs otherwise.
func (rt *Runtime) Notifier() domain.Notifier {
	nc := rt.Config.Notify
	if nc.SMTPAddr == "" {
		return notify.LogNotifier{Logger: rt.Logger}
	}
	return notify.NewEmailNotifier(notify.EmailOptions{
		Recipient:   nc.Recipient,
		From:        nc.From,
		SMTPAddr:    nc.SMTPAddr,
		User:        nc.SMTPUser,
		Password:    nc.SMTPPassword,
		ClusterName: nc.ClusterName,
		Logger:      rt.Logger,
	})
}

// NewService builds the provider and workflow clients and the service on top
// of the opened stores.
func (rt *Runtime) NewService(ctx context.Context) (*transcription.Service, error) {
	cfg := rt.Config
	if rt.Jobs == nil || rt.Artifacts == nil {
		return nil, errors.New("app: stores are not open")
	}
	if _, err := rt.Jobs.GetOrCreate(ctx, cfg.Transcription.ProviderName); err != nil {
		return nil, fmt.Errorf("register provider: %w", err)
	}

	tokens, err := rt.TokenSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider credentials: %w", err)
	}
	logger := rt.Logger
	provider, err := speech.NewClient(speech.Options{
		BaseURL:           cfg.Provider.BaseURL,
		ClientID:          cfg.Provider.ClientID,
		Tokens:            tokens,
		Artifacts:         rt.Artifacts,
		Logger:            &logger,
		RequestTimeout:    cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		RetainHours:       cfg.Provider.RetainHours,
	})
	if err != nil {
		return nil, err
	}
	engine, err := workflow.NewClient(workflow.Options{
		BaseURL:  cfg.Workflow.BaseURL,
		User:     cfg.Workflow.User,
		Password: rt.secret(ctx, credentials.WorkflowPassword, cfg.Workflow.Password),
		Timeout:  cfg.Workflow.Timeout,
		Logger:   &logger,
	})
	if err != nil {
		return nil, err
	}

	t := cfg.Transcription
	return transcription.NewService(transcription.Deps{
		Jobs:      rt.Jobs,
		Provider:  provider,
		Engine:    engine,
		Artifacts: rt.Artifacts,
		Notifier:  rt.Notifier(),
	}, transcription.Config{
		Enabled:              t.Enabled,
		ProviderName:         t.ProviderName,
		Language:             t.Language,
		DispatchInterval:     t.DispatchInterval,
		DispatchInitialDelay: t.DispatchInitialDelay,
		Dispatch: dispatch.Config{
			CompletionCheckBuffer: t.CompletionCheckBuffer,
			MaxProcessingTime:     t.MaxProcessingTime,
			WorkflowDefinitionID:  cfg.Workflow.DefinitionID,
		},
		CleanupRetentionDays: t.CleanupRetentionDays,
		CleanupSchedule:      t.CleanupSchedule,
	}, rt.Logger)
}
