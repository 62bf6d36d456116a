package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"transcription/internal/domain"
	"transcription/internal/transcription"
	"transcription/pkg/zip"
)

// Transcriptions is the service surface exposed over HTTP.
type Transcriptions interface {
	StartTranscription(ctx context.Context, req domain.SubmitRequest) (*domain.JobControl, error)
	TranscriptionDone(ctx context.Context, jobID string, result []byte) error
	TranscriptionError(ctx context.Context, jobID, message string) error
	Job(ctx context.Context, jobID string) (*domain.JobControl, error)
	Jobs(ctx context.Context, mediaPackageID string) ([]domain.JobControl, error)
	TranscriptionStatus(ctx context.Context, mediaPackageID string) (domain.JobStatus, error)
	GeneratedTranscription(ctx context.Context, mediaPackageID, jobID string) (*transcription.Result, error)
	Captions(ctx context.Context, mediaPackageID, jobID string) ([]zip.Asset, error)
	PurgeJob(ctx context.Context, jobID string) error
}

type App struct {
	Service Transcriptions
	Logger  zerolog.Logger
	// Ready, when set, backs the health endpoint.
	Ready func(ctx context.Context) error
}

func NewApp(svc Transcriptions, logger zerolog.Logger) *App {
	return &App{Service: svc, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}

// fail maps a service error onto a status code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrDuplicateJob):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrServiceDisabled):
		a.error(w, http.StatusServiceUnavailable, "disabled", err.Error())
	default:
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			a.error(w, http.StatusBadGateway, "provider_error", err.Error())
			return
		}
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
