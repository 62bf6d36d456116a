package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"transcription/internal/domain"
	"transcription/pkg/zip"
)

type startRequest struct {
	MediaPackageID string `json:"mediaPackageId"`
	TrackID        string `json:"trackId"`
	MediaURL       string `json:"mediaUrl"`
	Language       string `json:"language"`
	DurationMillis int64  `json:"trackDurationMs"`
}

type jobResponse struct {
	JobID           string     `json:"jobId"`
	MediaPackageID  string     `json:"mediaPackageId"`
	TrackID         string     `json:"trackId"`
	Status          string     `json:"status"`
	TrackDurationMs int64      `json:"trackDurationMs"`
	Provider        string     `json:"provider"`
	DateCreated     time.Time  `json:"dateCreated"`
	DateExpected    *time.Time `json:"dateExpected,omitempty"`
	DateCompleted   *time.Time `json:"dateCompleted,omitempty"`
}

func toJobResponse(j domain.JobControl) jobResponse {
	return jobResponse{
		JobID:           j.JobID,
		MediaPackageID:  j.MediaPackageID,
		TrackID:         j.TrackID,
		Status:          string(j.Status),
		TrackDurationMs: j.TrackDuration.Milliseconds(),
		Provider:        j.ProviderName,
		DateCreated:     j.DateCreated,
		DateExpected:    j.DateExpected,
		DateCompleted:   j.DateCompleted,
	}
}

func (a *App) StartTranscription(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Service.StartTranscription(r.Context(), domain.SubmitRequest{
		MediaPackageID: req.MediaPackageID,
		TrackID:        req.TrackID,
		MediaURL:       req.MediaURL,
		Language:       req.Language,
		TrackDuration:  time.Duration(req.DurationMillis) * time.Millisecond,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toJobResponse(*job))
}

type doneCallback struct {
	JobID  string          `json:"jobId"`
	Result json.RawMessage `json:"result"`
}

// CallbackDone is called by the provider when a job finished. The optional
// result is stored as delivered.
func (a *App) CallbackDone(w http.ResponseWriter, r *http.Request) {
	var cb doneCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil || cb.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	var result []byte
	if len(cb.Result) > 0 && string(cb.Result) != "null" {
		result = cb.Result
	}
	if err := a.Service.TranscriptionDone(r.Context(), cb.JobID, result); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorCallback struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

func (a *App) CallbackError(w http.ResponseWriter, r *http.Request) {
	var cb errorCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil || cb.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	if err := a.Service.TranscriptionError(r.Context(), cb.JobID, cb.Message); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Service.Job(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(*job))
}

func (a *App) PurgeJob(w http.ResponseWriter, r *http.Request) {
	if err := a.Service.PurgeJob(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) MediaPackage(w http.ResponseWriter, r *http.Request) {
	mp := chi.URLParam(r, "mp_id")
	status, err := a.Service.TranscriptionStatus(r.Context(), mp)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jobs, err := a.Service.Jobs(r.Context(), mp)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	a.json(w, http.StatusOK, map[string]any{
		"mediaPackageId": mp,
		"status":         status,
		"jobs":           out,
	})
}

// Result streams the stored transcription of a media package.
func (a *App) Result(w http.ResponseWriter, r *http.Request) {
	mp := chi.URLParam(r, "mp_id")
	res, err := a.Service.GeneratedTranscription(r.Context(), mp, r.URL.Query().Get("jobId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	name := path.Base(res.Locator)
	ctype := zip.MIMEType(name)
	if zip.IsArchive(res.Data) {
		ctype = "application/zip"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Transcription-Job", res.JobID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

// Captions returns one caption file from a zipped result, by extension.
func (a *App) Captions(w http.ResponseWriter, r *http.Request) {
	mp := chi.URLParam(r, "mp_id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "vtt"
	}
	assets, err := a.Service.Captions(r.Context(), mp, r.URL.Query().Get("jobId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	for _, asset := range assets {
		if path.Ext(asset.Filename) != "."+format {
			continue
		}
		w.Header().Set("Content-Type", asset.MIME)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(asset.Data)
		return
	}
	a.error(w, http.StatusNotFound, "not_found", "no "+format+" captions in result")
}
