package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcription/internal/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newApp()
	cmd.Writer = &buf
	cmd.ErrWriter = &buf
	err := cmd.Run(context.Background(), append([]string{"transcriptctl", "--env", ""}, args...))
	return buf.String(), err
}

func memoryEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STORAGE_PATH", dir)
	t.Setenv("LOG_LEVEL", "disabled")
	return dir
}

func TestSweepRemovesExpiredArtifacts(t *testing.T) {
	dir := memoryEnv(t)
	sub := filepath.Join(dir, domain.CollectionSubmissions)
	require.NoError(t, os.MkdirAll(sub, 0o755))
	old := filepath.Join(sub, "old.json")
	require.NoError(t, os.WriteFile(old, []byte("{}"), 0o644))
	stale := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "new.json"), []byte("{}"), 0o644))

	output, err := run(t, "sweep", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, output, "submissions: 1 removed")
	assert.NoFileExists(t, old)
	assert.FileExists(t, filepath.Join(sub, "new.json"))
}

func TestJobsListNeedsFilter(t *testing.T) {
	memoryEnv(t)
	_, err := run(t, "jobs", "list")
	assert.ErrorContains(t, err, "--media-package")

	_, err = run(t, "jobs", "list", "--status", "Bogus")
	assert.Error(t, err)

	output, err := run(t, "jobs", "list", "--status", "Progress")
	require.NoError(t, err)
	assert.Contains(t, strings.ToUpper(output), "JOB ID")
}

func TestJobsShowUnknown(t *testing.T) {
	memoryEnv(t)
	_, err := run(t, "jobs", "show", "--job", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCredentialsNeedDatabase(t *testing.T) {
	memoryEnv(t)
	_, err := run(t, "credentials", "set", "--name", "transcription_api_key", "--token", "abc")
	assert.ErrorIs(t, err, errNeedsDatabase)

	_, err = run(t, "credentials", "set", "--name", "transcription_api_key")
	assert.ErrorContains(t, err, "token is required")

	_, err = run(t, "credentials", "delete", "--name", "operator_token")
	assert.ErrorIs(t, err, errNeedsDatabase)
}

func TestMigrateMemory(t *testing.T) {
	memoryEnv(t)
	output, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, output, "schema ready (memory)")
}

func TestRenderJobDetail(t *testing.T) {
	var buf bytes.Buffer
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	renderJobDetail(&buf, domain.JobControl{
		JobID: "j1", MediaPackageID: "mp", Status: domain.JobStatusProgress,
		TrackDuration: time.Minute, DateCreated: created,
	}, 5*time.Minute)
	assert.Contains(t, buf.String(), "Ready for poll:  2024-01-01T10:06:00Z")
	assert.Contains(t, buf.String(), "Completed:       -")
}
