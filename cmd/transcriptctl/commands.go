package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"transcription/internal/app"
	"transcription/internal/dispatch"
	"transcription/internal/domain"
	"transcription/internal/infra"
	"transcription/internal/infra/credentials"
)

var errNeedsDatabase = errors.New("credential store requires STORE_DRIVER=postgres")

func openRuntime(ctx context.Context, cmd *cli.Command, migrate bool) (*app.Runtime, error) {
	if envFile := cmd.String("env"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.AutoMigrate = migrate
	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	logger := infra.NewLogger("cli", level).With().Str("cmd", "transcriptctl").Logger()
	return app.Open(ctx, cfg, logger)
}

func out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	fmt.Fprintf(out(cmd), "schema ready (%s)\n", rt.Config.StoreDriver)
	return nil
}

func jobsShowAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	job, err := rt.Jobs.FindByJob(ctx, cmd.String("job"))
	if err != nil {
		return err
	}
	renderJobDetail(out(cmd), *job, rt.Config.Transcription.CompletionCheckBuffer)
	return nil
}

func jobsListAction(ctx context.Context, cmd *cli.Command) error {
	mp := strings.TrimSpace(cmd.String("media-package"))
	var statuses []domain.JobStatus
	for _, s := range cmd.StringSlice("status") {
		st, err := domain.ParseJobStatus(s)
		if err != nil {
			return err
		}
		statuses = append(statuses, st)
	}
	if mp == "" && len(statuses) == 0 {
		return errors.New("one of --media-package or --status is required")
	}

	rt, err := openRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	var jobs []domain.JobControl
	if mp != "" {
		jobs, err = rt.Jobs.FindByMediaPackage(ctx, mp)
	} else {
		jobs, err = rt.Jobs.FindByStatus(ctx, statuses...)
	}
	if err != nil {
		return err
	}
	if mp != "" && len(statuses) > 0 {
		jobs = filterStatus(jobs, statuses)
	}
	return renderJobsTable(out(cmd), jobs)
}

func filterStatus(jobs []domain.JobControl, statuses []domain.JobStatus) []domain.JobControl {
	keep := make(map[domain.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		keep[s] = true
	}
	filtered := jobs[:0]
	for _, j := range jobs {
		if keep[j.Status] {
			filtered = append(filtered, j)
		}
	}
	return filtered
}

func jobsPurgeAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := rt.NewService(ctx)
	if err != nil {
		return err
	}
	jobID := cmd.String("job")
	if err := svc.PurgeJob(ctx, jobID); err != nil {
		return err
	}
	fmt.Fprintf(out(cmd), "job %s purged\n", jobID)
	return nil
}

func credentialsSetAction(ctx context.Context, cmd *cli.Command) error {
	token := strings.TrimSpace(cmd.String("token"))
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TRANSCRIPTCTL_TOKEN"))
	}
	if token == "" {
		return errors.New("a token is required via --token or TRANSCRIPTCTL_TOKEN")
	}
	name := cmd.String("name")

	rt, err := openRuntime(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Credentials == nil {
		return errNeedsDatabase
	}
	ctxExec, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.Credentials.SetToken(ctxExec, name, token, map[string]any{"set_by": "transcriptctl"}); err != nil {
		return fmt.Errorf("store %s: %w (known names: %s)", name, err, strings.Join(credentials.Names, ", "))
	}
	fmt.Fprintf(out(cmd), "%s stored\n", name)
	return nil
}

func credentialsDeleteAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	rt, err := openRuntime(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Credentials == nil {
		return errNeedsDatabase
	}
	removed, err := rt.Credentials.DeleteToken(ctx, name)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if !removed {
		fmt.Fprintf(out(cmd), "%s was not stored\n", name)
		return nil
	}
	fmt.Fprintf(out(cmd), "%s deleted\n", name)
	return nil
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	days := int(cmd.Int("days"))
	if days < 0 {
		days = rt.Config.Transcription.CleanupRetentionDays
	}
	removed, err := dispatch.NewSweeper(rt.Artifacts, days, rt.Logger).Sweep(ctx)
	for _, c := range []string{domain.CollectionSubmissions, domain.CollectionTranscripts} {
		fmt.Fprintf(out(cmd), "%s: %d removed\n", c, removed[c])
	}
	return err
}

func dispatchAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := rt.NewService(ctx)
	if err != nil {
		return err
	}
	stats := svc.Dispatcher().RunCycle(ctx)
	fmt.Fprintf(out(cmd), "loaded=%d waiting=%d pending=%d closed=%d canceled=%d errored=%d failed=%d\n",
		stats.Loaded, stats.Waiting, stats.Pending, stats.Closed, stats.Canceled, stats.Errored, stats.Failed)
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func renderJobsTable(w io.Writer, jobs []domain.JobControl) error {
	table := tablewriter.NewWriter(w)
	table.Header("Job ID", "Media Package", "Track", "Status", "Duration", "Created", "Completed")
	for _, j := range jobs {
		created := j.DateCreated
		if err := table.Append(
			j.JobID,
			j.MediaPackageID,
			j.TrackID,
			string(j.Status),
			j.TrackDuration.String(),
			formatTime(&created),
			formatTime(j.DateCompleted),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderJobDetail(w io.Writer, j domain.JobControl, buffer time.Duration) {
	created := j.DateCreated
	readyAt := j.ReadyAt(buffer)
	fmt.Fprintf(w, "Job ID:          %s\n", j.JobID)
	fmt.Fprintf(w, "Media package:   %s\n", j.MediaPackageID)
	fmt.Fprintf(w, "Track:           %s\n", j.TrackID)
	fmt.Fprintf(w, "Status:          %s\n", j.Status)
	fmt.Fprintf(w, "Provider:        %s\n", j.ProviderName)
	fmt.Fprintf(w, "Track duration:  %s\n", j.TrackDuration)
	fmt.Fprintf(w, "Created:         %s\n", formatTime(&created))
	fmt.Fprintf(w, "Expected:        %s\n", formatTime(j.DateExpected))
	fmt.Fprintf(w, "Ready for poll:  %s\n", formatTime(&readyAt))
	fmt.Fprintf(w, "Completed:       %s\n", formatTime(j.DateCompleted))
}
