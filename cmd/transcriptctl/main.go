package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "path of a .env file to load before reading the environment",
		Value: ".env",
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "transcriptctl",
		Usage: "operate the transcription job store",
		Flags: []cli.Flag{envFlag()},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "create the transcription schema",
				Action: migrateAction,
			},
			{
				Name:  "jobs",
				Usage: "inspect and remove jobs",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "show one job",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "job", Usage: "provider job id", Required: true},
						},
						Action: jobsShowAction,
					},
					{
						Name:  "list",
						Usage: "list jobs of a media package or in the given statuses",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "media-package", Usage: "media package id"},
							&cli.StringSliceFlag{Name: "status", Usage: "job status, repeatable"},
						},
						Action: jobsListAction,
					},
					{
						Name:  "purge",
						Usage: "delete a job and its stored artifacts",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "job", Usage: "provider job id", Required: true},
						},
						Action: jobsPurgeAction,
					},
				},
			},
			{
				Name:  "credentials",
				Usage: "manage secrets kept in the database",
				Commands: []*cli.Command{
					{
						Name:  "set",
						Usage: "store a secret",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Usage: "secret name", Required: true},
							&cli.StringFlag{Name: "token", Usage: "secret value (falls back to $TRANSCRIPTCTL_TOKEN)"},
						},
						Action: credentialsSetAction,
					},
					{
						Name:  "delete",
						Usage: "remove a stored secret",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Usage: "secret name", Required: true},
						},
						Action: credentialsDeleteAction,
					},
				},
			},
			{
				Name:  "sweep",
				Usage: "delete stored submissions and results older than the retention window",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Usage: "retention in days (defaults to CLEANUP_RETENTION_DAYS)", Value: -1},
				},
				Action: sweepAction,
			},
			{
				Name:   "dispatch",
				Usage:  "run a single dispatch cycle and print what happened",
				Action: dispatchAction,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "transcriptctl:", err)
		os.Exit(1)
	}
}
