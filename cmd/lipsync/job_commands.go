package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lipsync/internal/api"
	"lipsync/internal/apiclient"
)

var waitPollInterval = time.Second

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var channel string
	var titleFormat string
	var wait bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a document for video generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				jobID, err := client.Submit(cmd.Context(), apiclient.SubmitRequest{
					Path:        args[0],
					ChannelName: channel,
					TitleFormat: titleFormat,
				})
				if err != nil {
					return err
				}
				if !wait {
					if asJSON {
						return writeJSON(cmd, api.SubmitResponse{JobID: jobID})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued\n", jobID)
					return nil
				}
				if !asJSON {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued; waiting for completion\n", jobID)
				}
				view, err := waitForJob(cmd.Context(), client, jobID, progressPrinter(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, view); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), renderJob(view, newStatusPainter(cmd.OutOrStdout())))
				}
				if view.Status != "completed" {
					return fmt.Errorf("job %s finished as %s", jobID, view.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Channel name used in titles and metadata")
	cmd.Flags().StringVar(&titleFormat, "title-format", "", "Title template containing {title}")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the job finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// waitForJob polls until the job reaches a terminal status. onChange sees
// every view whose current stage or progress differs from the previous one.
func waitForJob(ctx context.Context, client *apiclient.Client, jobID string, onChange func(api.JobStatusView)) (api.JobStatusView, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	last := ""
	for {
		view, err := client.Job(ctx, jobID)
		if err != nil {
			return view, err
		}
		if key := progressKey(view); key != last {
			last = key
			if onChange != nil {
				onChange(view)
			}
		}
		if isTerminal(view.Status) {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

func progressPrinter(w io.Writer) func(api.JobStatusView) {
	return func(view api.JobStatusView) {
		if stage, ok := currentStage(view); ok && !isTerminal(view.Status) {
			fmt.Fprintf(w, "  %s: %s %d%%\n", stageLabel(stage.Name), stage.Status, stage.Progress)
		}
	}
}

func progressKey(view api.JobStatusView) string {
	stage, _ := currentStage(view)
	return fmt.Sprintf("%s/%s/%s/%d", view.Status, stage.Name, stage.Status, stage.Progress)
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show job status and per-stage progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				view, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJob(view, newStatusPainter(cmd.OutOrStdout())))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				list, err := client.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobListResponse{Jobs: list})
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprintln(out, renderJobList(list, newStatusPainter(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (queued, running, completed, failed, canceled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <jobId>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				view, err := client.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if view.Status == "canceled" {
					fmt.Fprintf(out, "Job %s canceled\n", view.JobID)
				} else {
					fmt.Fprintf(out, "Cancellation requested for job %s; it stops after the current stage\n", view.JobID)
				}
				return nil
			})
		},
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <artifactId>",
		Short: "Download an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				if output == "-" {
					_, err := client.Download(cmd.Context(), args[0], cmd.OutOrStdout())
					return err
				}
				target, err := downloadToFile(cmd.Context(), client, args[0], output)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file, directory, or - for stdout (defaults to the server-suggested name)")
	return cmd
}

// downloadToFile writes into a temporary file next to the destination and
// renames it once the server-suggested name is known.
func downloadToFile(ctx context.Context, client *apiclient.Client, artifactID, output string) (string, error) {
	dir := "."
	explicit := ""
	if output = strings.TrimSpace(output); output != "" {
		if info, err := os.Stat(output); err == nil && info.IsDir() {
			dir = output
		} else {
			dir = filepath.Dir(output)
			explicit = output
		}
	}
	tmp, err := os.CreateTemp(dir, ".lipsync-download-*")
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	name, err := client.Download(ctx, artifactID, tmp)
	closeErr := tmp.Close()
	if err != nil {
		return "", err
	}
	if closeErr != nil {
		return "", fmt.Errorf("write download: %w", closeErr)
	}
	target := explicit
	if target == "" {
		target = filepath.Join(dir, name)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("save download: %w", err)
	}
	return target, nil
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show daemon and stage collaborator readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				health, err := client.Health(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, health); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), renderHealth(health))
				}
				if !health.Ready {
					return errors.New("daemon is not ready")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
