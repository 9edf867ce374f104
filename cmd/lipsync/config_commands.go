package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lipsync/internal/config"
	"lipsync/internal/deps"
	"lipsync/internal/jobs"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the lipsync configuration",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		destination string
		overwrite   bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := resolveInitTarget(destination)
			if err != nil {
				return err
			}
			if err := guardExisting(target, overwrite); err != nil {
				return err
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(cmd.OutOrStdout(), "Fill in server.api_token and the stage keys, or export OPENAI_API_KEY, LIPSYNC_RENDER_KEY and LIPSYNC_PUBLISH_TOKEN.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&destination, "path", "p", "", "Where to write the file (default: user config dir)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

// guardExisting refuses to clobber a config file unless overwrite is set.
func guardExisting(target string, overwrite bool) error {
	if overwrite {
		return nil
	}
	_, err := os.Stat(target)
	switch {
	case err == nil:
		return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("check %s: %w", target, err)
	}
}

func resolveInitTarget(destination string) (string, error) {
	if destination = strings.TrimSpace(destination); destination != "" {
		return config.ExpandPath(destination)
	}
	return config.DefaultConfigPath()
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and summarize stage settings",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, exists, err := config.Load(flagValue(ctx.configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			source := path
			if !exists {
				source += " (not found, using defaults)"
			}
			fmt.Fprintf(out, "Config path: %s\n", source)
			fmt.Fprintf(out, "Daemon URL:  %s\n", cfg.Server.URL)
			fmt.Fprintf(out, "API token:   %s\n", yesNo(cfg.Server.APIToken != ""))
			fmt.Fprintf(out, "Workers:     %d (retry %d attempts, retention %d days, prune %s)\n",
				cfg.Workflow.Concurrency, cfg.Retry.MaxAttempts, cfg.Workflow.RetentionDays, cfg.Workflow.PruneSchedule)
			fmt.Fprintln(out, renderStageSettings(cfg))
			reportDependencies(out, cfg)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func renderStageSettings(cfg *config.Config) string {
	endpoints := map[jobs.StageName][2]string{
		jobs.StageScript:      {cfg.Stages.Script.BaseURL, cfg.Stages.Script.APIKey},
		jobs.StageAudio:       {cfg.Stages.Speech.BaseURL, cfg.Stages.Speech.APIKey},
		jobs.StageVideoSelect: {cfg.Paths.TemplateDir, "-"},
		jobs.StageLipsync:     {cfg.Stages.Render.BaseURL, cfg.Stages.Render.APIKey},
		jobs.StagePublish:     {cfg.Stages.Publish.BaseURL, cfg.Stages.Publish.Token},
	}
	rows := make([][]string, 0, len(endpoints))
	for _, name := range jobs.StageOrder() {
		target, key := endpoints[name][0], endpoints[name][1]
		credential := yesNo(key != "")
		if key == "-" {
			credential = "n/a"
		}
		if target == "" {
			target = "(default)"
		}
		rows = append(rows, []string{stageLabel(string(name)), target, credential, cfg.StageTimeout(string(name)).String()})
	}
	return renderTable([]string{"Stage", "Endpoint", "Credential", "Timeout"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight})
}

func reportDependencies(out io.Writer, cfg *config.Config) {
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		if status.Available {
			fmt.Fprintf(out, "Dependency %s: %s\n", status.Name, status.Path)
			continue
		}
		fmt.Fprintf(out, "Dependency %s: missing (%s)\n", status.Name, status.Detail)
	}
}
