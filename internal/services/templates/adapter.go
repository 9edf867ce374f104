package templates

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"lipsync/internal/artifact"
	"lipsync/internal/config"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/stage"
)

const stageName = string(jobs.StageVideoSelect)

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".m4v":  "video/x-m4v",
}

// Adapter selects presenter templates.
type Adapter struct {
	dir        string
	extensions []string
	artifacts  *artifact.Store
	logger     *slog.Logger
}

// New constructs the template adapter for dir.
func New(dir string, cfg config.Templates, artifacts *artifact.Store, logger *slog.Logger) (*Adapter, error) {
	if artifacts == nil {
		return nil, errors.New("templates: artifact store required")
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".mp4", ".mov", ".webm"}
	}
	return &Adapter{
		dir:        dir,
		extensions: exts,
		artifacts:  artifacts,
		logger:     logging.NewComponentLogger(logger, "templates"),
	}, nil
}

// Name implements stage.Adapter.
func (a *Adapter) Name() stage.Name { return jobs.StageVideoSelect }

// List returns the template file names in sorted order.
func (a *Adapter) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if slices.Contains(a.extensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Pick returns the template assigned to jobID.
func Pick(names []string, jobID string) string {
	if len(names) == 0 {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return names[h.Sum32()%uint32(len(names))]
}

// Invoke implements stage.Adapter.
func (a *Adapter) Invoke(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
	names, err := a.List()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "list templates", "template directory does not exist", err)
		}
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "list templates", "", err)
	}
	if len(names) == 0 {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "list templates", "no presenter templates available", nil)
	}
	chosen := Pick(names, in.JobID)
	ext := strings.ToLower(filepath.Ext(chosen))
	info, err := a.artifacts.PutFile(ctx, filepath.Join(a.dir, chosen), artifact.Meta{ContentType: videoTypes[ext], Extension: ext})
	if err != nil {
		if ctx.Err() != nil {
			return stage.Output{}, ctx.Err()
		}
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "import template", chosen, err)
	}
	progress.Report(100)
	logging.WithContext(ctx, a.logger).Info("presenter template selected",
		logging.String(logging.FieldEventType, "template_selected"),
		logging.String("template", chosen),
		logging.String("artifact", info.ID),
		logging.Int("candidates", len(names)),
	)
	return stage.Output{Artifact: info.ID}, nil
}

// HealthCheck implements stage.HealthChecker.
func (a *Adapter) HealthCheck(context.Context) stage.Health {
	names, err := a.List()
	if err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("template directory unreadable: %v", err))
	}
	if len(names) == 0 {
		return stage.Unhealthy(stageName, "no presenter templates in "+a.dir)
	}
	return stage.Healthy(stageName)
}
