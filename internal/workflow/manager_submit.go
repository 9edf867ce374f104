package workflow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"lipsync/internal/artifact"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/titlefmt"
)

// ErrDocumentTooLarge marks uploads exceeding upload.max_bytes. It is always
// wrapped together with services.ErrValidation.
var ErrDocumentTooLarge = errors.New("document too large")

const sniffLen = 512

// SubmitRequest carries one upload.
type SubmitRequest struct {
	Document     io.Reader
	DocumentName string
	Settings     jobs.Settings
}

// Submit validates the request, stores the document, and queues a job. No job
// record exists when validation fails.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	settings, err := normalizeSettings(req.Settings)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(req.DocumentName, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "", services.Wrap(services.ErrValidation, "", "submit", "document name is required", nil)
	}
	if req.Document == nil {
		return "", services.Wrap(services.ErrValidation, "", "submit", "document is required", nil)
	}
	if err := m.ensureFreeSpace(); err != nil {
		return "", err
	}

	reader := bufio.NewReaderSize(req.Document, sniffLen)
	head, err := reader.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", services.Wrap(services.ErrValidation, "", "submit", "read document", err)
	}
	if len(head) == 0 {
		return "", services.Wrap(services.ErrValidation, "", "submit", "document is empty", nil)
	}
	contentType := sniffContentType(head)
	if !slices.Contains(m.cfg.Upload.AllowedTypes, contentType) {
		return "", services.Wrap(services.ErrValidation, "", "submit",
			fmt.Sprintf("unsupported document type %s (allowed: %s)", contentType, strings.Join(m.cfg.Upload.AllowedTypes, ", ")), nil)
	}

	capped := &cappedReader{r: reader, remaining: m.cfg.Upload.MaxBytes}
	info, err := m.artifacts.Put(ctx, capped, artifact.Meta{ContentType: contentType, Extension: filepath.Ext(name)})
	if err != nil {
		if capped.exceeded {
			return "", services.Wrap(services.ErrValidation, "", "submit",
				fmt.Sprintf("document exceeds %d bytes", m.cfg.Upload.MaxBytes), ErrDocumentTooLarge)
		}
		return "", fmt.Errorf("store document: %w", err)
	}

	job := jobs.New(uuid.NewString(), info.ID, name, settings, time.Now())
	if err := m.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	logging.WithContext(ctx, m.logger).Info("job submitted",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String("document", name),
		logging.String("input_artifact", info.ID),
		logging.Int64("size_bytes", info.Size),
	)
	m.wake()
	return job.ID, nil
}

func normalizeSettings(in jobs.Settings) (jobs.Settings, error) {
	channel := strings.TrimSpace(in.ChannelName)
	if channel == "" {
		return jobs.Settings{}, services.Wrap(services.ErrValidation, "", "submit", "channel name is required", nil)
	}
	format := titlefmt.Normalize(in.TitleFormat)
	if err := titlefmt.Validate(format); err != nil {
		return jobs.Settings{}, services.Wrap(services.ErrValidation, "", "submit", err.Error(), nil)
	}
	return jobs.Settings{ChannelName: channel, TitleFormat: format}, nil
}

func (m *Manager) ensureFreeSpace() error {
	if m.cfg.Upload.MinFreeBytes <= 0 {
		return nil
	}
	free, err := m.artifacts.FreeBytes()
	if err != nil {
		m.logger.Warn("free space check failed; accepting upload",
			logging.Error(err),
			logging.String(logging.FieldEventType, "free_space_check_failed"),
			logging.String(logging.FieldErrorHint, "check artifact directory permissions"),
			logging.String(logging.FieldImpact, "disk may fill up during processing"),
		)
		return nil
	}
	if free < uint64(m.cfg.Upload.MinFreeBytes) {
		return services.Wrap(services.ErrTransient, "", "submit",
			fmt.Sprintf("insufficient storage: %d bytes free, %d required", free, m.cfg.Upload.MinFreeBytes), nil)
	}
	return nil
}

func sniffContentType(head []byte) string {
	detected := http.DetectContentType(head)
	mediaType, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return detected
	}
	return mediaType
}

// cappedReader fails the read that pushes the total past the limit.
type cappedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		c.exceeded = true
		return n, ErrDocumentTooLarge
	}
	return n, err
}
