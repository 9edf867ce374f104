package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"lipsync/internal/artifact"
	"lipsync/internal/config"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/services/scriptgen"
	"lipsync/internal/stage"
	"lipsync/internal/titlefmt"
)

const (
	stageName = string(jobs.StagePublish)
	// maxTitleRunes is the platform title limit.
	maxTitleRunes = 100
)

// Metadata describes the published video.
type Metadata struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags"`
	CategoryID      string   `json:"categoryId"`
	PrivacyStatus   string   `json:"privacyStatus"`
	DefaultLanguage string   `json:"defaultLanguage"`
	Channel         string   `json:"channel,omitempty"`
}

// Receipt is the stored record of a publish.
type Receipt struct {
	JobID       string    `json:"jobId"`
	ExternalID  string    `json:"externalId"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Privacy     string    `json:"privacyStatus"`
	Video       string    `json:"videoArtifact"`
	PublishedAt time.Time `json:"publishedAt"`
}

type uploadResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Adapter uploads finished videos.
type Adapter struct {
	cfg        config.Publish
	artifacts  *artifact.Store
	logger     *slog.Logger
	httpClient *http.Client
	now        func() time.Time
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// New constructs the publish adapter.
func New(cfg config.Publish, artifacts *artifact.Store, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if artifacts == nil {
		return nil, errors.New("publish: artifact store required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	a := &Adapter{
		cfg:        cfg,
		artifacts:  artifacts,
		logger:     logging.NewComponentLogger(logger, "publish"),
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name implements stage.Adapter.
func (a *Adapter) Name() stage.Name { return jobs.StagePublish }

// Invoke implements stage.Adapter.
func (a *Adapter) Invoke(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
	if a.cfg.BaseURL == "" || strings.TrimSpace(a.cfg.Token) == "" {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "upload", "platform endpoint or token not configured", nil)
	}
	videoID := in.Outputs[jobs.StageLipsync]
	if videoID == "" {
		videoID = in.Source
	}
	video, info, err := a.artifacts.Get(ctx, videoID)
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "load video", "rendered video missing", err)
	}
	defer video.Close()

	meta := a.metadata(ctx, in)
	body, contentType := multipartBody(meta, video, info, progress)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/videos", body)
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "upload", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", in.JobID)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err := services.ClassifyHTTP(stageName, "upload", resp, err); err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return stage.Output{}, err
	}
	defer resp.Body.Close()
	var uploaded uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&uploaded); err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "upload", "malformed platform response", err)
	}
	if uploaded.ID == "" || uploaded.URL == "" {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "upload", "platform response missing id or url", nil)
	}

	receipt := Receipt{
		JobID:       in.JobID,
		ExternalID:  uploaded.ID,
		URL:         uploaded.URL,
		Title:       meta.Title,
		Privacy:     meta.PrivacyStatus,
		Video:       videoID,
		PublishedAt: a.now().UTC(),
	}
	encoded, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "store receipt", "", err)
	}
	stored, err := a.artifacts.PutBytes(ctx, encoded, artifact.Meta{ContentType: "application/json", Extension: ".json"})
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "store receipt", "", err)
	}
	progress.Report(100)
	logging.WithContext(ctx, a.logger).Info("video published",
		logging.String(logging.FieldEventType, "video_published"),
		logging.String("external_id", uploaded.ID),
		logging.String("url", uploaded.URL),
		logging.String("receipt", stored.ID),
	)
	return stage.Output{Artifact: stored.ID, URL: uploaded.URL, ExternalID: uploaded.ID}, nil
}

// metadata assembles the upload metadata. A missing or unreadable script only
// loses the description and hashtags.
func (a *Adapter) metadata(ctx context.Context, in stage.Input) Metadata {
	title := truncate(titlefmt.Apply(in.Settings.TitleFormat, in.DocumentName), maxTitleRunes)
	meta := Metadata{
		Title:           title,
		Tags:            slices.Clone(a.cfg.Tags),
		CategoryID:      a.cfg.CategoryID,
		PrivacyStatus:   a.cfg.PrivacyStatus,
		DefaultLanguage: a.cfg.Language,
		Channel:         strings.TrimSpace(in.Settings.ChannelName),
	}
	scriptID := in.Outputs[jobs.StageScript]
	if scriptID == "" {
		return meta
	}
	data, _, err := a.artifacts.ReadAll(ctx, scriptID)
	if err != nil {
		return meta
	}
	script, err := scriptgen.Decode(data)
	if err != nil {
		return meta
	}
	var desc strings.Builder
	desc.WriteString(script.Soundbite)
	if len(script.Hashtags) > 0 {
		desc.WriteString("\n\n")
		for i, tag := range script.Hashtags {
			if i > 0 {
				desc.WriteByte(' ')
			}
			desc.WriteString("#" + tag)
		}
	}
	meta.Description = desc.String()
	for _, tag := range script.Hashtags {
		if !slices.Contains(meta.Tags, tag) {
			meta.Tags = append(meta.Tags, tag)
		}
	}
	return meta
}

// multipartBody streams the metadata and video parts through a pipe.
func multipartBody(meta Metadata, video io.Reader, info artifact.Info, progress stage.ProgressFunc) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeParts(writer, meta, video, info, progress)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()
	return pr, writer.FormDataContentType()
}

func writeParts(writer *multipart.Writer, meta Metadata, video io.Reader, info artifact.Info, progress stage.ProgressFunc) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="metadata"`)
	header.Set("Content-Type", "application/json")
	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(part).Encode(meta); err != nil {
		return err
	}

	header = make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename="%s%s"`, info.ID, info.Extension))
	header.Set("Content-Type", info.ContentType)
	part, err = writer.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, &progressReader{r: video, total: info.Size, progress: progress})
	return err
}

// progressReader reports upload progress up to 95 percent.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress stage.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		p.progress.Report(float64(p.read) / float64(p.total) * 95)
	}
	return n, err
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}

// HealthCheck implements stage.HealthChecker.
func (a *Adapter) HealthCheck(context.Context) stage.Health {
	if a.cfg.BaseURL == "" {
		return stage.Unhealthy(stageName, "platform endpoint not configured")
	}
	if strings.TrimSpace(a.cfg.Token) == "" {
		return stage.Unhealthy(stageName, "platform token not configured")
	}
	return stage.Healthy(stageName)
}
