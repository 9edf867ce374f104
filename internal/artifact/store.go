package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"lipsync/internal/logging"
	"lipsync/internal/services"
)

const (
	sidecarSuffix      = ".json"
	defaultContentType = "application/octet-stream"
	tmpDirName         = "tmp"
)

// Info describes a stored artifact.
type Info struct {
	ID          string    `json:"id"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Extension   string    `json:"extension,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Meta carries caller-supplied attributes recorded alongside new content.
type Meta struct {
	ContentType string
	Extension   string
}

// Store is a content-addressed blob store rooted at a directory. Ids are the
// lowercase hex SHA-256 of the content; once written an id never changes.
type Store struct {
	root   string
	logger *slog.Logger
	statfs func(path string) (total uint64, free uint64, err error)
}

// Open prepares a store rooted at dir, creating it when missing.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("artifact: root directory required")
	}
	if err := os.MkdirAll(filepath.Join(dir, tmpDirName), 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}
	return &Store{
		root:   dir,
		logger: logging.NewComponentLogger(logger, "artifact"),
		statfs: realStatfs,
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Put streams r into the store and returns its id. Writing content that is
// already present is a no-op returning the existing record.
func (s *Store) Put(ctx context.Context, r io.Reader, meta Meta) (Info, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDirName), "put-*")
	if err != nil {
		return Info{}, fmt.Errorf("artifact: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Info{}, fmt.Errorf("artifact: write content: %w", err)
	}

	id := hex.EncodeToString(hasher.Sum(nil))
	info := Info{
		ID:          id,
		Size:        size,
		ContentType: normalizeContentType(meta.ContentType, meta.Extension),
		Extension:   normalizeExtension(meta.Extension, meta.ContentType),
		CreatedAt:   time.Now().UTC(),
	}

	// The sidecar lands before the blob so a visible blob always has metadata.
	// A blob left without one by an older interrupted write is repaired here.
	blobPath := s.blobPath(id)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return Info{}, fmt.Errorf("artifact: create shard: %w", err)
	}
	if err := s.writeSidecar(info); err != nil {
		return Info{}, err
	}
	if err := os.Link(tmpPath, blobPath); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return Info{}, fmt.Errorf("artifact: publish blob: %w", err)
		}
		return s.Stat(ctx, id)
	}
	s.logger.Debug("artifact stored",
		logging.String("artifact_id", id),
		logging.Int64("size_bytes", size),
		logging.String("content_type", info.ContentType),
	)
	return s.Stat(ctx, id)
}

// PutBytes stores an in-memory payload.
func (s *Store) PutBytes(ctx context.Context, data []byte, meta Meta) (Info, error) {
	return s.Put(ctx, bytes.NewReader(data), meta)
}

// PutFile imports a file from the local filesystem.
func (s *Store) PutFile(ctx context.Context, path string, meta Meta) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("artifact: open source: %w", err)
	}
	defer file.Close()
	if meta.Extension == "" {
		meta.Extension = filepath.Ext(path)
	}
	return s.Put(ctx, file, meta)
}

// Stat returns the metadata of an artifact.
func (s *Store) Stat(_ context.Context, id string) (Info, error) {
	if !ValidID(id) {
		return Info{}, notFound(id)
	}
	blob, err := os.Stat(s.blobPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, notFound(id)
		}
		return Info{}, fmt.Errorf("artifact: stat blob: %w", err)
	}
	info := Info{ID: id, Size: blob.Size(), CreatedAt: blob.ModTime().UTC()}
	data, err := os.ReadFile(s.blobPath(id) + sidecarSuffix)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &info); jsonErr != nil {
			s.logger.Warn("artifact sidecar unreadable",
				logging.String("artifact_id", id),
				logging.Error(jsonErr),
				logging.String(logging.FieldEventType, "artifact_sidecar_invalid"),
			)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Info{}, fmt.Errorf("artifact: read sidecar: %w", err)
	}
	info.ID = id
	info.Size = blob.Size()
	if info.ContentType == "" {
		info.ContentType = defaultContentType
	}
	return info, nil
}

// Get opens an artifact for reading. Callers must close the returned file.
func (s *Store) Get(ctx context.Context, id string) (*os.File, Info, error) {
	info, err := s.Stat(ctx, id)
	if err != nil {
		return nil, Info{}, err
	}
	file, err := os.Open(s.blobPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Info{}, notFound(id)
		}
		return nil, Info{}, fmt.Errorf("artifact: open blob: %w", err)
	}
	return file, info, nil
}

// ReadAll loads an artifact fully into memory.
func (s *Store) ReadAll(ctx context.Context, id string) ([]byte, Info, error) {
	file, info, err := s.Get(ctx, id)
	if err != nil {
		return nil, Info{}, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, Info{}, fmt.Errorf("artifact: read blob: %w", err)
	}
	return data, info, nil
}

// Exists reports whether an artifact is present.
func (s *Store) Exists(ctx context.Context, id string) bool {
	_, err := s.Stat(ctx, id)
	return err == nil
}

// Path returns the on-disk location of an artifact for tools that need a file
// path. The file must be treated as read-only.
func (s *Store) Path(ctx context.Context, id string) (string, error) {
	if _, err := s.Stat(ctx, id); err != nil {
		return "", err
	}
	return s.blobPath(id), nil
}

// FreeBytes reports the space available to unprivileged writers on the store volume.
func (s *Store) FreeBytes() (uint64, error) {
	_, free, err := s.statfs(s.root)
	if err != nil {
		return 0, fmt.Errorf("artifact: statfs: %w", err)
	}
	return free, nil
}

// ValidID reports whether id has the shape of an artifact id.
func ValidID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func (s *Store) blobPath(id string) string {
	return filepath.Join(s.root, id[:2], id)
}

func (s *Store) writeSidecar(info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("artifact: encode sidecar: %w", err)
	}
	path := s.blobPath(info.ID) + sidecarSuffix
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDirName), "meta-*")
	if err != nil {
		return fmt.Errorf("artifact: create sidecar: %w", err)
	}
	defer os.Remove(tmp.Name())
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("artifact: write sidecar: %w", err)
	}
	// First writer wins; metadata of stored content never changes.
	if err := os.Link(tmp.Name(), path); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("artifact: publish sidecar: %w", err)
	}
	return nil
}

func notFound(id string) error {
	return services.Wrap(services.ErrNotFound, "", "artifact", fmt.Sprintf("artifact %q not found", id), nil)
}

func normalizeContentType(contentType, ext string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			return mediaType
		}
		return strings.ToLower(contentType)
	}
	ext = normalizeExtension(ext, "")
	for mediaType, known := range preferredExtensions {
		if known == ext {
			return mediaType
		}
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	return defaultContentType
}

func normalizeExtension(ext, contentType string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		return ext
	}
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if known, ok := preferredExtensions[mediaType]; ok {
		return known
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

var preferredExtensions = map[string]string{
	"application/pdf":  ".pdf",
	"text/plain":       ".txt",
	"audio/mpeg":       ".mp3",
	"audio/wav":        ".wav",
	"video/mp4":        ".mp4",
	"video/quicktime":  ".mov",
	"video/webm":       ".webm",
	"application/json": ".json",
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
