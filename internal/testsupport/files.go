package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"lipsync/internal/config"
)

// PDF returns a minimal document whose sniffed content type is application/pdf.
func PDF(text string) []byte {
	return []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\n% " + text + "\n%%EOF\n")
}

// WriteTemplates creates the template directory and writes one placeholder
// file per name whose content is "video:" followed by the name.
func WriteTemplates(t testing.TB, cfg *config.Config, names ...string) string {
	t.Helper()
	dir := cfg.Paths.TemplateDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir templates: %v", err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("video:"+name), 0o644); err != nil {
			t.Fatalf("write template %s: %v", name, err)
		}
	}
	return dir
}
