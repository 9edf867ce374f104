package scriptgen

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"unicode/utf8"

	"lipsync/internal/services"
)

var commandContext = exec.CommandContext

// extractText runs pdftotext against path and returns the document text.
func extractText(ctx context.Context, binary, path string) (string, error) {
	cmd := commandContext(ctx, binary, "-layout", "-enc", "UTF-8", path, "-") //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", services.Wrap(services.ErrFatal, stageName, "extract text", "pdftotext not found", err)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "pdftotext failed"
		}
		return "", services.Wrap(services.ErrFatal, stageName, "extract text", detail, err)
	}
	text := stdout.String()
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = collapseBlankLines(text)
	if strings.TrimSpace(text) == "" {
		return "", services.Wrap(services.ErrFatal, stageName, "extract text", "document has no extractable text", nil)
	}
	return text, nil
}

func collapseBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r\f")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
