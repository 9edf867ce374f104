// Package titlefmt validates and applies the per-job title template used for
// published videos and download file names.
package titlefmt

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Token is replaced with the document title when a template is applied.
const Token = "{title}"

// Default is used when a submission supplies no template.
const Default = Token + " - AI Summary"

const maxTitleRunes = 100

var (
	errRepeatedToken = errors.New("title format may contain {title} at most once")
	errBraces        = errors.New("title format contains unbalanced or unknown braces")
)

// Validate checks that format contains the title token at most once and no
// other brace expressions.
func Validate(format string) error {
	if strings.Count(format, Token) > 1 {
		return errRepeatedToken
	}
	if strings.ContainsAny(strings.Replace(format, Token, "", 1), "{}") {
		return errBraces
	}
	return nil
}

// Normalize trims format and substitutes Default when it is blank.
func Normalize(format string) string {
	format = strings.TrimSpace(format)
	if format == "" {
		return Default
	}
	return format
}

// DocumentTitle derives a readable title from an uploaded file name.
func DocumentTitle(documentName string) string {
	base := filepath.Base(strings.ReplaceAll(documentName, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = norm.NFC.String(base)

	var cleaned strings.Builder
	prevSpace := false
	for _, r := range base {
		switch {
		case r == '_' || unicode.IsSpace(r):
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
		default:
			cleaned.WriteRune(r)
			prevSpace = false
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" || title == "." {
		return "Untitled"
	}
	return title
}

// Apply renders format for the given document name.
func Apply(format, documentName string) string {
	rendered := strings.Replace(Normalize(format), Token, DocumentTitle(documentName), 1)
	rendered = strings.TrimSpace(rendered)
	if runes := []rune(rendered); len(runes) > maxTitleRunes {
		rendered = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return rendered
}

// FileName renders format as a download file name with the given extension.
// Path separators, quotes, and control characters are replaced.
func FileName(format, documentName, ext string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == '"' || r == ':':
			return '-'
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, Apply(format, documentName))
	name = strings.TrimSpace(name)
	if name == "" {
		name = "download"
	}
	return name + ext
}
