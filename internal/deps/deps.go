// Package deps reports whether the external programs lipsync shells out to
// can be resolved.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"lipsync/internal/config"
)

// Requirement names an external binary.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Requirement
	Available bool
	// Path is the resolved executable when available.
	Path   string
	Detail string
}

// Requirements lists the binaries the configured stages invoke.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{{
		Name:        "pdftotext",
		Command:     cfg.Stages.Script.PDFToTextPath,
		Description: "Extracts document text for script generation",
	}}
}

// Check resolves a single requirement against PATH.
func Check(req Requirement) Status {
	req.Command = strings.TrimSpace(req.Command)
	status := Status{Requirement: req}
	if req.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(req.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		return status
	}
	status.Available = true
	status.Path = path
	return status
}

// CheckBinaries evaluates every requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, Check(req))
	}
	return results
}

// Missing filters statuses down to unavailable, non-optional requirements.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
