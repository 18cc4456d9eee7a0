// Package deps resolves the external executables pipeline stages shell out to.
package deps

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names a command and whether the pipeline can run without it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is a Requirement after lookup. Path is the resolved executable
// and is empty when Available is false.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// Resolve looks up one requirement on PATH (or at its literal path).
func Resolve(req Requirement) Status {
	req.Command = strings.TrimSpace(req.Command)
	req.Description = strings.TrimSpace(req.Description)
	st := Status{Requirement: req}
	if req.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	path, err := exec.LookPath(req.Command)
	switch {
	case err == nil:
		st.Available = true
		st.Path = path
		st.Detail = path
	case errors.Is(err, exec.ErrNotFound):
		st.Detail = fmt.Sprintf("%s: not found", req.Command)
	default:
		st.Detail = fmt.Sprintf("%s: %v", req.Command, err)
	}
	return st
}

// CheckBinaries resolves every requirement, preserving order.
func CheckBinaries(requirements []Requirement) []Status {
	out := make([]Status, len(requirements))
	for i, req := range requirements {
		out[i] = Resolve(req)
	}
	return out
}
