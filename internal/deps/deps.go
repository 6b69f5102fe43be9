// Package deps reports which external executables murmur can use.
package deps

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Resolver maps a command name to an executable path.
type Resolver func(command string) (string, error)

// Requirement names an executable and how to find it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// Resolve replaces the $PATH lookup when set.
	Resolve Resolver
}

// Status is the outcome of checking one Requirement. Path is the resolved
// executable when Available.
type Status struct {
	Name        string
	Command     string
	Path        string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Missing reports a required executable that could not be found.
func (s Status) Missing() bool {
	return !s.Available && !s.Optional
}

// Check resolves every requirement.
func Check(requirements ...Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	command := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     command,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if command == "" && req.Resolve == nil {
		status.Detail = "command not configured"
		return status
	}
	resolve := req.Resolve
	if resolve == nil {
		resolve = exec.LookPath
	}
	path, err := resolve(command)
	if err != nil {
		status.Detail = describe(command, err)
		return status
	}
	status.Path = path
	status.Available = true
	return status
}

func describe(command string, err error) string {
	switch {
	case command == "":
		return err.Error()
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Sprintf("binary %q not found", command)
	default:
		return fmt.Sprintf("%s: %v", command, err)
	}
}
