// Package report records the outcome of a dependent build: which stages
// ran, which scripts of which repositories passed, and what ended the run.
// Results are kept as typed structs and can be stored and reloaded by run ID.
package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Kind identifies the type of a run.
type Kind string

// Build is a dependent build run.
const Build Kind = "build"

// Status of a run, stage, repository or script.
type Status string

const (
	Pass    Status = "pass"
	Fail    Status = "fail"
	Skipped Status = "skipped"
)

// Stage names, in execution order.
const (
	StageResolveConfig = "resolve-config"
	StageCreateDir     = "create-clone-directory"
	StageLink          = "link"
	StageClone         = "clone"
	StageRunBatches    = "run-batches"
	StageUnlink        = "unlink"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// RunResult holds the structured outcome of a build.
type RunResult struct {
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	Status      Status        `json:"status"`
	HostDir     string        `json:"host_dir"`
	HostPackage string        `json:"host_package,omitempty"`
	CloneDir    string        `json:"clone_dir,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`

	Stages  []StageResult `json:"stages"`
	Repos   []RepoResult  `json:"repos,omitempty"`
	Failure *Failure      `json:"failure,omitempty"`

	// CleanupError is an unlink failure that happened while an earlier
	// failure was already being returned.
	CleanupError string `json:"cleanup_error,omitempty"`
}

// StageResult is the outcome of one orchestration stage.
type StageResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// RepoResult is the outcome of one dependent repository.
type RepoResult struct {
	Repository string         `json:"repository"`
	Dir        string         `json:"dir"`
	Cloned     bool           `json:"cloned"`
	Status     Status         `json:"status"`
	Scripts    []ScriptResult `json:"scripts,omitempty"`
}

// ScriptResult is the outcome of one script.
type ScriptResult struct {
	Index    int           `json:"index"`
	Script   string        `json:"script"`
	Command  string        `json:"command,omitempty"` // after placeholder expansion
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit_code,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Failure describes what ended a failed run.
type Failure struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Repository string `json:"repository,omitempty"`
	Script     *int   `json:"script,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
}

// Expect returns an error if the run's Kind does not match want.
func (r *RunResult) Expect(want Kind) error {
	if r.Kind != want {
		return fmt.Errorf("run %s is a %s run, not a %s run", r.ID, r.Kind, want)
	}
	return nil
}

// Stage returns the named stage result, if it ran.
func (r *RunResult) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// SetStage records the outcome of a stage, replacing an earlier entry
// with the same name.
func (r *RunResult) SetStage(name string, status Status, detail string) {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			r.Stages[i] = StageResult{Name: name, Status: status, Detail: detail}
			return
		}
	}
	r.Stages = append(r.Stages, StageResult{Name: name, Status: status, Detail: detail})
}

// ByRepository returns the results whose repository identifier or checkout
// directory name contains query. An empty query matches everything.
func ByRepository(r *RunResult, query string) []RepoResult {
	var out []RepoResult
	for _, repo := range r.Repos {
		if query == "" || strings.Contains(repo.Repository, query) || filepath.Base(repo.Dir) == query {
			out = append(out, repo)
		}
	}
	return out
}

// Summary renders a short human readable report.
func (r *RunResult) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(r.Status)))
	fmt.Fprintf(&b, "Run: %s\n", r.ID)
	if r.HostPackage != "" {
		fmt.Fprintf(&b, "Host: %s (%s)\n", r.HostDir, r.HostPackage)
	} else {
		fmt.Fprintf(&b, "Host: %s\n", r.HostDir)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Stages:")
	for _, s := range r.Stages {
		if s.Detail != "" {
			fmt.Fprintf(&b, "  %-24s %s (%s)\n", s.Name, s.Status, s.Detail)
		} else {
			fmt.Fprintf(&b, "  %-24s %s\n", s.Name, s.Status)
		}
	}

	for _, repo := range r.Repos {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "%s: %s\n", repo.Repository, repo.Status)
		for _, s := range repo.Scripts {
			fmt.Fprintf(&b, "  [%d] %-7s %s\n", s.Index, s.Status, s.Script)
		}
	}

	if r.Failure != nil {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Failure: %s\n", r.Failure.Kind)
		fmt.Fprintf(&b, "  %s\n", r.Failure.Message)
	}
	if r.CleanupError != "" {
		fmt.Fprintf(&b, "Cleanup error: %s\n", r.CleanupError)
	}
	return b.String()
}
