package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deixis/depbuild/internal/config"
	"github.com/deixis/depbuild/internal/report"
	"github.com/deixis/depbuild/internal/runner"
	"github.com/deixis/depbuild/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

type runParams struct {
	HostDir    string `json:"host_dir,omitempty" jsonschema:"absolute path of the host project. Defaults to the workspace root."`
	Link       *bool  `json:"link,omitempty" jsonschema:"link the host package before cloning and unlink it afterwards. Defaults to the server setting."`
	Clean      bool   `json:"clean,omitempty" jsonschema:"remove an existing clone directory before the run. Default: false."`
	CloneMode  string `json:"clone_mode,omitempty" jsonschema:"process (git binary) or native (in-process). Defaults to the server setting."`
	CloneDepth *int   `json:"clone_depth,omitempty" jsonschema:"shallow clone depth, 0 for full clones. Defaults to the server setting."`
	TimeoutSec *int   `json:"timeout_seconds,omitempty" jsonschema:"per-process timeout in seconds, 0 disables it. Defaults to the server setting."`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	hostDir := h.hostDir(params.HostDir)
	if hostDir == "" {
		return errorResult("host_dir is required: no workspace root is known")
	}

	settings := h.settings
	if params.Link != nil {
		settings.Link = *params.Link
	}
	if params.CloneMode != "" {
		settings.CloneMode = params.CloneMode
	}
	if params.CloneDepth != nil {
		settings.CloneDepth = *params.CloneDepth
	}
	if params.TimeoutSec != nil {
		settings.Timeout = time.Duration(*params.TimeoutSec) * time.Second
	}
	if err := settings.Validate(); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err))
	}

	if params.Clean {
		if err := workflow.RemoveCloneDir(hostDir, settings); err != nil {
			return errorResult(fmt.Sprintf("clean failed: %v", err))
		}
	}

	r, err := h.runnerFor(settings, params.TimeoutSec != nil)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err))
	}

	o := &workflow.Orchestrator{
		Settings: settings,
		Runner:   r,
		Cloner:   h.cloner,
	}
	rr, runErr := o.Run(ctx, h.log, hostDir)

	// Save results for depbuild_inspect.
	saveErr := h.store.Save(rr)
	if saveErr != nil {
		h.log.Warn("Could not save run report", zap.String("run_id", rr.ID), zap.Error(saveErr))
	}

	return textResult(formatRun(rr, runErr, saveErr))
}

// runnerFor applies a per-call timeout to the process runner. Other
// runners cannot take one.
func (h *handler) runnerFor(settings config.Settings, override bool) (workflow.CommandRunner, error) {
	r, ok := h.runner.(*runner.Runner)
	if !ok {
		if override {
			return nil, fmt.Errorf("timeout_seconds is not supported by this server's runner (%T)", h.runner)
		}
		return h.runner, nil
	}
	if r.Timeout == settings.Timeout {
		return r, nil
	}
	c := *r
	c.Timeout = settings.Timeout
	return &c, nil
}

func formatRun(rr *report.RunResult, err, saveErr error) string {
	var b strings.Builder

	fmt.Fprint(&b, rr.Summary())
	fmt.Fprintln(&b)

	if saveErr != nil {
		fmt.Fprintf(&b, "Report not saved, depbuild_inspect cannot load this run: %v\n", saveErr)
	}
	if err != nil {
		fmt.Fprintf(&b, "Error: %v\n", err)
		if saveErr == nil {
			fmt.Fprintf(&b, "Inspect with depbuild_inspect(run_id=%q, repository=\"<repository or directory>\").\n", rr.ID)
		}
	} else {
		fmt.Fprintln(&b, "All repositories built.")
	}
	return b.String()
}
