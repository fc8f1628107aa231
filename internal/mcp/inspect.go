package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deixis/depbuild/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID      string `json:"run_id" jsonschema:"the run ID from a depbuild_run result"`
	Repository string `json:"repository,omitempty" jsonschema:"repository identifier substring or checkout directory name. Defaults to all repositories."`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	if err := result.Expect(report.Build); err != nil {
		return errorResult(err.Error())
	}

	repos := report.ByRepository(result, params.Repository)
	if len(repos) == 0 {
		return textResult(fmt.Sprintf("No repositories matching %q in run %s.", params.Repository, params.RunID))
	}

	return textResult(formatInspectOutput(result, repos))
}

func formatInspectOutput(rr *report.RunResult, repos []report.RepoResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s)\n", rr.ID, strings.ToUpper(string(rr.Status)))
	fmt.Fprintln(&b)

	for _, repo := range repos {
		cloned := "not cloned"
		if repo.Cloned {
			cloned = "cloned"
		}
		fmt.Fprintf(&b, "%s: %s\n", repo.Repository, repo.Status)
		fmt.Fprintf(&b, "  dir: %s (%s)\n", repo.Dir, cloned)

		for _, s := range repo.Scripts {
			fmt.Fprintf(&b, "  [%d] %s: %s", s.Index, s.Status, s.Script)
			if s.Command != "" && s.Command != s.Script {
				fmt.Fprintf(&b, " (ran `%s`)", s.Command)
			}
			if s.Status == report.Fail && s.ExitCode != 0 {
				fmt.Fprintf(&b, " exit %d", s.ExitCode)
			}
			if s.Duration > 0 {
				fmt.Fprintf(&b, " in %s", s.Duration.Round(time.Millisecond))
			}
			fmt.Fprintln(&b)
		}

		if f := rr.Failure; f != nil && f.Repository == repo.Repository {
			fmt.Fprintln(&b)
			fmt.Fprintf(&b, "  Failure: %s\n", f.Kind)
			fmt.Fprintf(&b, "    %s\n", f.Message)
		}
		fmt.Fprintln(&b)
	}

	if rr.CleanupError != "" {
		fmt.Fprintf(&b, "Cleanup error: %s\n", rr.CleanupError)
	}
	return b.String()
}
