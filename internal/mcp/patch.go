package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/deixis/depbuild/internal/manifest"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type patchParams struct {
	DependentDir string `json:"dependent_dir" jsonschema:"directory of the dependent project whose package.json is patched. Relative paths resolve against the host."`
	HostDir      string `json:"host_dir,omitempty" jsonschema:"absolute path of the host project. Defaults to the workspace root."`
}

func (h *handler) patchHandler(ctx context.Context, req *mcp.CallToolRequest, params patchParams) (*mcp.CallToolResult, any, error) {
	if params.DependentDir == "" {
		return errorResult("dependent_dir is required")
	}
	hostDir := h.hostDir(params.HostDir)
	if hostDir == "" {
		return errorResult("host_dir is required: no workspace root is known")
	}

	dep := params.DependentDir
	if !filepath.IsAbs(dep) {
		dep = filepath.Join(hostDir, dep)
	}

	changed, ref, name, err := manifest.PatchHost(dep, hostDir)
	if err != nil {
		return errorResult(fmt.Sprintf("patch failed: %v", err))
	}
	return textResult(formatPatch(dep, name, ref, changed))
}

func formatPatch(dir, name, ref string, changed []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dependent: %s\n", dir)
	if len(changed) == 0 {
		fmt.Fprintf(&b, "No dependency on %s found; package.json left unchanged.\n", name)
		return b.String()
	}
	fmt.Fprintf(&b, "%s -> %s in %s\n", name, ref, strings.Join(changed, ", "))
	return b.String()
}
