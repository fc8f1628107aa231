package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deixis/depbuild/internal/clone"
	"github.com/deixis/depbuild/internal/config"
	"github.com/deixis/depbuild/internal/manifest"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type workspaceParams struct {
	HostDir string `json:"host_dir,omitempty" jsonschema:"absolute path of the host project. Defaults to the workspace root."`
}

func (h *handler) workspaceHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params workspaceParams) (*sdkmcp.CallToolResult, any, error) {
	hostDir := h.hostDir(params.HostDir)
	if hostDir == "" {
		return errorResult("host_dir is required: no workspace root is known")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Host: %s\n", hostDir)

	name, err := manifest.ReadName(hostDir)
	switch {
	case err == nil:
		fmt.Fprintf(&b, "Package: %s\n", name)
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(&b, "Package: (no package.json)")
	default:
		fmt.Fprintf(&b, "Package: (%v)\n", err)
	}

	file := h.settings.FileName()
	cfg, err := config.Load(hostDir, file)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load %s: %v", file, err))
	}
	fmt.Fprintf(&b, "Build file: %s\n", file)

	cloneDir := filepath.Join(hostDir, h.settings.CloneDirName())
	if _, err := os.Stat(cloneDir); err == nil {
		fmt.Fprintf(&b, "Clone directory: %s (exists, pass clean=true to depbuild_run to replace it)\n", cloneDir)
	} else {
		fmt.Fprintf(&b, "Clone directory: %s\n", cloneDir)
	}
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "Repositories (%d):\n", len(cfg.Entries))
	for _, e := range cfg.Entries {
		fmt.Fprintf(&b, "  %s -> %s\n", e.Repository, clone.DirName(e.Repository))
		for i, s := range e.Scripts {
			fmt.Fprintf(&b, "    [%d] %s\n", i, s)
		}
	}

	return textResult(b.String())
}
