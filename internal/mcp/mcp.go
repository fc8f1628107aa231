// Package mcp provides the depbuild MCP server, registering all tools
// and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/deixis/depbuild"
	"github.com/deixis/depbuild/internal/config"
	"github.com/deixis/depbuild/internal/report"
	"github.com/deixis/depbuild/internal/trace"
	"github.com/deixis/depbuild/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu        sync.Mutex
	workspace string // default host directory, updated via roots

	settings config.Settings
	runner   workflow.CommandRunner
	cloner   workflow.Cloner // nil selects one from settings
	store    report.Store
	log      trace.Logger
}

// NewServer creates an MCP server with all depbuild tools registered.
// Builds run with settings unless a tool call overrides them.
func NewServer(settings config.Settings, r workflow.CommandRunner, store report.Store, workspace string, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}

	h := &handler{
		workspace: workspace,
		settings:  settings,
		runner:    r,
		cloner:    so.cloner,
		store:     store,
		log:       so.log,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "depbuild", Version: depbuild.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "depbuild_workspace",
		Description: "Summarise the host project: package name, build file, and the dependent repositories with their scripts.",
	}, h.workspaceHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "depbuild_run",
		Description: `Run a dependent build and stop on first failure.

Clones every repository listed in the host's dependent-build.yml into the clone directory,
then runs each repository's scripts in order. With link=true the host package is linked
before cloning and unlinked afterwards. Results are stored for drill-down via depbuild_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "depbuild_inspect",
		Description: `Drill into results from a depbuild_run.

Use the run_id from the run output. Pass repository to limit the output to repositories
whose identifier contains it, or whose checkout directory is named after it.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "depbuild_patch_manifest",
		Description: `Point a dependent project's package.json at the local host package.

Rewrites the host dependency in dependencies, devDependencies and peerDependencies to a
file: reference relative to the dependent. Other keys and their order are left as they were.`,
	}, h.patchHandler)

	return s
}

// ServerOption configures the depbuild MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	cloner workflow.Cloner
	log    trace.Logger
}

// WithCloner replaces the cloner selected from the settings.
func WithCloner(c workflow.Cloner) ServerOption {
	return func(o *serverOptions) {
		o.cloner = c
	}
}

// WithLogger sets the logger builds run with. The default discards records.
func WithLogger(l trace.Logger) ServerOption {
	return func(o *serverOptions) {
		o.log = l
	}
}

// updateWorkspaceFromRoots queries the client for MCP roots and uses the
// first file root as the default host directory.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	h.mu.Lock()
	h.workspace = u.Path
	h.mu.Unlock()
	h.log.Debug("Workspace updated from roots", zap.String("dir", u.Path))
}

// hostDir returns dir, or the workspace when dir is empty.
func (h *handler) hostDir(dir string) string {
	if dir != "" {
		return dir
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workspace
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
