package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	depmcp "github.com/deixis/depbuild/internal/mcp"
	"github.com/deixis/depbuild/internal/report"
	"github.com/deixis/depbuild/internal/runner"
	"github.com/deixis/depbuild/internal/trace"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMCPCommand(opts *buildOptions) *cobra.Command {
	var (
		instructions bool
		httpAddr     string
		reportDir    string
		workspace    string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server",
		Long: `Start a Model Context Protocol server exposing depbuild_workspace, depbuild_run,
depbuild_inspect and depbuild_patch_manifest. Serves stdio unless --http is given.

Build flags of the root command (--link, --timeout, --clone-mode, ...) become the
defaults of depbuild_run.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if instructions {
				fmt.Fprint(cmd.OutOrStdout(), depmcp.Instructions)
				return nil
			}
			if workspace == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("determining workspace: %w", err)
				}
				workspace = wd
			}
			log, err := opts.newLogger(os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), log, opts, workspace, reportDir, httpAddr)
		},
	}
	cmd.Flags().BoolVar(&instructions, "instructions", false, "Print model instructions and exit")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Start HTTP server on address (e.g. :9090)")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "Directory run reports are kept in (default a temp directory)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Default host directory (default the current directory)")
	return cmd
}

func serve(ctx context.Context, log trace.Logger, opts *buildOptions, workspace, reportDir, httpAddr string) error {
	if err := opts.settings.Validate(); err != nil {
		return usageError{err}
	}

	disk := report.NewDiskStore(reportDir)
	store := report.NewLRUStore(5, disk)

	// Stdout carries the protocol in stdio mode, so process output goes to stderr.
	r := &runner.Runner{
		Stdout:  os.Stderr,
		Stderr:  os.Stderr,
		Timeout: opts.settings.Timeout,
	}

	server := depmcp.NewServer(opts.settings, r, store, workspace, depmcp.WithLogger(log))

	if httpAddr != "" {
		return serveHTTP(ctx, log, server, httpAddr)
	}
	log.Debug("Serving MCP over stdio", zap.String("workspace", workspace))
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, log trace.Logger, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Info("Listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
