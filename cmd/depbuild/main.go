// Command depbuild builds dependent projects against the local working
// tree of a host package.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/deixis/depbuild"
	"github.com/deixis/depbuild/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes the environment variable of every flag.
const envPrefix = "DEPENDENT_BUILD"

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		cancel()
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	opts := &buildOptions{logLevel: "info", logFormat: "console"}
	cmd := &cobra.Command{
		Use:   "depbuild [HOST_DIR]",
		Short: "Build dependent projects against a local host package",
		Long: `depbuild clones every repository listed in the host's dependent-build.yml into
.dependent-build and runs each repository's scripts in order, stopping at the first failure.

HOST_DIR defaults to the current directory.`,
		Args:          usageArgs(cobra.MaximumNArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args, opts)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	// Build settings are persistent so the mcp subcommand can use them as defaults.
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.settings.ConfigFile, "config", "c", config.DefaultFileName, "Build file, relative to HOST_DIR")
	pf.StringVar(&opts.settings.CloneDir, "clone-dir", config.DefaultCloneDir, "Directory dependents are cloned into, relative to HOST_DIR")
	pf.StringVar(&opts.settings.BinDir, "bin-dir", "", "Project-local binary directory added to PATH (default node_modules/.bin)")
	pf.BoolVar(&opts.settings.Link, "link", false, "Link the host package before cloning and unlink it afterwards")
	pf.StringVar(&opts.settings.LinkCommand, "link-command", config.DefaultLinkCommand, "Command that links the host package")
	pf.StringVar(&opts.settings.UnlinkCommand, "unlink-command", config.DefaultUnlinkCommand, "Command that unlinks the host package")
	pf.DurationVar(&opts.settings.Timeout, "timeout", config.DefaultTimeout, "Kill any process running longer than this (0 disables)")
	pf.StringVar(&opts.settings.CloneMode, "clone-mode", config.CloneProcess, "Clone with the git binary (process) or in-process (native)")
	pf.IntVar(&opts.settings.CloneDepth, "clone-depth", 0, "Shallow clone depth (0 clones full history)")
	pf.StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level (trace, debug, info, warn, error, fatal)")
	pf.StringVar(&opts.logFormat, "log-format", opts.logFormat, "Log format (console, json)")

	f := cmd.Flags()
	f.BoolVar(&opts.clean, "clean", false, "Remove an existing clone directory before the run")
	f.StringVar(&opts.reportDir, "report-dir", "", "Write the run report as JSON into this directory")
	f.BoolVar(&opts.jsonOut, "json", false, "Print the run report as JSON instead of a summary")

	cmd.AddCommand(newMCPCommand(opts), newPatchManifestCommand(opts), newVersionCommand())

	cmd.Example = `  # Build every dependent listed in ./dependent-build.yml
  depbuild

  # Link the host first and show every spawned process
  DEPENDENT_BUILD_LOG=trace depbuild --link ../my-lib

  # Serve the MCP tools over HTTP
  depbuild mcp --http :9090`

	bindViper(cmd)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), depbuild.Version)
		},
	}
}

// bindViper lets DEPENDENT_BUILD_<FLAG> environment variables set any flag
// that was not given on the command line. DEPENDENT_BUILD_LOG is accepted
// for --log-level. Subcommands inherit the hook from root.
func bindViper(root *cobra.Command) {
	v := newViper()
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return applyViper(v, cmd)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	_ = v.BindEnv("log-level", envPrefix+"_LOG", envPrefix+"_LOG_LEVEL")
	return v
}

func applyViper(v *viper.Viper, cmd *cobra.Command) error {
	flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()}
	for _, fs := range flagSets {
		if err := v.BindPFlags(fs); err != nil {
			return err
		}
	}
	var errs []error
	for _, fs := range flagSets {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Changed || !v.IsSet(f.Name) {
				return
			}
			val := fmt.Sprintf("%v", v.Get(f.Name))
			if val == "" || val == f.Value.String() {
				return
			}
			if err := f.Value.Set(val); err != nil {
				errs = append(errs, usageError{fmt.Errorf("invalid value %q for %s_%s: %w", val, envPrefix, envKey(f.Name), err)})
			}
		})
	}
	return errors.Join(errs...)
}

func envKey(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// usageError marks errors caused by how the command was invoked.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// buildFailed is returned once the failure has already been logged.
type buildFailed struct {
	err error
}

func (e buildFailed) Error() string { return e.err.Error() }
func (e buildFailed) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	return exitFailure
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	var bf buildFailed
	if errors.As(err, &bf) {
		return
	}
	message := err.Error()
	var ue usageError
	if errors.As(err, &ue) {
		message += "\nRun 'depbuild --help' for usage."
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
