package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/deixis/depbuild/internal/clone"
	"github.com/deixis/depbuild/internal/config"
	"github.com/deixis/depbuild/internal/manifest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPatchManifestCommand(opts *buildOptions) *cobra.Command {
	var hostDir string
	cmd := &cobra.Command{
		Use:   "patch-manifest [DEPENDENT_DIR...]",
		Short: "Point dependents' package.json at the local host package",
		Long: `Rewrite the host dependency in each dependent's package.json to a file: reference
relative to the dependent, in dependencies, devDependencies and peerDependencies.

Without arguments every repository of the build file is patched in its checkout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			log = log.Derive("patchManifest")

			host, err := filepath.Abs(hostDir)
			if err != nil {
				return err
			}
			dirs := args
			if len(dirs) == 0 {
				if dirs, err = checkoutDirs(host, opts.settings); err != nil {
					return err
				}
			}

			for _, dir := range dirs {
				if !filepath.IsAbs(dir) {
					dir = filepath.Join(host, dir)
				}
				changed, ref, name, err := manifest.PatchHost(dir, host)
				if err != nil {
					return fmt.Errorf("patching %s: %w", dir, err)
				}
				if len(changed) == 0 {
					log.Info("No host dependency to patch", zap.String("dir", dir), zap.String("package", name))
					continue
				}
				log.Info("Patched manifest",
					zap.String("dir", dir),
					zap.String("package", name),
					zap.String("ref", ref),
					zap.String("sections", strings.Join(changed, ",")),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hostDir, "host", ".", "Host project directory")
	return cmd
}

// checkoutDirs returns the checkout directory of every configured repository.
func checkoutDirs(hostDir string, settings config.Settings) ([]string, error) {
	cfg, err := config.Load(hostDir, settings.FileName())
	if err != nil {
		return nil, err
	}
	cloneDir := filepath.Join(hostDir, settings.CloneDirName())
	dirs := make([]string, len(cfg.Entries))
	for i, e := range cfg.Entries {
		dirs[i] = clone.Dir(cloneDir, e.Repository)
	}
	return dirs, nil
}
