// Package config loads the dependent-build.yml file: a mapping from
// repository identifier to the ordered list of scripts run against it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deixis/depbuild/internal/clone"
	"github.com/deixis/depbuild/internal/failure"
	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// Default values for build settings.
const (
	DefaultFileName = "dependent-build.yml"
	DefaultCloneDir = ".dependent-build"
	DefaultTimeout  = time.Duration(0) // no deadline
)

// Default link commands, run in the host directory.
var (
	DefaultLinkCommand   = "npm link"
	DefaultUnlinkCommand = "npm unlink"
)

// Entry is one repository and the scripts run against it, in file order.
type Entry struct {
	Repository string
	Scripts    []string
}

// Config is the parsed build file. Entries keep the order of the mapping.
type Config struct {
	Entries []Entry
}

// Repositories returns the repository identifiers in file order.
func (c *Config) Repositories() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Repository
	}
	return out
}

// Settings holds the tool options that do not live in the build file.
// Zero values fall back to the defaults above.
type Settings struct {
	ConfigFile    string        // relative to the host directory
	CloneDir      string        // relative to the host directory
	BinDir        string        // project-local binaries, see env.DefaultBinDir
	Link          bool          // bracket the run with link/unlink
	LinkCommand   string        // shell words, e.g. "npm link"
	UnlinkCommand string        // shell words, e.g. "npm unlink"
	Timeout       time.Duration // per process, 0 disables
	CloneMode     string        // "process" or "native"
	CloneDepth    int           // 0 for full clones
}

// Clone modes.
const (
	CloneProcess = "process"
	CloneNative  = "native"
)

// FileName returns the configured build file name or the default.
func (s *Settings) FileName() string {
	if s.ConfigFile != "" {
		return s.ConfigFile
	}
	return DefaultFileName
}

// CloneDirName returns the configured clone directory or the default.
func (s *Settings) CloneDirName() string {
	if s.CloneDir != "" {
		return s.CloneDir
	}
	return DefaultCloneDir
}

// LinkArgs returns the configured link command or the default.
func (s *Settings) LinkArgs() string {
	if s.LinkCommand != "" {
		return s.LinkCommand
	}
	return DefaultLinkCommand
}

// UnlinkArgs returns the configured unlink command or the default.
func (s *Settings) UnlinkArgs() string {
	if s.UnlinkCommand != "" {
		return s.UnlinkCommand
	}
	return DefaultUnlinkCommand
}

// LinkArgv splits the link command into argv.
func (s *Settings) LinkArgv() ([]string, error) {
	return splitCommand("link", s.LinkArgs())
}

// UnlinkArgv splits the unlink command into argv.
func (s *Settings) UnlinkArgv() ([]string, error) {
	return splitCommand("unlink", s.UnlinkArgs())
}

func splitCommand(name, raw string) ([]string, error) {
	args, err := shellwords.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", name, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command must contain at least one argument", name)
	}
	return args, nil
}

// Validate checks option values that cannot be defaulted.
func (s *Settings) Validate() error {
	switch s.CloneMode {
	case "", CloneProcess, CloneNative:
	default:
		return fmt.Errorf("unknown clone mode %q (expected %s or %s)", s.CloneMode, CloneProcess, CloneNative)
	}
	if s.CloneDepth < 0 {
		return fmt.Errorf("clone depth cannot be negative")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if s.Link {
		if _, err := s.LinkArgv(); err != nil {
			return err
		}
		if _, err := s.UnlinkArgv(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads and parses name relative to hostDir. Read errors are
// ConfigUnreadable, shape errors ConfigMalformed.
func Load(hostDir, name string) (*Config, error) {
	if name == "" {
		name = DefaultFileName
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(hostDir, name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.New(failure.ConfigUnreadable, "read config", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, failure.New(failure.ConfigMalformed, "parse "+filepath.Base(path), err)
	}
	return cfg, nil
}

// Parse decodes a build file. The document must be a non-empty mapping of
// repository identifier to a list of strings; keys must be unique and must
// not resolve to the same checkout directory.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping of repository to scripts", root.Line)
	}
	if len(root.Content) == 0 {
		return nil, errors.New("no repositories configured")
	}

	cfg := &Config{}
	seen := make(map[string]int)
	dirs := make(map[string]string)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]

		if key.Kind != yaml.ScalarNode || key.Value == "" {
			return nil, fmt.Errorf("line %d: repository must be a non-empty string", key.Line)
		}
		repo := key.Value
		if line, ok := seen[repo]; ok {
			return nil, fmt.Errorf("line %d: repository %q already defined on line %d", key.Line, repo, line)
		}
		seen[repo] = key.Line

		dir := clone.DirName(repo)
		if dir == "" || dir == "." || dir == ".." {
			return nil, fmt.Errorf("line %d: cannot derive a directory name from %q", key.Line, repo)
		}
		if other, ok := dirs[dir]; ok {
			return nil, fmt.Errorf("line %d: %q and %q both check out to %q", key.Line, other, repo, dir)
		}
		dirs[dir] = repo

		scripts, err := decodeScripts(val)
		if err != nil {
			return nil, fmt.Errorf("repository %q: %w", repo, err)
		}
		cfg.Entries = append(cfg.Entries, Entry{Repository: repo, Scripts: scripts})
	}
	return cfg, nil
}

func decodeScripts(n *yaml.Node) ([]string, error) {
	switch {
	case n.Kind == yaml.ScalarNode && n.Tag == "!!null":
		return []string{}, nil
	case n.Kind != yaml.SequenceNode:
		return nil, fmt.Errorf("line %d: scripts must be a list", n.Line)
	}

	scripts := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
			return nil, fmt.Errorf("line %d: script must be a string", item.Line)
		}
		scripts = append(scripts, item.Value)
	}
	return scripts, nil
}
