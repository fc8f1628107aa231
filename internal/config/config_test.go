package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deixis/depbuild/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(content), 0o644))
}

func TestLoad_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
https://example.com/org/zeta.git:
  - npm install
  - npm test
repoA:
  - echo one
  - echo two
`)

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/org/zeta.git", "repoA"}, cfg.Repositories())
	assert.Equal(t, []string{"npm install", "npm test"}, cfg.Entries[0].Scripts)
	assert.Equal(t, []string{"echo one", "echo two"}, cfg.Entries[1].Scripts)
}

func TestLoad_CustomName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deps.yaml"), []byte("repoA: [echo]\n"), 0o644))

	cfg, err := Load(dir, "deps.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"repoA"}, cfg.Repositories())
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir(), "")
	require.Error(t, err)
	assert.Equal(t, failure.ConfigUnreadable, failure.KindOf(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Malformed(t *testing.T) {
	tests := map[string]string{
		"invalid yaml":      "repoA: [echo\n",
		"empty":             "",
		"list at top level": "- repoA\n",
		"empty mapping":     "{}\n",
		"scripts not list":  "repoA: echo one\n",
		"script not string": "repoA:\n  - 42\n",
		"nested script":     "repoA:\n  - [echo]\n",
		"duplicate key":     "repoA: [a]\nrepoA: [b]\n",
		"same directory":    "https://a.example/org/foo.git: [a]\nhttps://b.example/foo: [b]\n",
		"no directory name": "'/': [a]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, content)
			_, err := Load(dir, "")
			require.Error(t, err)
			assert.Equal(t, failure.ConfigMalformed, failure.KindOf(err))
		})
	}
}

func TestParse_NullScripts(t *testing.T) {
	cfg, err := Parse([]byte("repoA:\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 1)
	assert.Empty(t, cfg.Entries[0].Scripts)
}

func TestParse_QuotedNumberIsString(t *testing.T) {
	cfg, err := Parse([]byte("repoA:\n  - '42'\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, cfg.Entries[0].Scripts)
}

func TestSettings_Defaults(t *testing.T) {
	var s Settings
	assert.Equal(t, DefaultFileName, s.FileName())
	assert.Equal(t, DefaultCloneDir, s.CloneDirName())
	assert.Equal(t, DefaultLinkCommand, s.LinkArgs())
	assert.Equal(t, DefaultUnlinkCommand, s.UnlinkArgs())
	assert.NoError(t, s.Validate())
}

func TestSettings_Overrides(t *testing.T) {
	s := Settings{ConfigFile: "x.yml", CloneDir: "clones", LinkCommand: "yarn link", UnlinkCommand: "yarn unlink", Timeout: time.Minute}
	assert.Equal(t, "x.yml", s.FileName())
	assert.Equal(t, "clones", s.CloneDirName())
	assert.Equal(t, "yarn link", s.LinkArgs())
	assert.Equal(t, "yarn unlink", s.UnlinkArgs())
	assert.NoError(t, s.Validate())
}

func TestSettings_Validate(t *testing.T) {
	assert.Error(t, (&Settings{CloneMode: "svn"}).Validate())
	assert.Error(t, (&Settings{CloneDepth: -1}).Validate())
	assert.Error(t, (&Settings{Timeout: -time.Second}).Validate())
	assert.NoError(t, (&Settings{CloneMode: CloneNative, CloneDepth: 1}).Validate())
}

func TestSettings_LinkArgv(t *testing.T) {
	s := Settings{Link: true, LinkCommand: `yarn link --cwd "my dir"`}
	argv, err := s.LinkArgv()
	require.NoError(t, err)
	assert.Equal(t, []string{"yarn", "link", "--cwd", "my dir"}, argv)

	argv, err = s.UnlinkArgv()
	require.NoError(t, err)
	assert.Equal(t, []string{"npm", "unlink"}, argv)
}

func TestSettings_ValidateLinkCommands(t *testing.T) {
	assert.Error(t, (&Settings{Link: true, LinkCommand: `npm link "unterminated`}).Validate())
	assert.Error(t, (&Settings{Link: true, UnlinkCommand: "   "}).Validate())
	// Commands are not checked when linking is off.
	assert.NoError(t, (&Settings{UnlinkCommand: "   "}).Validate())
}
