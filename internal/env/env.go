// Package env computes the environment dependent scripts run with and
// expands the ${HOST_DIR} placeholder in script strings.
package env

import (
	"os"
	"path/filepath"
	"strings"
)

// Placeholder is replaced with the quoted host directory in every script.
const Placeholder = "${HOST_DIR}"

// DefaultBinDir is the project-local directory holding installed tool binaries.
var DefaultBinDir = filepath.Join("node_modules", ".bin")

// HostDirVar is exported to scripts alongside the placeholder.
const HostDirVar = "HOST_DIR"

// Build returns a copy of base with PATH extended by the host and then the
// dependent binDir, in that order, and HOST_DIR set. base is not modified.
func Build(hostDir, dependentDir string, base []string, binDir string) []string {
	if binDir == "" {
		binDir = DefaultBinDir
	}

	var parts []string
	if p := Lookup(base, "PATH"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts,
		filepath.Join(hostDir, binDir),
		filepath.Join(dependentDir, binDir),
	)

	out := Set(base, "PATH", strings.Join(parts, string(os.PathListSeparator)))
	return Set(out, HostDirVar, hostDir)
}

// Lookup returns the value of key in env, or "" when absent.
// The last assignment wins, matching how exec resolves duplicates.
func Lookup(env []string, key string) string {
	val := ""
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			val = kv[len(prefix):]
		}
	}
	return val
}

// Set returns a copy of env with key set to val, replacing any existing
// assignment of key.
func Set(env []string, key, val string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+val)
}

// Substitute replaces every occurrence of Placeholder in script with the
// shell-quoted hostDir. Scripts without the placeholder are returned as-is.
func Substitute(script, hostDir string) string {
	if !strings.Contains(script, Placeholder) {
		return script
	}
	return strings.ReplaceAll(script, Placeholder, Quote(hostDir))
}

// Quote returns s as a single POSIX shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, unsafeRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func unsafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("@%+=:,./_-", r)
}
