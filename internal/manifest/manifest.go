// Package manifest reads and patches package.json files.
//
// Patching rewrites only the host package's entry in the dependency
// sections; every other key, and the order of keys, is left as it was.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deixis/depbuild/internal/failure"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "package.json"

// DependencySections are the sections Patch rewrites.
var DependencySections = []string{"dependencies", "devDependencies", "peerDependencies"}

// ReadName returns the "name" field of dir/package.json.
func ReadName(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return "", failure.New(failure.ConfigUnreadable, "read manifest", err)
	}
	var m struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return "", failure.New(failure.ConfigMalformed, "parse manifest", err)
	}
	if m.Name == "" {
		return "", failure.New(failure.ConfigMalformed, "parse manifest", errors.New(`missing "name"`))
	}
	return m.Name, nil
}

// FileRef returns the "file:" reference from fromDir to hostDir.
func FileRef(fromDir, hostDir string) (string, error) {
	rel, err := filepath.Rel(fromDir, hostDir)
	if err != nil {
		return "", fmt.Errorf("resolving host path: %w", err)
	}
	return "file:" + filepath.ToSlash(rel), nil
}

// Patch points the name dependency of dir/package.json at ref in every
// dependency section that already lists it. It returns the sections that
// changed; the file is only written when at least one did.
func Patch(dir, name, ref string) ([]string, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.New(failure.ConfigUnreadable, "read manifest", err)
	}

	out, changed, err := patch(data, name, ref)
	if err != nil {
		return nil, failure.New(failure.ConfigMalformed, "parse manifest", err)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return changed, nil
}

// PatchHost reads the host package name from hostDir and patches the
// manifest in dependentDir to reference it by relative path. It returns
// the changed sections, the reference and the host package name.
func PatchHost(dependentDir, hostDir string) (changed []string, ref, name string, err error) {
	name, err = ReadName(hostDir)
	if err != nil {
		return nil, "", "", err
	}
	ref, err = FileRef(dependentDir, hostDir)
	if err != nil {
		return nil, "", name, err
	}
	changed, err = Patch(dependentDir, name, ref)
	return changed, ref, name, err
}

func patch(data []byte, name, ref string) ([]byte, []string, error) {
	top, err := decodeObject(data)
	if err != nil {
		return nil, nil, err
	}

	refJSON, err := marshal(ref)
	if err != nil {
		return nil, nil, err
	}

	var changed []string
	for i, m := range top {
		if !isDependencySection(m.Key) {
			continue
		}
		deps, err := decodeObject(m.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", m.Key, err)
		}
		hit := false
		for j := range deps {
			if deps[j].Key == name {
				deps[j].Value = refJSON
				hit = true
			}
		}
		if !hit {
			continue
		}
		if top[i].Value, err = encodeObject(deps); err != nil {
			return nil, nil, err
		}
		changed = append(changed, m.Key)
	}
	if len(changed) == 0 {
		return data, nil, nil
	}

	compact, err := encodeObject(top)
	if err != nil {
		return nil, nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), changed, nil
}

func isDependencySection(key string) bool {
	for _, s := range DependencySections {
		if s == key {
			return true
		}
	}
	return false
}

// member is one key of a JSON object, kept in document order.
type member struct {
	Key   string
	Value json.RawMessage
}

func decodeObject(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a JSON object")
	}

	var out []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, member{Key: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeObject(members []member) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshal(m.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(m.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshal(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
