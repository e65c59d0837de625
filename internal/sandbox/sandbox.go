// Package sandbox confines every file the daemon writes to its home
// directory. Profile content files, the running config and the extracted
// binary all go through here.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath checks that rel stays within root once symlinks are
// resolved, and returns the resolved absolute path.
func ValidatePath(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolving root symlinks: %w", err)
	}

	candidate := filepath.Clean(filepath.Join(realRoot, rel))

	// The leaf usually does not exist yet.
	resolved, err := resolveExistingPath(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	rootPrefix := realRoot + string(filepath.Separator)
	if resolved != realRoot && !strings.HasPrefix(resolved, rootPrefix) {
		return "", fmt.Errorf("path '%s' resolves to '%s' which is outside '%s'", rel, resolved, realRoot)
	}
	return resolved, nil
}

// resolveExistingPath resolves symlinks for the longest existing prefix of
// path and appends the rest unchanged.
func resolveExistingPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}

	dir := filepath.Dir(path)
	if dir == path {
		return path, nil
	}
	resolvedDir, err := resolveExistingPath(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, filepath.Base(path)), nil
}

// SafeWrite atomically replaces rel under root with content. Readers see
// either the old file or the new one, never a partial write.
func SafeWrite(root, rel string, content []byte, perm os.FileMode) error {
	p, err := StageWrite(root, rel, content, perm)
	if err != nil {
		return err
	}
	return p.Commit()
}

// Pending is a file change staged under root. Nothing is visible at the
// target path until Commit; Discard puts everything back.
type Pending struct {
	tmp    string
	target string
	remove bool
	done   bool
}

// StageWrite writes content to a temp file next to rel. Commit renames it
// over rel.
func StageWrite(root, rel string, content []byte, perm os.FileMode) (*Pending, error) {
	resolved, err := ValidatePath(root, rel)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(resolved)
	if _, err := ValidatePath(root, filepath.Dir(rel)); err != nil {
		return nil, fmt.Errorf("parent directory escapes %s: %w", root, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	staged := false
	defer func() {
		if !staged {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return nil, fmt.Errorf("setting permissions: %w", err)
	}

	staged = true
	return &Pending{tmp: tmpPath, target: resolved}, nil
}

// StageRemove moves rel aside under a temp name, which IsTemp recognises.
// Commit deletes it; Discard moves it back. A missing file stages a no-op.
func StageRemove(root, rel string) (*Pending, error) {
	resolved, err := ValidatePath(root, rel)
	if err != nil {
		return nil, err
	}
	p := &Pending{target: resolved, remove: true}
	if _, err := os.Lstat(resolved); os.IsNotExist(err) {
		p.done = true
		return p, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(resolved), tempPattern)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	_ = tmp.Close()
	if err := os.Rename(resolved, tmp.Name()); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("moving %s aside: %w", resolved, err)
	}
	p.tmp = tmp.Name()
	return p, nil
}

// Commit applies the staged change. Calling it again is a no-op.
func (p *Pending) Commit() error {
	if p.done {
		return nil
	}
	p.done = true
	if p.remove {
		return os.Remove(p.tmp)
	}
	if err := os.Rename(p.tmp, p.target); err != nil {
		_ = os.Remove(p.tmp)
		return fmt.Errorf("renaming temp file to %s: %w", p.target, err)
	}
	return nil
}

// Discard abandons the staged change, restoring a file staged for
// removal. It is a no-op after Commit.
func (p *Pending) Discard() error {
	if p.done {
		return nil
	}
	p.done = true
	if p.remove {
		return os.Rename(p.tmp, p.target)
	}
	return os.Remove(p.tmp)
}

// SafeMkdirAll creates rel and its parents under root.
func SafeMkdirAll(root, rel string, perm os.FileMode) error {
	resolved, err := ValidatePath(root, rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(resolved, perm)
}

const tempPattern = ".sbox-*.tmp"

// IsTemp reports whether name is one of SafeWrite's in-flight temp files.
// Directory scanners and watchers skip these.
func IsTemp(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".sbox-") && strings.HasSuffix(base, ".tmp")
}
