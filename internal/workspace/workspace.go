// Package workspace reads and writes individual conversation source files
// under the corpus root.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideRoot is returned for names that are empty or escape the root.
	ErrOutsideRoot = errors.New("path is outside the corpus root")
	// ErrNotFound is returned when deleting a file that does not exist.
	ErrNotFound = errors.New("file not found")
)

// Workspace is a corpus root on the local filesystem.
type Workspace struct {
	root string
}

// New creates a workspace rooted at root.
func New(root string) *Workspace {
	return &Workspace{root: root}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a slash-separated name relative to the root onto a local path.
func (w *Workspace) Resolve(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(name, "/")))
	if clean == "." || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%q: %w", name, ErrOutsideRoot)
	}
	return filepath.Join(w.root, clean), nil
}

// Save writes content to name, creating parent directories as needed.
func (w *Workspace) Save(name, content string) error {
	path, err := w.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Delete removes name.
func (w *Workspace) Delete(name string) error {
	path, err := w.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}
