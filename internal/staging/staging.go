// Package staging manages the recorder-scoped scratch directory used to
// serialize objects before they are uploaded as artifacts.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/imishinist/mlflow-recorder/internal/codec"
)

// ErrReleased is returned by operations on a released area.
var ErrReleased = errors.New("staging area released")

// Area is a private directory holding serialized objects keyed by name.
// It is not safe for concurrent use.
type Area struct {
	root     string
	released bool
}

// New creates a fresh area under baseDir, or under os.TempDir() when baseDir is empty.
func New(baseDir string) (*Area, error) {
	base := strings.TrimSpace(baseDir)
	if base == "" {
		base = os.TempDir()
	}
	base = filepath.Clean(base)

	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create staging base directory: %w", err)
	}

	root := filepath.Join(base, "recorder-"+uuid.NewString())
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("resolve staging directory: %w", err)
	}

	return &Area{root: abs}, nil
}

// Root returns the absolute staging directory.
func (a *Area) Root() string {
	return a.root
}

// Path returns where name is (or would be) staged.
func (a *Area) Path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(a.root, name), nil
}

// Save encodes v and writes it under name, replacing any earlier object
// with the same name. Encoding happens before anything touches the disk.
func (a *Area) Save(name string, v any) (string, error) {
	if a.released {
		return "", ErrReleased
	}

	path, err := a.Path(name)
	if err != nil {
		return "", err
	}

	data, err := codec.Encode(v)
	if err != nil {
		return "", fmt.Errorf("stage object %q: %w", name, err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("stage object %q: %w", name, err)
	}
	return path, nil
}

// Names lists staged object names in lexical order.
func (a *Area) Names() ([]string, error) {
	if a.released {
		return nil, ErrReleased
	}

	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("read staging directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".tmp-") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Release removes the directory and everything in it. Subsequent calls are no-ops.
func (a *Area) Release() error {
	if a.released {
		return nil
	}
	a.released = true

	if err := os.RemoveAll(a.root); err != nil {
		return fmt.Errorf("remove staging directory: %w", err)
	}
	return nil
}

// Released reports whether Release has been called.
func (a *Area) Released() bool {
	return a.released
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("object name is empty")
	}
	if trimmed != name {
		return fmt.Errorf("object name %q has surrounding whitespace", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid object name %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("object name %q must not contain path separators", name)
	}
	if strings.HasPrefix(name, ".tmp-") {
		return fmt.Errorf("object name %q uses a reserved prefix", name)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
