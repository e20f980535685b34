// Package storage resolves relative destination paths into absolute ones
// by storage class.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Class selects the root a relative path is resolved against.
type Class int

// Known storage classes. ClassSave is the writable data directory,
// ClassBinary the directory holding the running executable and
// ClassAbsolute accepts already absolute paths unchanged.
const (
	ClassAbsolute Class = -3
	ClassBinary   Class = -2
	ClassSave     Class = 0
)

var (
	ErrUnknownClass = errors.New("unknown storage class")
	ErrUnsafePath   = errors.New("path escapes storage root")
)

// Dirs maps storage classes to root directories.
type Dirs struct {
	roots  map[Class]string
	binDir string
}

// New returns a Dirs using save as the root of ClassSave. Additional classes
// can be registered with Add.
func New(save string) (*Dirs, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}

	d := &Dirs{
		roots:  make(map[Class]string),
		binDir: filepath.Dir(exe),
	}

	if err := d.Add(ClassSave, save); err != nil {
		return nil, err
	}

	return d, nil
}

// Add registers root for class. Relative roots are made absolute against the
// working directory.
func (d *Dirs) Add(class Class, root string) error {
	if class == ClassBinary || class == ClassAbsolute {
		return fmt.Errorf("%w: class %d is reserved", ErrUnknownClass, class)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root %q: %w", root, err)
	}

	d.roots[class] = abs

	return nil
}

// ResolvePath returns the absolute path of path within class. Paths for
// rooted classes must stay inside their root.
func (d *Dirs) ResolvePath(class Class, path string) (string, error) {
	switch class {
	case ClassAbsolute:
		if !filepath.IsAbs(path) {
			return "", fmt.Errorf("%w: %q is not absolute", ErrUnsafePath, path)
		}
		return filepath.Clean(path), nil

	case ClassBinary:
		return join(d.binDir, path)
	}

	root, ok := d.roots[class]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownClass, class)
	}

	return join(root, path)
}

func join(root, path string) (string, error) {
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, path)
	}

	return filepath.Join(root, path), nil
}
