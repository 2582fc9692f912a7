package sink

import (
	"context"
	"os"
	"path/filepath"
)

// DefaultFolderName is created under the user's desktop.
const DefaultFolderName = "Responsively-Screenshots"

// DefaultFolder returns ~/Desktop/Responsively-Screenshots.
func DefaultFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFolderName
	}
	return filepath.Join(home, "Desktop", DefaultFolderName)
}

// Folder writes images as files in a directory, creating it on first use.
type Folder struct {
	dir string
}

// NewFolder creates a Folder sink. An empty dir selects DefaultFolder.
func NewFolder(dir string) *Folder {
	if dir == "" {
		dir = DefaultFolder()
	}
	return &Folder{dir: dir}
}

// Dir returns the target directory.
func (f *Folder) Dir() string { return f.dir }

func (f *Folder) WriteImage(_ context.Context, buf []byte, name string) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return &PersistError{Sink: "folder", Name: name, Err: err}
	}
	if err := os.WriteFile(filepath.Join(f.dir, sanitize(name)), buf, 0o644); err != nil {
		return &PersistError{Sink: "folder", Name: name, Err: err}
	}
	return nil
}

func (f *Folder) Close() error { return nil }
