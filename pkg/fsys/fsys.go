// Package fsys is the filesystem boundary used by steps, sources and
// storage targets.
package fsys

import (
	"fmt"
	"os"
	"path/filepath"
)

// FS is the set of filesystem operations a pipeline run needs.
type FS interface {
	// ReadDir lists entry names of dir in the order the directory yields them.
	ReadDir(dir string) ([]string, error)
	ReadFile(path string) ([]byte, error)
	// WriteFile writes data, creating missing parent directories.
	WriteFile(path string, data []byte) error
	MkdirAll(dir string) error
}

// OS is the FS backed by the host filesystem.
type OS struct{}

// ReadDir uses File.ReadDir rather than os.ReadDir so that entries keep
// the directory's own ordering.
func (OS) ReadDir(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OS) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (OS) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Resolve joins p onto workDir unless p is already absolute.
func Resolve(workDir, p string) string {
	if p == "" {
		return workDir
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(workDir, p)
}

// FileParts splits a path into the bindings exposed to for-each-file
// children: the full path, the base name without extension and the
// extension including its dot.
func FileParts(path string) (filePath, fileName, ext string) {
	base := filepath.Base(path)
	ext = filepath.Ext(base)
	return path, base[:len(base)-len(ext)], ext
}
