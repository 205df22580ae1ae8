package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SourceFile is one feed file as seen by a FileSource
type SourceFile struct {
	Name    string
	Path    string
	ModTime time.Time
}

// key identifies the file for change tracking
func (f SourceFile) key() string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name
}

// FileSource enumerates feed files and reads their content
type FileSource interface {
	List(ctx context.Context) ([]SourceFile, error)
	Read(ctx context.Context, file SourceFile) ([]byte, error)
}

// DirSource lists files matching a glob pattern in one directory
type DirSource struct {
	Dir     string
	Pattern string
}

// NewDirSource creates a source over the *.txt files of dir
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir, Pattern: "*.txt"}
}

// List returns regular files matching the pattern sorted by name
func (d *DirSource) List(ctx context.Context) ([]SourceFile, error) {
	if _, err := os.Stat(d.Dir); err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	paths, err := filepath.Glob(filepath.Join(d.Dir, d.Pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	sort.Strings(paths)

	files := make([]SourceFile, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			// removed between glob and stat
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, SourceFile{
			Name:    filepath.Base(p),
			Path:    p,
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

// Read returns the file content
func (d *DirSource) Read(_ context.Context, file SourceFile) ([]byte, error) {
	content, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
	}
	return content, nil
}
