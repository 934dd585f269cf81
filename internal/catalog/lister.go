package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo is one candidate log file found under a root.
type FileInfo struct {
	Path    string
	ModTime time.Time
}

// Lister enumerates candidate log files under a single root. A root that
// cannot be opened is reported as an error; unreadable entries below it
// are skipped.
type Lister interface {
	List(root string) ([]FileInfo, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(root string) ([]FileInfo, error)

func (f ListerFunc) List(root string) ([]FileInfo, error) {
	return f(root)
}

// FSLister walks the local filesystem for *.jsonl files.
type FSLister struct{}

func (FSLister) List(root string) ([]FileInfo, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Continue walking, ignore inaccessible entries
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".jsonl") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, FileInfo{Path: path, ModTime: fi.ModTime()})
		return nil
	})
	return files, err
}
