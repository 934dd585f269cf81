package tracker

import (
	"fmt"
	"io"
	"os"
)

// FileReader reads the bytes of path from offset to the current end of
// file and reports the file size observed while reading. An offset past
// the end yields no data and the (smaller) size.
type FileReader interface {
	ReadFrom(path string, offset int64) ([]byte, int64, error)
}

// OSReader reads files from the local filesystem.
type OSReader struct{}

func (OSReader) ReadFrom(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := info.Size()
	if offset >= size {
		return nil, size, nil
	}

	// Bound the read to the size we stat'ed so a concurrent append is
	// picked up whole on the next read rather than half now.
	data, err := io.ReadAll(io.NewSectionReader(f, offset, size-offset))
	if err != nil {
		return nil, size, fmt.Errorf("read %s at %d: %w", path, offset, err)
	}
	return data, size, nil
}
