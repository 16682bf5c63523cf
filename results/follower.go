package results

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// Follower reads a file that another process keeps appending to. Every call
// to ReadNew delivers only the bytes written since the previous call.
type Follower struct {
	path string

	mu     sync.Mutex
	offset int64
}

func NewFollower(path string) *Follower {
	return &Follower{path: path}
}

func (f *Follower) Path() string {
	return f.path
}

// Offset is the number of bytes delivered so far. It never decreases.
func (f *Follower) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// ReadNew hands the unread tail of the file to consume. A missing file or a
// file that did not grow yields no call and no error.
func (f *Follower) ReadNew(consume func([]byte) error) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open %s: %w", f.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", f.path, err)
	}
	size := info.Size()
	if size <= f.offset {
		return 0, nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek %s: %w", f.path, err)
	}
	buf := make([]byte, size-f.offset)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if n == 0 {
		return 0, nil
	}
	f.offset += int64(n)
	if consume != nil {
		if err := consume(buf[:n]); err != nil {
			return n, err
		}
	}
	return n, nil
}
