package process

import (
	"bytes"
	"strings"
	"sync"
)

// lineWriter splits everything written to it into lines and hands each
// complete line to emit. A trailing partial line is emitted on Flush.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit LineHandler
}

func newLineWriter(emit LineHandler) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx == -1 {
			break
		}
		line := strings.TrimSuffix(string(w.buf[:idx]), "\r")
		w.buf = w.buf[idx+1:]
		if w.emit != nil {
			w.emit(line)
		}
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) == 0 {
		return
	}
	line := strings.TrimSuffix(string(w.buf), "\r")
	w.buf = nil
	if w.emit != nil {
		w.emit(line)
	}
}
