package process

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// maxLine caps a buffered partial line; longer output is flushed as is.
const maxLine = 64 * 1024

// lineWriter splits child output into lines and logs each one. When file is
// set every byte is also written there unchanged.
type lineWriter struct {
	mu     sync.Mutex
	log    *slog.Logger
	level  slog.Level
	stream string
	file   io.WriteCloser
	buf    []byte
}

func newLineWriter(log *slog.Logger, level slog.Level, stream string, file io.WriteCloser) *lineWriter {
	return &lineWriter{log: log, level: level, stream: stream, file: file}
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_, _ = w.file.Write(b)
	}
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(b), nil
}

// Close flushes a trailing partial line and closes the file, if any.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.log.Log(context.Background(), w.level, string(line), "stream", w.stream)
}
