package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// lineWriter fans formatted lines out to every sink from a single goroutine so
// that callers never block on disk or terminal I/O.
type lineWriter struct {
	lines   chan []byte
	flushes chan chan error
	stopped chan struct{}
	stop    sync.Once

	mu    sync.Mutex
	sinks []*bufio.Writer
	err   error
}

func newLineWriter(outputs []io.Writer, bufSize int) *lineWriter {
	w := &lineWriter{
		lines:   make(chan []byte, 256),
		flushes: make(chan chan error),
		stopped: make(chan struct{}),
	}
	for _, o := range outputs {
		if o != nil {
			w.sinks = append(w.sinks, bufio.NewWriterSize(o, bufSize))
		}
	}
	go w.run()
	return w
}

func (w *lineWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.flushSinks()
				return
			}
			w.recordErr(w.writeLine(line))
		case reply := <-w.flushes:
			reply <- w.flushSinks()
		}
	}
}

// Write queues a copy of p. When the queue is full it blocks rather than drop lines.
func (w *lineWriter) Write(p []byte) error {
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.lines <- append([]byte(nil), p...)
	return nil
}

// Flush blocks until every queued line has reached the sinks.
func (w *lineWriter) Flush() error {
	select {
	case <-w.stopped:
		return w.firstErr()
	default:
	}
	reply := make(chan error, 1)
	w.flushes <- reply
	return errors.Join(<-reply, w.firstErr())
}

// Close drains the queue and stops the writer goroutine.
func (w *lineWriter) Close() error {
	w.stop.Do(func() { close(w.lines) })
	<-w.stopped
	return w.firstErr()
}

func (w *lineWriter) writeLine(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.sinks {
		if _, err := s.Write(p); err != nil {
			return err
		}
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *lineWriter) flushSinks() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, s := range w.sinks {
		errs = append(errs, s.Flush())
	}
	return errors.Join(errs...)
}

func (w *lineWriter) firstErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *lineWriter) recordErr(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
