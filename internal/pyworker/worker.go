// Package pyworker runs the face encoder as a long-lived child process.
//
// Frames go to the child on stdin as [uint32 big-endian length][image bytes].
// Replies come back on a dedicated pipe that the child sees as file
// descriptor 3, framed the same way, so anything the child prints on
// stdout or stderr cannot corrupt the protocol.
package pyworker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// maxReplySize bounds a single reply; a corrupt header must not allocate gigabytes.
const maxReplySize = 64 << 20

// ErrWorkerClosed is returned by Communicate after Close.
var ErrWorkerClosed = errors.New("worker is closed")

// Command describes how to launch the worker process.
type Command struct {
	Path string
	Args []string
	Env  []string
}

// Worker is one child process at a time. Communicate is safe for concurrent
// use; calls are serialized because the child handles one frame at a time.
// After an i/o failure the child is torn down and the next call starts a
// fresh one. Only Close makes the worker permanently unusable.
type Worker struct {
	command Command

	mu       sync.Mutex
	cmd      *exec.Cmd
	stderr   *syncBuffer
	stdin    io.WriteCloser
	dataPipe io.ReadCloser
	running  bool
	closed   bool
	restarts int
}

// Start launches the worker process.
func Start(c Command) (*Worker, error) {
	w := &Worker{command: c}
	if err := w.spawn(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Worker) spawn() error {
	c := w.command
	cmd := exec.Command(c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	r, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create data pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{pw}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("failed to start %s: %w", c.Path, err)
	}

	// Only the child may hold the write end, otherwise EOF never arrives when it dies.
	pw.Close()

	w.cmd, w.stderr, w.stdin, w.dataPipe = cmd, stderr, stdin, r
	w.running = true
	return nil
}

// Communicate sends one frame and waits for the reply.
func (w *Worker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWorkerClosed
	}
	if !w.running {
		if err := w.spawn(); err != nil {
			return nil, fmt.Errorf("failed to restart worker: %w", err)
		}
		w.restarts++
	}

	if err := binary.Write(w.stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, w.fail(err)
	}
	if _, err := w.stdin.Write(data); err != nil {
		return nil, w.fail(err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.dataPipe, header); err != nil {
		return nil, w.fail(err)
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxReplySize {
		return nil, w.fail(fmt.Errorf("worker reply of %d bytes exceeds limit", size))
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(w.dataPipe, body); err != nil {
		return nil, w.fail(err)
	}
	return body, nil
}

// Restarts reports how many times a failed child has been replaced.
func (w *Worker) Restarts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restarts
}

// Stderr returns what the current child has written to stderr so far.
func (w *Worker) Stderr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stderr.String()
}

// Close stops the worker and waits for it to exit.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.running {
		return nil
	}
	w.running = false
	w.stdin.Close()
	w.dataPipe.Close()
	return w.cmd.Wait()
}

// fail tears the child down after a protocol or pipe error. The stream
// cannot be resynchronized, so the next call starts a new child. Waiting for
// the process also flushes its stderr into the buffer.
func (w *Worker) fail(err error) error {
	w.running = false
	w.stdin.Close()
	w.dataPipe.Close()
	_ = w.cmd.Process.Kill()
	_ = w.cmd.Wait()
	if logs := w.stderr.String(); logs != "" {
		return fmt.Errorf("worker i/o failed: %w (stderr: %s)", err, lastLine(logs))
	}
	return fmt.Errorf("worker i/o failed: %w", err)
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// syncBuffer collects stderr, which exec copies from its own goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
