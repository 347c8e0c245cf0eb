package mcpproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fluidmcp/gateway/internal/errs"
)

// ErrProtocolViolation marks a stdout line that failed to parse as a
// single JSON object. ReadMessage does not return it: the Correlator's
// Run loop parses each line itself, logs and discards one that is not
// valid JSON, and the child keeps running. No synthetic error is produced.
var ErrProtocolViolation = errors.New("mcpproc: protocol violation")

const defaultWriteTimeout = 5 * time.Second

// Framer owns a child's stdin/stdout pipes and frames newline-delimited
// JSON-RPC messages, per spec.md §4.1. It tolerates children that flush
// intermediate whitespace (blank scanned lines are skipped) and ignores
// non-JSON stderr chatter (stderr is tapped separately via StderrTap,
// never parsed as protocol). Grounded in the teacher's StdioWorker pipe
// setup and RevittCo-mcplexer's scanner-with-buffer read pattern.
type Framer struct {
	stdin        io.WriteCloser
	reader       *bufio.Scanner
	writeTimeout time.Duration
	writeCh      chan writeReq
}

type writeReq struct {
	data []byte
	done chan error
}

// NewFramer wraps a child's stdin/stdout. maxLineBytes bounds a single
// JSON-RPC line (default 4MiB, matching the SSE scanner buffer size
// other example repos use for oversized tool-list responses).
func NewFramer(stdin io.WriteCloser, stdout io.Reader, writeTimeout time.Duration, maxLineBytes int) *Framer {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if maxLineBytes <= 0 {
		maxLineBytes = 4 * 1024 * 1024
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	f := &Framer{
		stdin:        stdin,
		reader:       scanner,
		writeTimeout: writeTimeout,
		writeCh:      make(chan writeReq),
	}
	go f.writeLoop()
	return f
}

// writeLoop serializes all writes to stdin so that concurrent callers of
// the same child never interleave bytes on the wire (spec.md §4.2's "one
// writer per child").
func (f *Framer) writeLoop() {
	for req := range f.writeCh {
		_, err := f.stdin.Write(req.data)
		req.done <- err
	}
}

// WriteMessage writes a single JSON-RPC message (without trailing
// newline; it is appended here) to the child's stdin, serialized against
// other writers. It blocks up to the configured write timeout before
// failing with kind=child-write-timeout, per spec.md §4.1's backpressure
// rule.
func (f *Framer) WriteMessage(ctx context.Context, data []byte) error {
	line := append(append([]byte{}, data...), '\n')
	done := make(chan error, 1)

	select {
	case f.writeCh <- writeReq{data: line, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.writeTimeout):
		return errs.New(errs.ChildWriteTimeout, "timed out queuing write to child stdin")
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write to child stdin: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.writeTimeout):
		return errs.New(errs.ChildWriteTimeout, "timed out writing to child stdin")
	}
}

// ReadMessage reads the next framed line from stdout and returns it with
// surrounding whitespace trimmed, skipping blank lines. It does not check
// that the line is valid JSON; that is left to the caller.
func (f *Framer) ReadMessage() (raw []byte, err error) {
	for {
		if !f.reader.Scan() {
			if err := f.reader.Err(); err != nil {
				return nil, fmt.Errorf("read child stdout: %w", err)
			}
			return nil, io.EOF
		}
		line := f.reader.Bytes()
		trimmed := trimSpace(line)
		if len(trimmed) == 0 {
			continue // tolerate blank/whitespace-only flushes
		}
		out := make([]byte, len(trimmed))
		copy(out, trimmed)
		return out, nil
	}
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// Close closes the child's stdin, signaling EOF to the child as the
// first step of shutdown (spec.md §4.1).
func (f *Framer) Close() error {
	close(f.writeCh)
	return f.stdin.Close()
}

// StderrTap reads lines from stderr and pushes each into ring, including
// a final line with no trailing newline. It runs until stderr hits EOF or
// an error; callers launch it as its own goroutine per child.
func StderrTap(stderr io.Reader, ring *LogRing) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring.Push(StreamStderr, scanner.Text())
	}
}

// StdoutTap mirrors every successfully parsed stdout line into ring for
// observability, independent of JSON-RPC correlation.
func StdoutTap(line []byte, ring *LogRing) {
	ring.Push(StreamStdout, string(line))
}
