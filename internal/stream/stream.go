// Package stream relays server-sent event bodies from the backend to clients.
//
// Bytes are copied through untouched; the relay only observes them to count
// event frames and flushes after every chunk so events reach the browser as
// soon as the backend emits them.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const bufferSize = 32 * 1024

// Stats summarises a finished relay.
type Stats struct {
	Bytes  int64
	Events int
}

// ReadError wraps a failure reading from the backend body.
type ReadError struct{ Err error }

func (e *ReadError) Error() string { return fmt.Sprintf("read upstream: %v", e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failure writing to the client.
type WriteError struct{ Err error }

func (e *WriteError) Error() string { return fmt.Sprintf("write client: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Relay copies src to w until EOF. When w implements http.Flusher it is
// flushed after every chunk. The returned stats cover everything written
// before an error, if any.
func Relay(w io.Writer, src io.Reader) (Stats, error) {
	var (
		stats   Stats
		counter FrameCounter
		buf     = make([]byte, bufferSize)
	)
	flusher, _ := w.(http.Flusher)

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			written, werr := w.Write(chunk)
			stats.Bytes += int64(written)
			_, _ = counter.Write(chunk[:written])
			stats.Events = counter.Frames()
			if werr == nil && written < n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return stats, &WriteError{Err: werr}
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return stats, nil
			}
			return stats, &ReadError{Err: rerr}
		}
	}
}

// FrameCounter counts server-sent event frames in a byte stream. A frame ends
// at a blank line that follows at least one non-blank line. LF, CRLF and CR
// line endings are accepted and frames may span any number of writes.
type FrameCounter struct {
	frames    int
	lineLen   int
	inFrame   bool
	pendingCR bool
}

// Write implements io.Writer. It never fails.
func (c *FrameCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		switch b {
		case '\r':
			c.endLine()
			c.pendingCR = true
		case '\n':
			if c.pendingCR {
				c.pendingCR = false
				continue
			}
			c.endLine()
		default:
			c.pendingCR = false
			c.lineLen++
		}
	}
	return len(p), nil
}

// Frames returns the number of complete frames seen so far.
func (c *FrameCounter) Frames() int {
	return c.frames
}

func (c *FrameCounter) endLine() {
	if c.lineLen > 0 {
		c.inFrame = true
	} else if c.inFrame {
		c.frames++
		c.inFrame = false
	}
	c.lineLen = 0
}

// forcedHeaders are set on every relayed response regardless of what the
// backend sent.
var forcedHeaders = [][2]string{
	{"Content-Type", "text/event-stream"},
	{"Cache-Control", "no-cache"},
	{"Connection", "keep-alive"},
	{"X-Accel-Buffering", "no"},
}

// SetHeaders overrides the event-stream transport headers on h.
func SetHeaders(h http.Header) {
	for _, kv := range forcedHeaders {
		h.Set(kv[0], kv[1])
	}
}

// WriteErrorEvent writes a single "error" event whose data is a JSON object
// carrying message.
func WriteErrorEvent(w io.Writer, message string) error {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return fmt.Errorf("encode error event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: error\ndata: %s\n\n", data); err != nil {
		return &WriteError{Err: err}
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
