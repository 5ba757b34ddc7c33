// Package serialmux shares the vision coprocessor's serial link. The
// coprocessor prints one table update per line; any number of readers
// (the table feed, the debug tail) get their own copy of every line, and
// camera commands such as exposure changes go back down the same link.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

// ErrWriteFailed is returned when the link accepts only part of a command.
var ErrWriteFailed = errors.New("short write to coprocessor link")

// ErrClosed is returned by SendCommand after Close.
var ErrClosed = errors.New("serial mux closed")

// subscriberBuffer is the per-reader channel depth. A reader that falls
// this far behind misses lines; the link never waits on it.
const subscriberBuffer = 64

// SerialMux fans the coprocessor's lines out to readers. T is the port
// type, so tests can drive it with an in-memory port.
type SerialMux[T SerialPorter] struct {
	port T

	// readersMu guards readers and dropped.
	readersMu sync.Mutex
	readers   map[string]chan string
	dropped   uint64

	writeMu sync.Mutex

	closedMu sync.Mutex
	closed   bool
}

// SerialMuxInterface is what the table feed and the daemon need from a
// coprocessor link, real or not.
type SerialMuxInterface interface {
	// Subscribe registers a reader and returns its id and line channel.
	Subscribe() (string, chan string)
	// Unsubscribe closes and forgets the reader with the given id.
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command to the coprocessor.
	SendCommand(string) error
	// Monitor pumps lines from the link to readers until ctx is done or
	// the link ends.
	Monitor(context.Context) error
	// Close closes every reader channel and then the port.
	Close() error

	// AttachAdminRoutes mounts serial-command and serial-tail under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux wraps port. Nothing is read until Monitor runs.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:    port,
		readers: make(map[string]chan string),
	}
}

// Subscribe registers a reader. The channel is closed by Unsubscribe or
// Close.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	lines := make(chan string, subscriberBuffer)

	s.readersMu.Lock()
	s.readers[id] = lines
	s.readersMu.Unlock()
	return id, lines
}

// Unsubscribe closes the reader's channel. Unknown ids are ignored.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	lines, ok := s.readers[id]
	if !ok {
		return
	}
	delete(s.readers, id)
	close(lines)
}

func (s *SerialMux[T]) isClosed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed
}

// SendCommand writes command to the coprocessor, adding the trailing
// newline it expects.
func (s *SerialMux[T]) SendCommand(command string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(command))
	switch {
	case err != nil:
		return fmt.Errorf("failed to send %q: %w", strings.TrimSpace(command), err)
	case n < len(command):
		return ErrWriteFailed
	}
	return nil
}

// Dropped counts lines a full reader channel did not receive.
func (s *SerialMux[T]) Dropped() uint64 {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	return s.dropped
}

// broadcast hands line to every reader without blocking.
func (s *SerialMux[T]) broadcast(line string) {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	for _, lines := range s.readers {
		select {
		case lines <- line:
		default:
			s.dropped++
		}
	}
}

// Monitor reads the link line by line and broadcasts each line. It returns
// ctx.Err() on cancellation, the scanner's error if the link fails, and nil
// at end of input or after Close.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// Scanning blocks on the port, so it runs apart from the select below.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.port)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line, ok := <-lines:
			if !ok {
				// end of input; the scanner may still have reported an error
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if s.isClosed() {
				return nil
			}
			s.broadcast(line)
		}
	}
}

// Close closes every reader channel and the port. Later calls are no-ops.
func (s *SerialMux[T]) Close() error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	s.readersMu.Lock()
	for id, lines := range s.readers {
		delete(s.readers, id)
		close(lines)
	}
	s.readersMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes mounts the link's debug routes through tsweb.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachRoutes(tsweb.Debugger(mux), s)
}

// debugRouter is the subset of *tsweb.DebugHandler used to register routes.
type debugRouter interface {
	HandleSilentFunc(string, http.HandlerFunc)
}

func attachRoutes(debug debugRouter, s SerialMuxInterface) {
	// API endpoint to write a command to the coprocessor.
	debug.HandleSilentFunc("serial-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events stream of lines coming from the coprocessor.
	debug.HandleSilentFunc("serial-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
