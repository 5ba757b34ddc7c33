package serialmux

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// MockSerialPort implements SerialPorter for dev mode. Reads come from a
// pipe fed by a replay goroutine; writes are captured in memory.
type MockSerialPort struct {
	io.Reader
	mu      sync.Mutex
	written bytes.Buffer
	closer  io.Closer
	done    chan struct{}
	once    sync.Once
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// Written returns everything written to the port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *MockSerialPort) Close() error {
	m.once.Do(func() { close(m.done) })
	return m.closer.Close()
}

// NewMockSerialMux creates a SerialMux backed by a mock port that replays
// lines in a loop, one every interval, until the mux is closed.
func NewMockSerialMux(lines [][]byte, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	mockPort := &MockSerialPort{
		Reader: r,
		closer: r,
		done:   make(chan struct{}),
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	go func() {
		defer w.Close()
		if len(lines) == 0 {
			<-mockPort.done
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-mockPort.done:
				return
			case <-ticker.C:
				line := lines[i%len(lines)]
				if !bytes.HasSuffix(line, []byte("\n")) {
					line = append(append([]byte(nil), line...), '\n')
				}
				if _, err := w.Write(line); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(mockPort)
}
