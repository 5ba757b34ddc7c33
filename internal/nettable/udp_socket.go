package nettable

import (
	"net"
	"time"
)

// UDPSocket is the part of *net.UDPConn the UDP feed reads table
// datagrams through.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// UDPSocketFactory opens the feed's socket.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory opens real sockets with net.ListenUDP.
type RealUDPSocketFactory struct{}

// ListenUDP binds laddr. A nil *net.UDPConn is never returned as a non-nil
// interface.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket replays canned datagrams from the coprocessor's address,
// then reports read timeouts.
type MockUDPSocket struct {
	Packets   [][]byte
	ReadIndex int
	Closed    bool
	// ReadBufferSize is the last value passed to SetReadBuffer.
	ReadBufferSize int
	// ReadError, if set, is returned once by the next ReadFromUDP.
	ReadError error
	// Drained is closed once every packet has been read.
	Drained chan struct{}
	// Deadlines records the values passed to SetReadDeadline.
	Deadlines []time.Time
	// DeadlineError is returned by SetReadDeadline if set.
	DeadlineError error
}

// NewMockUDPSocket creates a new MockUDPSocket with the given packets.
func NewMockUDPSocket(packets ...[]byte) *MockUDPSocket {
	return &MockUDPSocket{Packets: packets, Drained: make(chan struct{})}
}

// ReadFromUDP returns the next packet, or a timeout once all are consumed.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		if m.Drained != nil {
			select {
			case <-m.Drained:
			default:
				close(m.Drained)
			}
		}
		// Avoid spinning the read loop while the test waits.
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	n := copy(b, pkt)
	return n, &net.UDPAddr{IP: net.IPv4(10, 10, 89, 11), Port: 5800}, nil
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.ReadBufferSize = bytes
	return nil
}

// SetReadDeadline records the deadline.
func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	if m.DeadlineError != nil {
		return m.DeadlineError
	}
	m.Deadlines = append(m.Deadlines, t)
	return nil
}

// Close marks the socket as closed.
func (m *MockUDPSocket) Close() error {
	m.Closed = true
	return nil
}

// MockUDPSocketFactory hands out Socket, or fails with Error, recording
// every address asked for.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Error  error
	Addrs  []*net.UDPAddr
}

// ListenUDP records laddr and returns Socket.
func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.Addrs = append(f.Addrs, laddr)
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

// timeoutError is the net.Error a deadline expiry produces.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
