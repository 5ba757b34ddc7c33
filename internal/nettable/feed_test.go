package nettable

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/goaltrack/internal/timeutil"
)

// fakeMux is a SerialMuxInterface whose single subscription is fed by the test.
type fakeMux struct {
	lines        chan string
	unsubscribed bool
}

func (m *fakeMux) Subscribe() (string, chan string) { return "sub", m.lines }

func (m *fakeMux) Unsubscribe(string) { m.unsubscribed = true }

func (m *fakeMux) SendCommand(string) error { return nil }

func (m *fakeMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *fakeMux) Close() error { return nil }

func (m *fakeMux) AttachAdminRoutes(*http.ServeMux) {}

func TestLineFeed_AppliesLines(t *testing.T) {
	table := New("t")
	mux := &fakeMux{lines: make(chan string, 8)}
	feed := NewLineFeed(mux, table)

	mux.lines <- `{"area":[10,20],"width":[1,2]}`
	mux.lines <- `# exposure=3`
	mux.lines <- ``
	mux.lines <- `{"area":[oops`
	mux.lines <- `hello`
	mux.lines <- `{"key":"height","value":[7,8]}`
	close(mux.lines)

	require.NoError(t, feed.Run(context.Background()))
	assert.True(t, mux.unsubscribed)

	assert.Equal(t, []float64{10, 20}, table.GetNumberArray(KeyArea, nil))
	assert.Equal(t, []float64{1, 2}, table.GetNumberArray(KeyWidth, nil))
	assert.Equal(t, []float64{7, 8}, table.GetNumberArray(KeyHeight, nil))

	stats := feed.Stats()
	assert.Equal(t, uint64(2), stats.Messages)
	assert.Equal(t, uint64(3), stats.Updates)
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.False(t, stats.LastMessage.IsZero())
}

func TestLineFeed_StopsOnCancel(t *testing.T) {
	mux := &fakeMux{lines: make(chan string)}
	feed := NewLineFeed(mux, New("t"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := feed.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUDPFeed_Run(t *testing.T) {
	good, err := EncodeDatagram(map[string][]float64{"area": {5}, "centerX": {160}})
	require.NoError(t, err)

	socket := NewMockUDPSocket(good, []byte{0xff, 0x01}, good)
	factory := &MockUDPSocketFactory{Socket: socket}
	table := New("t")
	feed := NewUDPFeed(UDPFeedConfig{Address: "127.0.0.1:5800", RcvBuf: 1 << 16, Factory: factory}, table)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	select {
	case <-socket.Drained:
	case <-time.After(2 * time.Second):
		t.Fatal("socket not drained")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}

	assert.True(t, socket.Closed)
	assert.Equal(t, 1<<16, socket.ReadBufferSize)
	require.Len(t, factory.Addrs, 1)
	assert.Equal(t, 5800, factory.Addrs[0].Port)

	assert.Equal(t, []float64{5}, table.GetNumberArray(KeyArea, nil))
	stats := feed.Stats()
	assert.Equal(t, uint64(2), stats.Messages)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestUDPFeed_DropsNonFiniteDatagram(t *testing.T) {
	table := New("t")
	feed := NewUDPFeed(UDPFeedConfig{Address: "127.0.0.1:5800"}, table)

	err := feed.HandleDatagram(nonFiniteDatagram(t, "centerX", math.NaN()))
	assert.ErrorIs(t, err, ErrNotFinite)
	assert.False(t, table.Contains(KeyArea), "no key of a rejected datagram is applied")
	assert.False(t, table.Contains(KeyCenterX))

	stats := feed.Stats()
	assert.Equal(t, uint64(0), stats.Messages)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestUDPFeed_ListenError(t *testing.T) {
	factory := &MockUDPSocketFactory{Error: errors.New("address in use")}
	feed := NewUDPFeed(UDPFeedConfig{Address: "127.0.0.1:5800", Factory: factory}, New("t"))
	err := feed.Run(context.Background())
	assert.ErrorContains(t, err, "address in use")
}

func TestUDPFeed_ClosedSocket(t *testing.T) {
	socket := NewMockUDPSocket()
	socket.ReadError = net.ErrClosed
	feed := NewUDPFeed(UDPFeedConfig{Address: "127.0.0.1:5800", Factory: &MockUDPSocketFactory{Socket: socket}}, New("t"))
	err := feed.Run(context.Background())
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestUDPFeed_ReadDeadlineFromClock(t *testing.T) {
	start := time.Date(2016, 3, 19, 14, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	socket := NewMockUDPSocket()
	socket.ReadError = net.ErrClosed
	feed := NewUDPFeed(UDPFeedConfig{
		Address: "127.0.0.1:5800",
		Factory: &MockUDPSocketFactory{Socket: socket},
		Clock:   clock,
	}, New("t"))

	err := feed.Run(context.Background())
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Equal(t, []time.Time{start.Add(100 * time.Millisecond)}, socket.Deadlines)
}

func TestUDPFeed_ReadDeadlineError(t *testing.T) {
	socket := NewMockUDPSocket()
	socket.DeadlineError = errors.New("bad file descriptor")
	feed := NewUDPFeed(UDPFeedConfig{Address: "127.0.0.1:5800", Factory: &MockUDPSocketFactory{Socket: socket}}, New("t"))

	err := feed.Run(context.Background())
	assert.ErrorContains(t, err, "failed to set UDP read deadline")
	assert.ErrorContains(t, err, "bad file descriptor")
	assert.True(t, socket.Closed)
	assert.Equal(t, 0, socket.ReadIndex)
}

func TestUDPFeed_BadAddress(t *testing.T) {
	feed := NewUDPFeed(UDPFeedConfig{Address: "not an address"}, New("t"))
	assert.Error(t, feed.Run(context.Background()))
}
