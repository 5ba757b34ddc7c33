package nettable

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/goaltrack/internal/monitoring"
	"github.com/banshee-data/goaltrack/internal/timeutil"
)

// maxDatagram bounds a single table datagram.
const maxDatagram = 64 * 1024

// readTimeout bounds each read so cancellation is noticed.
const readTimeout = 100 * time.Millisecond

// UDPFeedConfig configures a UDPFeed.
type UDPFeedConfig struct {
	Address string
	RcvBuf  int
	// Factory opens the socket; nil uses net.ListenUDP.
	Factory UDPSocketFactory
	// Clock stamps messages and read deadlines; nil uses the real clock.
	Clock timeutil.Clock
}

// UDPFeed receives protobuf table datagrams and applies them to a table.
type UDPFeed struct {
	cfg   UDPFeedConfig
	table *Table
	clock timeutil.Clock
	stats FeedStats
}

// NewUDPFeed returns a feed into table.
func NewUDPFeed(cfg UDPFeedConfig, table *Table) *UDPFeed {
	if cfg.Factory == nil {
		cfg.Factory = RealUDPSocketFactory{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &UDPFeed{cfg: cfg, table: table, clock: cfg.Clock}
}

// Stats returns the feed counters.
func (f *UDPFeed) Stats() FeedSnapshot {
	return f.stats.Snapshot()
}

// Run listens until ctx is done.
func (f *UDPFeed) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", f.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := f.cfg.Factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if f.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(f.cfg.RcvBuf); err != nil {
			monitoring.Logf("[feed] warning: failed to set UDP receive buffer size to %d: %v", f.cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("[feed] UDP table feed listening on %s", f.cfg.Address)

	buffer := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Without a deadline the read could block past cancellation.
		if err := conn.SetReadDeadline(f.clock.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("failed to set UDP read deadline: %w", err)
		}

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("[feed] UDP read error: %v", err)
			continue
		}

		if err := f.HandleDatagram(buffer[:n]); err != nil {
			monitoring.Logf("[feed] dropping datagram from %v: %v", from, err)
		}
	}
}

// HandleDatagram decodes one datagram and applies it.
func (f *UDPFeed) HandleDatagram(b []byte) error {
	updates, err := DecodeDatagram(b)
	if err != nil {
		f.stats.addDropped()
		return err
	}
	f.stats.addMessage(len(b), len(updates), f.clock.Now())
	f.table.Apply(updates)
	return nil
}
