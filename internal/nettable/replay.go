package nettable

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/goaltrack/internal/monitoring"
	"github.com/banshee-data/goaltrack/internal/timeutil"
)

// ReplayConfig controls ReplayPCAP.
type ReplayConfig struct {
	// UDPPort keeps only datagrams sent to this port. Zero keeps all UDP.
	UDPPort int
	// Pace sleeps between datagrams to match capture timing.
	Pace bool
	// Speed scales paced playback; values <= 0 mean real time.
	Speed float64
	Clock timeutil.Clock
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets   int
	Datagrams int
	Errors    int
	Duration  time.Duration
}

// CaptureHandler receives each UDP payload with its capture timestamp.
type CaptureHandler func(payload []byte, captured time.Time) error

// ReplayPCAP reads a pcap capture of vision UDP traffic and hands each
// matching payload to handle, in capture order. Handler errors are counted
// and logged; the replay continues.
func ReplayPCAP(ctx context.Context, r io.Reader, cfg ReplayConfig, handle CaptureHandler) (ReplayStats, error) {
	var stats ReplayStats
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = 1
	}

	reader, err := pcapgo.NewReader(bufio.NewReader(r))
	if err != nil {
		return stats, fmt.Errorf("failed to open pcap capture: %w", err)
	}
	source := gopacket.NewPacketSource(reader, reader.LinkType())

	var first, prev time.Time
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.UDPPort != 0 && int(udp.DstPort) != cfg.UDPPort {
			continue
		}

		captured := packet.Metadata().Timestamp
		if first.IsZero() {
			first = captured
		}
		if cfg.Pace && !prev.IsZero() {
			if gap := captured.Sub(prev); gap > 0 {
				cfg.Clock.Sleep(time.Duration(float64(gap) / speed))
			}
		}
		prev = captured

		stats.Datagrams++
		if err := handle(udp.Payload, captured); err != nil {
			stats.Errors++
			monitoring.Logf("[replay] packet %d: %v", stats.Packets, err)
		}
	}

	if !first.IsZero() {
		stats.Duration = prev.Sub(first)
	}
	return stats, nil
}
