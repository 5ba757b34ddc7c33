// Package health reports vision feed freshness through the standard gRPC
// health service, so the driver station can tell when the camera has gone
// quiet.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/goaltrack/internal/monitoring"
	"github.com/banshee-data/goaltrack/internal/timeutil"
)

// FeedService is the health service name for the vision feed.
const FeedService = "goaltrack.Feed"

// LastUpdate returns the instant of the most recent vision data.
type LastUpdate func() time.Time

// Monitor flips FeedService between SERVING and NOT_SERVING as the feed
// goes fresh and stale.
type Monitor struct {
	server     *health.Server
	lastUpdate LastUpdate
	staleAfter time.Duration

	mu     sync.Mutex
	status healthpb.HealthCheckResponse_ServingStatus
}

// NewMonitor returns a monitor that treats the feed as stale when
// lastUpdate is more than staleAfter old. The feed starts NOT_SERVING.
func NewMonitor(lastUpdate LastUpdate, staleAfter time.Duration) *Monitor {
	m := &Monitor{
		server:     health.NewServer(),
		lastUpdate: lastUpdate,
		staleAfter: staleAfter,
		status:     healthpb.HealthCheckResponse_NOT_SERVING,
	}
	m.server.SetServingStatus(FeedService, m.status)
	return m
}

// Server returns the underlying health server for registration.
func (m *Monitor) Server() *health.Server {
	return m.server
}

// Status returns the last status set by Check.
func (m *Monitor) Status() healthpb.HealthCheckResponse_ServingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Check updates the feed status as of now and returns it.
func (m *Monitor) Check(now time.Time) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if last := m.lastUpdate(); !last.IsZero() && now.Sub(last) <= m.staleAfter {
		status = healthpb.HealthCheckResponse_SERVING
	}

	m.mu.Lock()
	changed := status != m.status
	m.status = status
	m.mu.Unlock()

	if changed {
		monitoring.Logf("[health] %s is now %s", FeedService, status)
		m.server.SetServingStatus(FeedService, status)
	}
	return status
}

// Run calls Check every period until ctx is done.
func (m *Monitor) Run(ctx context.Context, clock timeutil.Clock, period time.Duration) {
	ticker := clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			m.Check(now)
		}
	}
}

// Serve listens on addr and serves the health service until ctx is done.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return m.ServeListener(ctx, lis)
}

// ServeListener serves the health service on lis until ctx is done.
func (m *Monitor) ServeListener(ctx context.Context, lis net.Listener) error {
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, m.server)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		m.server.Shutdown()
		server.GracefulStop()
	}()

	monitoring.Logf("[health] gRPC health service listening on %s", lis.Addr())
	err := server.Serve(lis)
	if ctx.Err() != nil {
		<-done
		return nil
	}
	return err
}
