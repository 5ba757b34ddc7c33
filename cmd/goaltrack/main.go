package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/goaltrack/internal/calibration"
	"github.com/banshee-data/goaltrack/internal/config"
	"github.com/banshee-data/goaltrack/internal/diag"
	"github.com/banshee-data/goaltrack/internal/health"
	"github.com/banshee-data/goaltrack/internal/monitoring"
	"github.com/banshee-data/goaltrack/internal/nettable"
	"github.com/banshee-data/goaltrack/internal/serialmux"
	"github.com/banshee-data/goaltrack/internal/timeutil"
	"github.com/banshee-data/goaltrack/internal/version"
	"github.com/banshee-data/goaltrack/internal/vision"
)

// TableName is the table the vision pipeline publishes contour reports to.
const TableName = "GRIP/myContoursReport"

var (
	configPath  = flag.String("config", "", "Path to a goaltrack JSON config file")
	profileName = flag.String("profile", "", "Calibration profile: proto or competition")
	strategy    = flag.String("strategy", "", "Acquisition strategy: poll or listener")
	feedName    = flag.String("feed", "", "Table feed: serial, udp or disabled")
	port        = flag.String("port", "", "Serial port for the vision coprocessor")
	udpAddr     = flag.String("udp", "", "UDP listen address for table datagrams")
	listen      = flag.String("listen", "", "Debug HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address")
	devMode     = flag.Bool("dev", false, "Replay fixture lines instead of opening the serial port")
	fixtures    = flag.String("fixtures", "config/fixtures.jsonl", "Fixture lines for -dev")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.EmptyConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := applyFlags(cfg, set); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	monitoring.SetVerbose(cfg.GetVerbose())
	log.Printf("starting %s", version.String())

	provider := calibration.NewProvider()
	profile, err := provider.Init(cfg.GetProfile())
	if err != nil {
		log.Fatalf("calibration: %v", err)
	}
	log.Printf("using %s calibration, %s acquisition", profile.Name, cfg.GetStrategy())

	clock := timeutil.RealClock{}
	table := nettable.New(TableName)
	listener := vision.NewListener(table, clock)
	if cfg.GetStrategy() == vision.StrategyListener {
		listener.Start()
		defer listener.Stop()
	}

	tracker, err := vision.NewTracker(table, listener, profile, vision.Options{
		Strategy:             cfg.GetStrategy(),
		CatchUpDelay:         cfg.GetCatchUpDelay(),
		ListenerPollInterval: cfg.GetListenerPollInterval(),
		MaxRetry:             cfg.GetMaxRetry(),
		Clock:                clock,
	})
	if err != nil {
		log.Fatalf("failed to create tracker: %v", err)
	}
	history := diag.NewHistory(cfg.GetHistorySize())

	mux, err := openSerial(cfg)
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}
	defer mux.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var feed diag.FeedStatser
	switch cfg.GetFeed() {
	case config.FeedSerial, config.FeedDisabled:
		lineFeed := nettable.NewLineFeed(mux, table)
		feed = lineFeed

		// run the monitor routine to manage IO on the serial port
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lineFeed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial table feed stopped: %v", err)
			}
			log.Print("serial feed routine terminated")
		}()
	case config.FeedUDP:
		udpFeed := nettable.NewUDPFeed(nettable.UDPFeedConfig{
			Address: cfg.GetUDPAddress(),
			RcvBuf:  cfg.GetUDPRcvBuf(),
		}, table)
		feed = udpFeed

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := udpFeed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP table feed stopped: %v", err)
			}
			log.Print("UDP feed routine terminated")
		}()
	}

	monitor := health.NewMonitor(freshness(cfg.GetStrategy(), listener, feed), cfg.GetStaleAfter())
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx, clock, time.Second)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.Serve(ctx, cfg.GetGRPCListen()); err != nil {
			log.Printf("gRPC health server error: %v", err)
		}
		log.Print("gRPC health routine terminated")
	}()

	// control loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		runControlLoop(ctx, clock, cfg.GetControlPeriod(), tracker, history, cfg.GetWaitForNewData())
		log.Print("control loop terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpMux := http.NewServeMux()
		mux.AttachAdminRoutes(httpMux)
		diag.AttachAdminRoutes(httpMux, diag.Sources{
			History:  history,
			Profile:  profile,
			Strategy: tracker.Strategy(),
			Listener: listener,
			Feed:     feed,
			Table:    table,
		})

		server := &http.Server{
			Addr:    cfg.GetDebugListen(),
			Handler: httpMux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// applyFlags copies explicitly set flags over the file config.
func applyFlags(cfg *config.GoaltrackConfig, set map[string]bool) error {
	str := func(name string, v *string) *string {
		if set[name] {
			s := *v
			return &s
		}
		return nil
	}
	if v := str("profile", profileName); v != nil {
		cfg.Profile = v
	}
	if v := str("strategy", strategy); v != nil {
		cfg.Strategy = v
	}
	if v := str("feed", feedName); v != nil {
		cfg.Feed = v
	}
	if v := str("port", port); v != nil {
		cfg.SerialPort = v
	}
	if v := str("udp", udpAddr); v != nil {
		cfg.UDPAddress = v
	}
	if v := str("listen", listen); v != nil {
		cfg.DebugListen = v
	}
	if v := str("grpc-listen", grpcListen); v != nil {
		cfg.GRPCListen = v
	}
	if set["verbose"] {
		v := *verbose
		cfg.Verbose = &v
	}
	if *devMode && cfg.Feed == nil {
		serialFeed := config.FeedSerial
		cfg.Feed = &serialFeed
	}
	return cfg.Validate()
}

func openSerial(cfg *config.GoaltrackConfig) (serialmux.SerialMuxInterface, error) {
	if cfg.GetFeed() != config.FeedSerial {
		return serialmux.NewDisabledSerialMux(), nil
	}
	if *devMode {
		lines, err := readFixtures(*fixtures)
		if err != nil {
			return nil, err
		}
		return serialmux.NewMockSerialMux(lines, 100*time.Millisecond), nil
	}
	mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), cfg.GetSerialOptions())
	if err != nil {
		return nil, err
	}
	return mux, nil
}

func readFixtures(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("fixtures file %s is empty", path)
	}
	return lines, scanner.Err()
}

// freshness picks the instant health checks compare against: the oldest
// listener field for the listener strategy, otherwise the last feed message.
func freshness(s vision.Strategy, l *vision.Listener, feed diag.FeedStatser) health.LastUpdate {
	if s == vision.StrategyListener {
		return l.OldestTimestamp
	}
	return func() time.Time {
		if feed == nil {
			return time.Time{}
		}
		return feed.Stats().LastMessage
	}
}

// runControlLoop acquires once per tick until ctx is done.
func runControlLoop(ctx context.Context, clock timeutil.Clock, period time.Duration, tracker *vision.Tracker, history *diag.History, wait bool) {
	ticker := clock.NewTicker(period)
	defer ticker.Stop()

	var wasFound bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			wasFound = step(tracker, history, wait, wasFound)
		}
	}
}

// step runs one acquisition, records it and logs target gain and loss.
func step(tracker *vision.Tracker, history *diag.History, wait, wasFound bool) bool {
	est, err := tracker.Acquire(wait)
	if err != nil {
		monitoring.Debugf("[tracker] %v", err)
	}
	history.Record(est, est.Gates(tracker.Profile()))

	if est.Found != wasFound {
		if est.Found {
			monitoring.Logf("[tracker] target acquired: turn %.2f deg, %.2f ft", est.TurnAngleDegrees, est.HorizontalFeet)
		} else {
			monitoring.Logf("[tracker] target lost after %d reads", est.Attempts)
		}
	}
	return est.Found
}
