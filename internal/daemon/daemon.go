package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelmux/internal/config"
	"github.com/allaspectsdev/modelmux/internal/engine"
	"github.com/allaspectsdev/modelmux/internal/health"
	"github.com/allaspectsdev/modelmux/internal/metrics"
	"github.com/allaspectsdev/modelmux/internal/proxy"
	"github.com/allaspectsdev/modelmux/internal/tracing"
	"github.com/allaspectsdev/modelmux/internal/vault"
	"github.com/allaspectsdev/modelmux/internal/version"
)

// Run is the main daemon orchestrator. It builds the routing engine,
// starts the health monitor, the query API and the dashboard, and blocks
// until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "modelmux.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "modelmux").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("modelmux starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("modelmux is already running (PID file exists at %s)", pidPath(dataDir))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing.
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(ctx, tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version.Version,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			return fmt.Errorf("initialising tracing: %w", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.Error().Err(err).Msg("tracing shutdown error")
			}
		}()
		log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing enabled")
	}

	// 4. Build the engine. Keys are resolved through the vault.
	v := vault.New()
	eng, err := engine.FromConfig(ctx, cfg, v, log.Logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	log.Info().Strs("backends", eng.Registry().IDs()).Msg("engine initialized")

	var authToken string
	if cfg.Server.AuthTokenRef != "" {
		authToken, err = v.ResolveKeyRef(cfg.Server.AuthTokenRef)
		if err != nil {
			return fmt.Errorf("resolving auth token: %w", err)
		}
	}

	collector := metrics.NewCollector()

	// 5. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Start config watcher. Log level and routing weights reload live;
	// backend changes need a restart.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	if _, statErr := os.Stat(configFile); statErr == nil {
		watcher, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
				eng.SetWeights(engine.WeightsFromConfig(newCfg.Routing.Weights))
				if pending := restartSections(config.Diff(old, newCfg)); len(pending) > 0 {
					log.Warn().Strs("sections", pending).Msg("changes need a restart to apply")
				}
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 7. Start the health monitor.
	monitor := health.NewMonitor(eng.Health(), eng.Registry().IDs(), eng.Probe, health.MonitorConfig{
		Interval:    cfg.Routing.ProbeInterval(),
		Timeout:     cfg.Routing.ProbeTimeout(),
		Concurrency: cfg.Routing.ProbeConcurrency,
	}, log.Logger)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(ctx)
	}()

	// 8. Start the query API.
	handler := proxy.NewQueryHandler(eng, collector, log.Logger, cfg.Server.MaxBodySize)
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := proxy.NewServer(handler, proxy.ServerOptions{
		Addr:         apiAddr,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Tracing:      cfg.Tracing.Enabled,
		AuthToken:    authToken,
	})

	errCh := make(chan error, 2)

	go func() {
		log.Info().Str("addr", apiAddr).Msg("query API starting")
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("query API: %w", err)
		}
	}()

	// 9. Create and start dashboard server (if enabled).
	var dashServer *metrics.DashboardServer
	if cfg.Dashboard.Enabled {
		dashAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.DashboardPort)
		dashServer = metrics.NewDashboardServer(collector, eng, dashAddr, cfg.Dashboard.AllowedOrigins)

		go func() {
			if err := dashServer.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	log.Info().
		Int("api_port", cfg.Server.APIPort).
		Int("dashboard_port", cfg.Server.DashboardPort).
		Bool("dashboard", cfg.Dashboard.Enabled).
		Msg("modelmux is ready")

	if foreground {
		fmt.Printf("\n  modelmux is running!\n")
		fmt.Printf("  Query API: http://localhost:%d/v1/query\n", cfg.Server.APIPort)
		if cfg.Dashboard.Enabled {
			fmt.Printf("  Dashboard: http://localhost:%d\n", cfg.Server.DashboardPort)
		}
		fmt.Println()
	}

	// 10. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		cancel()
		<-monitorDone
		return err
	}

	// 11. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down servers...")

	if dashServer != nil {
		if err := dashServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("dashboard server shutdown error")
		}
	}

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("query API shutdown error")
	}

	// 12. Stop probing once in-flight queries have drained.
	cancel()
	<-monitorDone

	log.Info().Msg("modelmux stopped")
	return nil
}

// restartSections filters changed config sections down to those that are
// only read at startup. Log level and routing weights apply live.
func restartSections(changed []string) []string {
	var out []string
	for _, name := range changed {
		switch name {
		case "server", "routing":
			// Partially live; the daemon applies the live fields.
		default:
			out = append(out, name)
		}
	}
	return out
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("modelmux does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("modelmux is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to modelmux (PID %d)\n", pid)

	for range 30 {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("modelmux is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("modelmux is running (PID %d)\n", pid)

	if !cfg.Dashboard.Enabled {
		return nil
	}

	base := fmt.Sprintf("http://localhost:%d", cfg.Server.DashboardPort)
	var stats metrics.StatsResponse
	if err := fetchJSON(base+"/api/stats", &stats); err != nil || stats.Queries == nil {
		fmt.Println("  (dashboard unreachable)")
		return nil
	}
	var backends []metrics.BackendSummary
	if err := fetchJSON(base+"/api/backends", &backends); err != nil {
		backends = nil
	}
	printStats(os.Stdout, stats.Queries, backends)
	return nil
}

func fetchJSON(url string, v any) error {
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

func printStats(w io.Writer, q *metrics.Stats, backends []metrics.BackendSummary) {
	fmt.Fprintf(w, "\n  Uptime:        %s\n", q.Uptime)
	fmt.Fprintf(w, "  Queries:       %d (%d answered, %d degraded, %d rejected)\n", q.TotalQueries, q.Succeeded, q.Degraded, q.Rejected)
	fmt.Fprintf(w, "  Success Rate:  %.1f%%\n", q.SuccessRate)
	fmt.Fprintf(w, "  Avg Attempts:  %.2f\n", q.AvgAttempts)
	fmt.Fprintf(w, "  Active:        %d\n", q.ActiveQueries)

	if len(backends) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  %-16s %-10s %8s %8s %10s %9s\n", "BACKEND", "HEALTH", "REQS", "SUCCESS", "LATENCY", "IN-FLIGHT")
	for _, b := range backends {
		status := b.Status
		if b.Circuit != "" && b.Circuit != "closed" {
			status += "/" + b.Circuit
		}
		fmt.Fprintf(w, "  %-16s %-10s %8d %7.1f%% %8.0fms %9d\n",
			b.ID, status, b.TotalRequests, b.SuccessRate*100, b.AvgLatencyMs, b.InFlight)
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
