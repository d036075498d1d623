package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	go2tvadapters "go2tv.app/lgremote/internal/adapters/go2tv"
	"go2tv.app/lgremote/internal/buildinfo"
	"go2tv.app/lgremote/internal/config"
	"go2tv.app/lgremote/internal/diagnostics"
	"go2tv.app/lgremote/internal/discovery"
	"go2tv.app/lgremote/internal/lifecycle"
	"go2tv.app/lgremote/internal/mcpserver"
	"go2tv.app/lgremote/internal/metrics"
	"go2tv.app/lgremote/internal/store"
	"go2tv.app/lgremote/internal/tv"
)

const (
	serverName      = "lgremote"
	shutdownTimeout = 5 * time.Second
)

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Go2TVAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		CastWired      bool `json:"cast_wired"`
		DLNAWired      bool `json:"dlna_wired"`
		ServerWired    bool `json:"stream_server_wired"`
	} `json:"go2tv_adapters"`
	Config struct {
		StorePath     string `json:"store_path"`
		CacheDir      string `json:"cache_dir"`
		MetricsListen string `json:"metrics_listen,omitempty"`
	} `json:"config"`
	Dependencies diagnostics.DependencyReport `json:"dependencies"`
}

func main() {
	configPath := flag.String("config", "", "path to a config file (default: lgremote.yaml in the config directory)")
	selfTest := flag.Bool("self-test", false, "run dependency and wiring diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	bundle := go2tvadapters.NewBundle()

	if *selfTest {
		out := selfTestOutput{
			Dependencies: diagnostics.DetectDependencies(),
		}
		out.Server.Name = serverName
		out.Server.Version = buildinfo.Version
		out.Go2TVAdapters.DiscoveryWired = bundle.Discovery != nil
		out.Go2TVAdapters.CastWired = bundle.CastFactory != nil
		out.Go2TVAdapters.DLNAWired = bundle.DLNAFactory != nil
		out.Go2TVAdapters.ServerWired = bundle.ServerFactory != nil
		out.Config.StorePath = cfg.Store.Path
		out.Config.CacheDir = cfg.Media.CacheDir
		out.Config.MetricsListen = cfg.Metrics.Listen

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logLevel := parseLogLevel(cfg.Logging.Level)
	logOut, closeLog, err := openLogOutput(cfg.Logging.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	logger.Info(
		"mcp_server_start",
		slog.String("server", serverName),
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
	)

	sessions, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("session_store_open_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if paired, err := sessions.Devices(); err != nil {
		logger.Warn("session_store_scan_failed", slog.String("error", err.Error()))
	} else {
		logger.Info("session_store_opened", slog.String("path", cfg.Store.Path), slog.Int("paired_tvs", len(paired)))
	}

	metricsServer := startMetrics(cfg.Metrics.Listen, logger)

	discoverySvc := discovery.NewService(bundle.Discovery, runCtx)
	manager := tv.NewManager(tv.Dependencies{
		Discovery:     discoverySvc,
		CastFactory:   bundle.CastFactory,
		DLNAFactory:   bundle.DLNAFactory,
		ServerFactory: bundle.ServerFactory,
		ListenAddress: bundle.ListenAddress,
		Store:         sessions,
	}, tv.SettingsFromConfig(cfg), logger)

	srv := mcpserver.New(os.Stdin, os.Stdout, mcpserver.Config{
		ServerName:    serverName,
		ServerVersion: buildinfo.Version,
		Logger:        logger,
		Lister:        manager,
		Controller:    manager,
	})

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- srv.Run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-runCtx.Done():
		runErr = runCtx.Err()
	}
	if runErr != nil {
		logger.Warn("mcp_server_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("mcp_server_stopping", slog.String("reason", "clean_eof"))
	}

	closers := []lifecycle.Closer{
		manager,
		lifecycle.CloserFunc(func(context.Context) error { return sessions.Close() }),
	}
	if metricsServer != nil {
		closers = append(closers, lifecycle.CloserFunc(metricsServer.Shutdown))
	}
	if err := lifecycle.Shutdown(shutdownTimeout, logger, closers...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}

// startMetrics serves Prometheus metrics on listen. stdout carries the MCP
// stream, so metrics are only reachable over HTTP.
func startMetrics(listen string, logger *slog.Logger) *http.Server {
	listen = strings.TrimSpace(listen)
	if listen == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics_server_start", slog.String("listen", listen))
	return server
}

func openLogOutput(path string) (io.Writer, func(), error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid LGREMOTE_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
