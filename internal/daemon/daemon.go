// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/otus-rec/rec-agent/internal/addon"
	"github.com/otus-rec/rec-agent/internal/command"
	"github.com/otus-rec/rec-agent/internal/config"
	logpkg "github.com/otus-rec/rec-agent/internal/log"
	"github.com/otus-rec/rec-agent/internal/metrics"
	"github.com/otus-rec/rec-agent/internal/middleware"
	"github.com/otus-rec/rec-agent/internal/recorder"
	"github.com/otus-rec/rec-agent/internal/upload"
)

// Daemon manages the rec-agent daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	engine        *recorder.Engine
	addons        *addon.Manager
	mw            middleware.Middleware
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	jobIDSeq atomic.Int64

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal // promoted from Run() local for cleanup in Stop()
}

// New creates a new Daemon instance.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	// Load global configuration
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Create daemon instance
	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}

	// Create context for lifecycle management
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	slog.Info("starting rec-agent daemon",
		"version", "0.1.0",
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Construct the middleware seam. A real pub/sub binding is out of
	// scope for this repository (spec treats the middleware as external);
	// the in-memory fake stands in until a concrete adapter is wired
	// through the same Middleware interface.
	d.mw = middleware.NewFake()

	// 5. Discover add-on subprocesses.
	d.addons = addon.NewManager()
	if err := d.addons.Discover(d.ctx, d.config.Recorder.AddonSearchDir); err != nil {
		slog.Warn("addon discovery failed", "dir", d.config.Recorder.AddonSearchDir, "error", err)
	}

	// 6. Construct the recording engine.
	preBufferLen, err := time.ParseDuration(d.config.Recorder.DefaultPreBufferLength)
	if err != nil {
		slog.Warn("invalid recorder.default_pre_buffer_length, defaulting to 4s",
			"value", d.config.Recorder.DefaultPreBufferLength, "error", err)
		preBufferLen = 4 * time.Second
	}
	d.engine = recorder.New(recorder.EngineConfig{
		HostName:            d.config.Node.Hostname,
		DefaultPreBufferLen: preBufferLen,
		SupportFiles:        d.config.Recorder.SupportFiles,
	}, d.mw, d.addons, upload.NewFake())

	if d.config.Recorder.PreBufferEnabled {
		d.engine.EnablePreBuffering()
	}
	if err := d.applyRecordMode(); err != nil {
		slog.Warn("invalid recorder.record_mode at startup", "error", err)
	}
	if len(d.config.Recorder.HostFilter) > 0 {
		_ = d.engine.SetHostFilter(d.config.Recorder.HostFilter)
	}
	if len(d.config.Recorder.ListedTopics) > 0 {
		_ = d.engine.SetListedTopics(d.config.Recorder.ListedTopics)
	}

	// 7. Start the engine's monitoring and garbage-collection timers.
	go recorder.RunMonitor(d.ctx, d.engine)
	go recorder.RunGC(d.ctx, d.engine)

	// 8. Create command handler
	d.cmdHandler = command.NewCommandHandler(d.engine, d.addons, d, d.nextJobID)

	// 9. Wire shutdown handler so daemon.shutdown command can trigger graceful stop
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon.shutdown command")
		close(d.shutdownChan)
	})

	// 10. Start UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("uds server failed", "error", err)
		}
	}()

	// 11. Start Kafka command consumer (if enabled)
	if d.config.CommandChannel.Enabled && d.config.CommandChannel.Type == "kafka" {
		if err := d.startKafkaConsumer(); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
			// Non-fatal: daemon can still run with UDS-only control
		}
	}

	slog.Info("daemon started successfully")
	return nil
}

// nextJobID hands out process-local, monotonically increasing job ids.
func (d *Daemon) nextJobID() int64 {
	return d.jobIDSeq.Add(1)
}

func (d *Daemon) applyRecordMode() error {
	var mode recorder.RecordMode
	switch d.config.Recorder.RecordMode {
	case "all":
		mode = recorder.ModeAll
	case "blacklist":
		mode = recorder.ModeBlacklist
	case "whitelist":
		mode = recorder.ModeWhitelist
	default:
		return fmt.Errorf("unknown record_mode %q", d.config.Recorder.RecordMode)
	}
	return d.engine.SetRecordMode(mode)
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop Kafka command consumer first (no new commands)
	if d.kafkaConsumer != nil {
		slog.Info("stopping kafka command consumer")
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
		d.kafkaConsumer = nil // prevent double-stop on repeated calls
	}

	// 2. Stop the recording engine: subscriptions and add-on sessions.
	slog.Info("stopping recording engine")
	if d.engine != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		d.engine.Shutdown(shutdownCtx)
		cancel()
	}

	// 3. Stop UDS server (no new CLI commands)
	slog.Info("stopping uds server")
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 5. Cancel context to signal all goroutines
	d.cancel()

	// 6. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	// 8. Flush logs
	if err := logpkg.Flush(); err != nil {
		slog.Error("error flushing logs", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon.shutdown command via UDS/Kafka
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	// Setup signal handling
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					slog.Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			// Shutdown triggered by daemon.shutdown command
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			// Context cancelled externally
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format, filter state.
// Cold (requires restart): node.hostname, listen addresses, addon search dir.
// Implements ConfigReloader interface for CommandHandler.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	// Track what was hot-reloaded for the log message
	hotReloaded := []string{}

	// 1. Re-initialize logging with new config (log level + format)
	oldConfig := d.config
	oldLevel := d.config.Log.Level
	oldFormat := d.config.Log.Format
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
		// Non-fatal: old logging continues
	} else if newConfig.Log.Level != oldLevel || newConfig.Log.Format != oldFormat {
		hotReloaded = append(hotReloaded, "log")
	}

	// 2. Re-apply filter state (safe when not recording; a no-op error
	// otherwise, matching spec §4.K's "refused while recording" behavior).
	if err := d.applyRecordMode(); err == nil {
		hotReloaded = append(hotReloaded, "recorder.record_mode")
	}
	if len(newConfig.Recorder.HostFilter) > 0 {
		if err := d.engine.SetHostFilter(newConfig.Recorder.HostFilter); err == nil {
			hotReloaded = append(hotReloaded, "recorder.host_filter")
		}
	}
	if len(newConfig.Recorder.ListedTopics) > 0 {
		if err := d.engine.SetListedTopics(newConfig.Recorder.ListedTopics); err == nil {
			hotReloaded = append(hotReloaded, "recorder.listed_topics")
		}
	}

	// 3. Warn about cold-reload items that changed
	requiresRestart := []string{}
	if newConfig.Node.Hostname != oldConfig.Node.Hostname {
		requiresRestart = append(requiresRestart, "node.hostname")
	}
	if newConfig.Metrics.Listen != oldConfig.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}
	if newConfig.Recorder.AddonSearchDir != oldConfig.Recorder.AddonSearchDir {
		requiresRestart = append(requiresRestart, "recorder.addon_search_dir")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)

	return nil
}

// TriggerShutdown triggers graceful shutdown from an external caller. The
// daemon.shutdown command does not go through it: its handler closes
// shutdownChan directly.
func (d *Daemon) TriggerShutdown() {
	defer func() { _ = recover() }() // send on a shutdownChan already closed by daemon.shutdown
	select {
	case d.shutdownChan <- struct{}{}:
		// Shutdown signal sent
	default:
		// Run is not receiving on shutdownChan, or it is closed: no-op
	}
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}

	// Update global slog default to use the configured logger
	slog.SetDefault(logpkg.Get())

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)

	return nil
}

// startKafkaConsumer starts the Kafka command consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.CommandChannel,
		d.config.Node.Hostname,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	d.kafkaConsumer = consumer

	// Start consumer in background goroutine
	go func() {
		if err := consumer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()

	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	slog.Info("metrics server started",
		"addr", d.config.Metrics.Listen,
		"path", d.config.Metrics.Path,
	)

	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
