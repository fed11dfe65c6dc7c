package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/samber/lo"
	"github.com/spf13/pflag"

	"github.com/stlalpha/doornode/internal/audit"
	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/console"
	"github.com/stlalpha/doornode/internal/door"
	"github.com/stlalpha/doornode/internal/logging"
	"github.com/stlalpha/doornode/internal/maintenance"
	"github.com/stlalpha/doornode/internal/metrics"
	"github.com/stlalpha/doornode/internal/session"
	"github.com/stlalpha/doornode/internal/sshserver"
	"github.com/stlalpha/doornode/internal/telnetserver"
	"github.com/stlalpha/doornode/internal/types"
)

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadServerConfig(opts.configDir)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: Invalid configuration: %v", err)
	}
	logging.DebugEnabled = cfg.Debug

	logFile, err := logging.SetupFile(cfg.LogPath, 10, 5, !opts.console)
	if err != nil {
		log.Printf("WARN: Failed to open log file %s: %v. Logging to stderr.", cfg.LogPath, err)
	} else {
		defer logFile.Close()
		log.Printf("INFO: Logging to file: %s", cfg.LogPath)
	}

	auditLog, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to open audit log %s: %v", cfg.AuditLogPath, err)
	}
	defer auditLog.Close()

	catalog := config.LoadCatalog(filepath.Join(opts.configDir, "doors.json"))
	registry := session.NewRegistry(session.Services{
		Catalog:   catalog,
		Doors:     door.EnvironmentFromConfig(cfg, auditLog),
		MenuLabel: cfg.DebugUser.Module,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error

	rlogin, err := telnetserver.NewServer(telnetserver.Config{
		Name:    "Rlogin",
		Host:    cfg.Host,
		Port:    cfg.Port,
		Handler: func(conn net.Conn) { handleRlogin(registry, conn) },
	})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if err := rlogin.Listen(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	go serve(rlogin.Serve, "Rlogin", stop)
	closers = append(closers, rlogin.Close)

	if cfg.DebugPort > 0 {
		debugSrv, err := telnetserver.NewServer(telnetserver.Config{
			Name:    "Debug",
			Host:    cfg.Host,
			Port:    cfg.DebugPort,
			Handler: func(conn net.Conn) { handleDebug(registry, cfg.DebugUser, conn) },
		})
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		if err := debugSrv.Listen(); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		go serve(debugSrv.Serve, "Debug", stop)
		closers = append(closers, debugSrv.Close)
	} else {
		log.Printf("INFO: Debug port disabled")
	}

	if cfg.SSH.Enabled {
		keyPath := cfg.SSH.HostKeyPath
		if keyPath == "" {
			keyPath = filepath.Join(opts.configDir, "ssh_host_ed25519_key")
		}
		sshSrv, err := sshserver.NewServer(sshserver.Config{
			HostKeyPath:         keyPath,
			Host:                cfg.SSH.Host,
			Port:                cfg.SSH.Port,
			Password:            cfg.SSH.Password,
			LegacySSHAlgorithms: cfg.SSH.LegacyAlgorithms,
			SessionHandler:      func(c *sshserver.Conn) { handleSSH(registry, cfg.DebugUser, c) },
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to configure SSH server: %v", err)
		}
		go serve(sshSrv.ListenAndServe, "SSH", stop)
		closers = append(closers, sshSrv.Close)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("INFO: Metrics listening on %s", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("ERROR: Metrics server: %v", err)
			}
		}()
		closers = append(closers, metricsSrv.Close)
	}

	sched := maintenance.NewScheduler(cfg.MaintenanceSchedule, maintenance.Sweeper{
		DrivePath: cfg.Dosbox.DrivePath,
		LiveNodes: func() []int { return liveNodes(registry) },
	}, registry.Count)
	sched.RunOnce()
	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Printf("ERROR: Invalid maintenance schedule %q: %v", cfg.MaintenanceSchedule, err)
		}
	}()

	if watcher, err := NewConfigWatcher(opts.configDir, catalog); err != nil {
		log.Printf("WARN: Config hot reload disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	log.Printf("INFO: DoorNode started (%d door(s) configured)", catalog.Len())

	if opts.console {
		if err := console.Run(ctx, registry); err != nil {
			log.Printf("ERROR: Console: %v", err)
		}
		stop()
	} else {
		<-ctx.Done()
	}

	log.Printf("INFO: Shutting down, closing %d session(s)", registry.Count())
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("WARN: Listener close: %v", err)
		}
	}
	registry.CloseAll()
	log.Printf("INFO: DoorNode stopped")
}

// serve runs a listener loop and cancels the server if it dies.
func serve(fn func() error, name string, stop context.CancelFunc) {
	if err := fn(); err != nil && !isClosedErr(err) {
		log.Printf("ERROR: %s server failed: %v", name, err)
		stop()
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ssh.ErrServerClosed)
}

func liveNodes(registry *session.Registry) []int {
	return lo.Map(registry.Nodes(), func(n types.NodeInfo, _ int) int {
		return n.NodeID
	})
}
