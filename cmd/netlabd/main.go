// Command netlabd runs the kernel-level network emulator's Control
// Server: it loads configuration, wires the Namespace/Link/Topology/PTY
// /Observer managers together, starts the HTTP+websocket listener, and
// tears every namespace and veth pair down again on SIGINT/SIGTERM.
// Flag and signal handling follow the teacher orchestrator's main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kishor-9361/NET-sim/config"
	"github.com/Kishor-9361/NET-sim/link"
	"github.com/Kishor-9361/NET-sim/logging"
	"github.com/Kishor-9361/NET-sim/namespace"
	"github.com/Kishor-9361/NET-sim/observer"
	"github.com/Kishor-9361/NET-sim/pty"
	"github.com/Kishor-9361/NET-sim/server"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"github.com/Kishor-9361/NET-sim/topology"
)

func main() {
	var cfgPath string
	var debug bool
	flag.StringVar(&cfgPath, "config", "/etc/netlabd/netlabd.toml", "path to the daemon's TOML config file")
	flag.StringVar(&cfgPath, "c", "/etc/netlabd/netlabd.toml", "shorthand for -config")
	flag.BoolVar(&debug, "debug", false, "verbose logging and human-readable traces")
	flag.Parse()

	logger, err := logging.New(debug)
	if err != nil {
		panic(fmt.Errorf("build logger: %w", err))
	}
	defer logger.Sync()
	telemetry.SetLogger(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Sugar().Fatalf("load config %s: %v", cfgPath, err)
	}
	if debug {
		cfg.Debug = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := telemetry.Init(ctx, "netlabd", cfg.Debug)
	if err != nil {
		logger.Sugar().Fatalf("init telemetry: %v", err)
	}

	nsMgr := namespace.NewManager(tracer)
	if orphans, err := nsMgr.ReconcileOrphans(ctx); err != nil {
		logger.Sugar().Warnf("orphan namespace reconciliation: %v", err)
	} else if len(orphans) > 0 {
		logger.Sugar().Infof("reconciled %d orphan namespace(s) from a prior run: %v", len(orphans), orphans)
	}

	linkMgr := link.NewManager(nsMgr, tracer)
	obsMgr := observer.NewManager(nsMgr, cfg.CaptureBinary, tracer)
	ptyMgr := pty.NewManager(nsMgr, cfg.ShellPath, cfg.SessionGrace.Duration, tracer)
	topoMgr := topology.NewManager(nsMgr, linkMgr, ptyMgr, obsMgr, cfg.SubnetBase.IPNet, tracer)
	obsMgr.SetFailureSink(topoMgr.EventSink())
	ptyMgr.SetFailureSink(topoMgr.EventSink())

	srv := server.New(cfg, nsMgr, topoMgr, ptyMgr, obsMgr, tracer)

	logger.Sugar().Infof("netlabd listening on %s:%d", cfg.Host.String(), cfg.Port)
	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Warn("shutdown signal received, tearing down topology")
		stop()
		if err := <-serveErrCh; err != nil {
			logger.Sugar().Errorf("control server shutdown error: %v", err)
		}
	case err := <-serveErrCh:
		if err != nil {
			logger.Sugar().Errorf("control server exited: %v", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if errs := topoMgr.Shutdown(shutdownCtx); len(errs) > 0 {
		for _, e := range errs {
			logger.Sugar().Errorf("cleanup error: %v", e)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Sugar().Warnf("tracer shutdown: %v", err)
	}
	logger.Info("netlabd stopped")
}
