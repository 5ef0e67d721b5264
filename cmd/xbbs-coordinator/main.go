// Command xbbs-coordinator runs the coordinator process: it loads a
// project configuration, binds the three sockets (command_endpoint,
// intake, worker_endpoint), and serves them until interrupted (spec §6).
// Grounded on distri's cmd/autobuilder/autobuilder.go for its flag/signal/
// logger setup style.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"

	xbbs "github.com/distr1/xbbs"
	"github.com/distr1/xbbs/internal/config"
	"github.com/distr1/xbbs/internal/coordinator"
	"github.com/distr1/xbbs/internal/env"
	"github.com/distr1/xbbs/internal/history"
	"github.com/distr1/xbbs/internal/netutil"
	"github.com/distr1/xbbs/internal/trace"
)

var (
	configPath = flag.String("config", env.ConfigPath, "path to the coordinator TOML configuration file")
	traceFile  = flag.String("trace", "", "if set, write a Chrome trace event file recording build-driver spans")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "", log.LstdFlags)

	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			logger.Fatalf("xbbs-coordinator: open trace file: %v", err)
		}
		defer f.Close()
		trace.Sink(f)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("xbbs-coordinator: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("xbbs-coordinator: invalid config: %v", err)
	}

	historyRecorder, err := history.Open(context.Background(), cfg.ArtifactHistory)
	if err != nil {
		logger.Fatalf("xbbs-coordinator: open artifact history: %v", err)
	}
	defer historyRecorder.Close()

	inst, err := coordinator.New(cfg, historyRecorder, logger)
	if err != nil {
		logger.Fatalf("xbbs-coordinator: init: %v", err)
	}
	coordinator.BuildRoot = cfg.BuildRoot

	xbbs.RegisterDiagnosticDump(inst.DumpDiagnostics)
	ctx, cancel := xbbs.InterruptibleContext()
	defer cancel()

	commandLn, err := net.Listen("tcp", cfg.CommandEndpoint)
	if err != nil {
		logger.Fatalf("xbbs-coordinator: listen command_endpoint: %v", err)
	}
	intakeLn, err := net.Listen("tcp", cfg.Intake)
	if err != nil {
		logger.Fatalf("xbbs-coordinator: listen intake: %v", err)
	}
	workerLn, err := net.Listen("tcp", cfg.WorkerEndpoint)
	if err != nil {
		logger.Fatalf("xbbs-coordinator: listen worker_endpoint: %v", err)
	}

	errc := make(chan error, 3)
	go func() { errc <- inst.ServeIntake(ctx, intakeLn) }()
	go func() { errc <- inst.ServeWorkers(ctx, workerLn) }()
	go func() { errc <- netutil.ServeReqReply(ctx, commandLn, inst.CommandHandler()) }()

	select {
	case err := <-errc:
		if err != nil && ctx.Err() == nil {
			logger.Fatalf("xbbs-coordinator: %v", err)
		}
	case <-ctx.Done():
	}
	logger.Printf("xbbs-coordinator: shutting down")
}
