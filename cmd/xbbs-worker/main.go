// Command xbbs-worker runs the worker process: it repeatedly requests a
// job from the coordinator's worker_endpoint socket, and when one
// arrives, drives it to completion via internal/worker (spec §4.9).
//
// The request/reconnect loop is grounded directly on
// original_source/xbbs/worker/__init__.py's main(): a worker holds at
// most one JobRequest outstanding per connection; if no job arrives
// within the dequeue timeout the coordinator replies with an empty
// heartbeat frame, and either way the worker drops the connection and
// reconnects before asking again (spec §4.6).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	xbbs "github.com/distr1/xbbs"
	"github.com/distr1/xbbs/internal/config"
	"github.com/distr1/xbbs/internal/netutil"
	"github.com/distr1/xbbs/internal/wire"
	"github.com/distr1/xbbs/internal/worker"
)

// requestTimeout bounds how long the worker waits for a reply to one
// JobRequest before giving up on the connection and reconnecting,
// matching original_source's 90-second poll timeout.
const requestTimeout = 90 * time.Second

var (
	configPath    = flag.String("config", "/etc/xbbs/worker.toml", "path to the worker TOML configuration file")
	buildRootBase = flag.String("build-root", "/var/tmp/xbbs-worker", "directory under which per-job build roots are created")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		logger.Fatalf("xbbs-worker: load config: %v", err)
	}

	runnerCfg := worker.Config{
		BuildRootBase: *buildRootBase,
		Capabilities:  cfg.Capabilities,
	}

	var current struct {
		project, job string
	}
	xbbs.RegisterDiagnosticDump(func() {
		if current.job == "" {
			logger.Printf("xbbs-worker: idle, capabilities=%v", cfg.Capabilities)
			return
		}
		logger.Printf("xbbs-worker: running %s/%s", current.project, current.job)
	})

	ctx, cancel := xbbs.InterruptibleContext()
	defer cancel()

	for ctx.Err() == nil {
		msg, err := requestJob(ctx, cfg.JobEndpoint, cfg.Capabilities)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Printf("xbbs-worker: request job: %v", err)
			continue
		}
		if msg == nil {
			// Heartbeat: no job was queued within the dequeue timeout.
			continue
		}

		current.project, current.job = msg.Project, msg.Job
		runJob(ctx, runnerCfg, msg, logger)
		current.project, current.job = "", ""
	}

	logger.Printf("xbbs-worker: shutting down")
}

// requestJob opens one connection to jobEndpoint, sends a JobRequest, and
// waits up to requestTimeout for the reply. A nil, nil return means the
// coordinator replied with an empty heartbeat frame (no job available).
func requestJob(ctx context.Context, jobEndpoint string, capabilities []string) (*wire.JobMessage, error) {
	conn, err := netutil.Dial("tcp", jobEndpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := &wire.JobRequest{Capabilities: capabilities}
	raw, err := req.Pack()
	if err != nil {
		return nil, err
	}
	if err := netutil.WriteFrames(conn, raw); err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	reply, err := netutil.ReadFrames(conn)
	if err != nil {
		return nil, err
	}
	if len(reply) != 1 {
		return nil, nil
	}
	if len(reply[0]) == 0 {
		return nil, nil
	}
	return wire.UnmarshalJobMessage(reply[0])
}

// runJob dials the job's intake address, drives it to completion, and
// logs any transport-level failure; job-level failures are already
// reported to the coordinator via JobCompletionMessage inside Run.
func runJob(ctx context.Context, cfg worker.Config, msg *wire.JobMessage, logger *log.Logger) {
	up, err := worker.DialIntake(msg.Intake)
	if err != nil {
		logger.Printf("xbbs-worker: dial intake %s: %v", msg.Intake, err)
		return
	}
	defer up.Close()

	r := worker.New(cfg, logger)
	if err := r.Run(ctx, msg, up); err != nil {
		logger.Printf("xbbs-worker: job %s: %v", msg.Job, err)
	}
}
