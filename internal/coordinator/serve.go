package coordinator

import (
	"context"
	"net"

	"golang.org/x/xerrors"

	"github.com/distr1/xbbs/internal/dispatch"
	"github.com/distr1/xbbs/internal/netutil"
	"github.com/distr1/xbbs/internal/wire"
)

// ServeIntake runs the one-way intake pull fan-in (spec §6) until ctx is
// done. Every frame pair [tag, payload] is routed through the instance's
// intake.Handler.
func (inst *Instance) ServeIntake(ctx context.Context, ln net.Listener) error {
	handler := inst.IntakeHandler()
	return netutil.ServePull(ctx, ln, func(ctx context.Context, msg [][]byte) {
		if len(msg) != 2 {
			inst.Log.Printf("intake: malformed frame (want 2, got %d)", len(msg))
			return
		}
		if err := handler.Dispatch(ctx, wire.Tag(msg[0]), msg[1]); err != nil {
			inst.Log.Printf("intake: dispatch %s: %v", msg[0], err)
		}
	})
}

// ServeWorkers runs the worker_endpoint router (spec §6) until ctx is
// done. Each connection carries one JobRequest; dispatch.Serve pairs it
// with a queued job, if any, and connSender writes the coordinator's
// reply frames directly back on the same connection, matching the
// one-job-per-connection worker contract (spec §4.6).
func (inst *Instance) ServeWorkers(ctx context.Context, ln net.Listener) error {
	return netutil.ServeWorkerRouter(ctx, ln, func(ctx context.Context, conn net.Conn, request [][]byte) {
		defer conn.Close()
		if len(request) != 1 {
			inst.Log.Printf("worker_endpoint: malformed request (want 1 frame, got %d)", len(request))
			return
		}
		req, err := wire.UnmarshalJobRequest(request[0])
		if err != nil {
			inst.Log.Printf("worker_endpoint: %v", err)
			return
		}
		sender := connSender{conn: conn}
		if err := dispatch.Serve(ctx, inst.Queue, nil, req.Capabilities, sender); err != nil {
			inst.Log.Printf("worker_endpoint: dispatch: %v", err)
		}
	})
}

// connSender implements dispatch.Sender by writing the single reply frame
// directly to the connection the JobRequest arrived on — the connection
// itself is the routing identity (spec §4.6), so workerID is unused.
type connSender struct {
	conn net.Conn
}

func (s connSender) Send(ctx context.Context, workerID []byte, payload []byte) error {
	if err := netutil.WriteFrames(s.conn, payload); err != nil {
		return xerrors.Errorf("%v: %w", err, dispatch.ErrUnreachable)
	}
	return nil
}
