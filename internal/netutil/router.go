package netutil

import (
	"context"
	"net"

	"golang.org/x/xerrors"
)

// ServeWorkerRouter accepts connections on ln for the worker_endpoint
// socket (spec §6: "router/request. Workers send [request_body]"). Each
// connection carries exactly one JobRequest, matching the worker-side
// contract (spec §4.6: "a worker may only have one job outstanding per
// socket; after sending a JobRequest it waits... and then reconnects"), so
// the connection itself stands in for ZeroMQ's routing id: handle is
// responsible for writing the eventual reply (or closing conn to signal
// unreachability) and must not block ServeWorkerRouter's accept loop, so
// it is invoked in its own goroutine per connection.
func ServeWorkerRouter(ctx context.Context, ln net.Listener, handle func(ctx context.Context, conn net.Conn, request [][]byte)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return xerrors.Errorf("netutil: accept: %w", err)
			}
		}
		go func(conn net.Conn) {
			request, err := ReadFrames(conn)
			if err != nil {
				conn.Close()
				return
			}
			handle(ctx, conn, request)
		}(conn)
	}
}
