package netutil

import (
	"context"
	"net"

	"golang.org/x/xerrors"
)

// Handler answers one request with one reply, both expressed as frame
// lists per the wire shapes of spec §6.
type Handler func(ctx context.Context, request [][]byte) (reply [][]byte, err error)

// ServeReqReply accepts connections on ln and, for each, loops reading one
// request and writing one reply (spec §6's command_endpoint contract: a
// connection carries a sequence of independent request/reply exchanges).
// It blocks until ctx is done or ln.Accept fails.
func ServeReqReply(ctx context.Context, ln net.Listener, handle Handler) error {
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
		go serveConn(ctx, conn, handle)
	}
}

func serveConn(ctx context.Context, conn net.Conn, handle Handler) {
	defer conn.Close()
	for {
		req, err := ReadFrames(conn)
		if err != nil {
			return
		}
		reply, err := handle(ctx, req)
		if err != nil {
			return
		}
		if err := WriteFrames(conn, reply...); err != nil {
			return
		}
	}
}

// ServePull accepts connections on ln and invokes handle once per
// message received, sending no reply (spec §6's intake contract: a
// one-way pull fan-in). Each connection is read until EOF or error.
func ServePull(ctx context.Context, ln net.Listener, handle func(ctx context.Context, msg [][]byte)) error {
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
			defer conn.Close()
			for {
				msg, err := ReadFrames(conn)
				if err != nil {
					return
				}
				handle(ctx, msg)
			}
		}(conn)
	}
}

// Dial opens a client connection, used by the intake sender (worker side)
// and by xbbsctl's command_endpoint client.
func Dial(network, address string) (net.Conn, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, xerrors.Errorf("netutil: dial %s: %w", address, err)
	}
	return conn, nil
}
