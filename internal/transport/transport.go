// package transport wraps the ZeroMQ socket primitives used by the relay.
// All sockets created here log through the process slog logger.
package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/go-zeromq/zmq4"
	"golang.org/x/exp/slog"
)

// Socket is a ZeroMQ socket.
type Socket = zmq4.Socket

// NewPub creates a new PUB socket.
func NewPub(ctx context.Context, log *slog.Logger, opts ...zmq4.Option) Socket {
	return zmq4.NewPub(ctx, withLogger(log, opts)...)
}

// NewSub creates a new SUB socket.
func NewSub(ctx context.Context, log *slog.Logger, opts ...zmq4.Option) Socket {
	return zmq4.NewSub(ctx, withLogger(log, opts)...)
}

// NewXPub creates a new XPUB socket.
func NewXPub(ctx context.Context, log *slog.Logger, opts ...zmq4.Option) Socket {
	return zmq4.NewXPub(ctx, withLogger(log, opts)...)
}

// NewPush creates a new PUSH socket.
func NewPush(ctx context.Context, log *slog.Logger, opts ...zmq4.Option) Socket {
	return zmq4.NewPush(ctx, withLogger(log, opts)...)
}

// NewPull creates a new PULL socket.
func NewPull(ctx context.Context, log *slog.Logger, opts ...zmq4.Option) Socket {
	return zmq4.NewPull(ctx, withLogger(log, opts)...)
}

// withLogger prepends a logger option that bridges the socket logs into
// the given slog logger.
func withLogger(log *slog.Logger, opts []zmq4.Option) []zmq4.Option {
	return append([]zmq4.Option{
		zmq4.WithLogger(slog.NewLogLogger(log.Handler(), slog.LevelDebug)),
	}, opts...)
}

// IsAddrInUse reports whether the error is caused by an endpoint that is
// already bound by another socket.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}

	// NOTE: Not every listen error is wrapped, so the message is the
	// only thing left to inspect.
	return strings.Contains(err.Error(), "address already in use")
}

// IsClosed reports whether the error is an expected consequence of a
// closed socket or a cancelled context.
func IsClosed(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed)
}
