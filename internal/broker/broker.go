// package broker provides the log relay broker. It binds a frontend
// endpoint that publishers connect to and a backend endpoint that
// subscribers connect to, then relays published messages downstream
// without looking at their content. The frontend subscribes to every
// topic, topic filtering happens per subscriber on the backend.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/davseby/logrelay/internal/transport"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/xid"
	"golang.org/x/exp/slog"
)

var (
	// ErrNotBound is returned when the relay is run before the endpoints
	// were bound.
	ErrNotBound = errors.New("broker endpoints are not bound")

	// ErrClosed is returned when a closed broker is used.
	ErrClosed = errors.New("broker closed")
)

// Config holds the broker endpoints.
type Config struct {
	// Frontend is the endpoint publishers connect to.
	Frontend string `default:"tcp://*:5559" usage:"endpoint publishers connect to"`

	// Backend is the endpoint subscribers connect to.
	Backend string `default:"tcp://*:5560" usage:"endpoint subscribers connect to"`
}

// Broker relays messages between the frontend and backend endpoints. It
// owns both sockets exclusively for its whole lifetime.
type Broker struct {
	log *slog.Logger
	id  xid.ID
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	front transport.Socket
	back  transport.Socket

	capture struct {
		push transport.Socket
		pull transport.Socket
	}

	counters counters
}

// NewBroker creates a new unbound broker.
func NewBroker(log *slog.Logger, cfg Config) *Broker {
	ctx, cancel := context.WithCancel(context.Background())

	id := xid.New()

	return &Broker{
		log:    log.With("job", "broker", "broker_id", id.String()),
		id:     id,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the broker instance identifier.
func (b *Broker) ID() xid.ID {
	return b.id
}

// State returns the current broker state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Start binds the frontend and backend endpoints. A bind failure is not
// an error for the caller: it is logged and reported through the result,
// and the broker ends up aborted.
func (b *Broker) Start() Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateUnbound:
	case StateClosed, StateAborted:
		return Result{Outcome: OutcomeBindFailed, Err: ErrClosed}
	default:
		return Result{Outcome: OutcomeAlreadyRunning, Err: fmt.Errorf("broker is %s", b.state)}
	}

	front := transport.NewSub(b.ctx, b.log)
	if err := front.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		b.closeSocket(front, "closing frontend socket")

		return b.abort(err, "frontend", b.cfg.Frontend)
	}

	if err := front.Listen(b.cfg.Frontend); err != nil {
		b.closeSocket(front, "closing frontend socket")

		return b.abort(err, "frontend", b.cfg.Frontend)
	}

	b.log.Info("frontend listening", slog.String("addr", b.cfg.Frontend))

	back := transport.NewXPub(b.ctx, b.log)
	if err := back.Listen(b.cfg.Backend); err != nil {
		b.closeSocket(back, "closing backend socket")
		b.closeSocket(front, "closing frontend socket")

		return b.abort(err, "backend", b.cfg.Backend)
	}

	b.log.Info("backend publishing", slog.String("addr", b.cfg.Backend))

	b.front = front
	b.back = back
	b.state = StateBound

	b.openCapture()

	return Result{Outcome: OutcomeStarted}
}

// abort moves the broker into the aborted state and releases its
// context.
// NOTE: Concurrently unsafe method.
func (b *Broker) abort(err error, side, addr string) Result {
	b.state = StateAborted
	b.cancel()

	if transport.IsAddrInUse(err) {
		b.log.Info(
			"exiting, broker is already running",
			slog.String("side", side),
			slog.String("addr", addr),
		)

		return Result{Outcome: OutcomeAlreadyRunning, Err: err}
	}

	b.log.Warn(
		"exiting, cannot bind endpoint",
		slog.String("side", side),
		slog.String("addr", addr),
		slog.String("error", err.Error()),
	)

	return Result{Outcome: OutcomeBindFailed, Err: err}
}

// openCapture connects an in-process capture pair that receives a copy of
// every relayed frame. The relay works without it, only the statistics
// stay empty.
// NOTE: Concurrently unsafe method.
func (b *Broker) openCapture() {
	endpoint := "inproc://logrelay-capture-" + b.id.String()

	pull := transport.NewPull(b.ctx, b.log)
	if err := pull.Listen(endpoint); err != nil {
		b.closeSocket(pull, "closing capture socket")
		b.log.Warn("opening capture", slog.String("error", err.Error()))

		return
	}

	push := transport.NewPush(b.ctx, b.log)
	if err := push.Dial(endpoint); err != nil {
		b.closeSocket(push, "closing capture socket")
		b.closeSocket(pull, "closing capture socket")
		b.log.Warn("connecting capture", slog.String("error", err.Error()))

		return
	}

	b.capture.push = push
	b.capture.pull = pull
}

// Run relays messages until the context is cancelled. The endpoints are
// released on every return path, so a broker can't be run twice.
func (b *Broker) Run(ctx context.Context) error {
	b.mu.Lock()

	switch b.state {
	case StateBound:
	case StateClosed, StateAborted:
		b.mu.Unlock()
		return ErrClosed
	default:
		b.mu.Unlock()
		return ErrNotBound
	}

	b.state = StateRelaying

	front, back := b.front, b.back
	push, pull := b.capture.push, b.capture.pull

	b.mu.Unlock()

	defer func() {
		if err := b.Close(); err != nil {
			b.silentError(err, "closing broker")
		}
	}()

	stopCh := make(chan struct{})
	defer close(stopCh)

	go func() {
		select {
		case <-ctx.Done():
			b.cancel()
		case <-stopCh:
		}
	}()

	// NOTE: The proxy checks the capture socket against nil, so a typed
	// nil must not slip through.
	var capture zmq4.Socket

	if push != nil {
		capture = push

		go b.observe(pull)
	}

	b.log.Info("relaying")

	err := zmq4.NewProxy(b.ctx, front, back, capture).Run()
	if err != nil && b.ctx.Err() == nil && !transport.IsClosed(err) {
		return fmt.Errorf("relaying: %w", err)
	}

	b.log.Info("relay stopped")

	return nil
}

// observe counts the frames copied to the capture socket until it is
// closed.
func (b *Broker) observe(pull transport.Socket) {
	for {
		msg, err := pull.Recv()
		if err != nil {
			b.silentError(err, "receiving captured message")
			return
		}

		b.counters.observe(msg)
	}
}

// Close closes both endpoints and releases the broker context. It is
// safe to call multiple times.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed || b.state == StateAborted {
		return nil
	}

	b.state = StateClosed
	b.cancel()

	var errs []error

	for _, sck := range []transport.Socket{
		b.capture.push,
		b.capture.pull,
		b.back,
		b.front,
	} {
		if sck == nil {
			continue
		}

		if err := sck.Close(); err != nil && !transport.IsClosed(err) {
			errs = append(errs, err)
		}
	}

	b.log.Debug("broker closed")

	return errors.Join(errs...)
}

// Stats returns the relay statistics.
func (b *Broker) Stats() Stats {
	stats := b.counters.snapshot()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateBound && b.state != StateRelaying {
		return stats
	}

	if tt, ok := b.back.(zmq4.Topics); ok {
		stats.Subscriptions = uint64(len(tt.Topics()))
	}

	return stats
}

// closeSocket closes a socket and logs the failure.
func (b *Broker) closeSocket(sck transport.Socket, msg string) {
	if err := sck.Close(); err != nil {
		b.silentError(err, msg)
	}
}

// silentError logs the error, demoting expected shutdown errors to debug.
func (b *Broker) silentError(err error, msg string) {
	fn := b.log.Error

	if transport.IsClosed(err) || b.ctx.Err() != nil {
		fn = b.log.Debug
	}

	fn(msg, slog.String("error", err.Error()))
}

// Stats holds the relay statistics.
type Stats struct {
	// Messages is the number of data messages relayed downstream.
	Messages uint64 `json:"messages"`

	// Bytes is the number of payload bytes relayed downstream.
	Bytes uint64 `json:"bytes"`

	// Subscriptions is the number of distinct topic prefixes the
	// connected subscribers are subscribed to.
	Subscriptions uint64 `json:"subscriptions"`
}

// counters tracks the relayed traffic.
type counters struct {
	messages atomic.Uint64
	bytes    atomic.Uint64
}

// observe counts a captured message.
func (c *counters) observe(msg zmq4.Msg) {
	c.messages.Add(1)

	for _, frame := range msg.Frames {
		c.bytes.Add(uint64(len(frame)))
	}
}

// snapshot returns the current statistics.
func (c *counters) snapshot() Stats {
	return Stats{
		Messages: c.messages.Load(),
		Bytes:    c.bytes.Load(),
	}
}
