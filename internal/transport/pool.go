package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/go-zeromq/zmq4"
	"golang.org/x/exp/slog"
)

// ErrPoolClosed is returned when a closed pool is used.
var ErrPoolClosed = errors.New("transport pool closed")

// Pool holds publish sockets shared by every publisher of a process. A
// pool must never be shared between processes.
type Pool struct {
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	sockets map[string]*PubSocket
}

// NewPool creates a new socket pool.
func NewPool(log *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		log:     log.With("job", "transport-pool"),
		ctx:     ctx,
		cancel:  cancel,
		sockets: make(map[string]*PubSocket),
	}
}

// Acquire returns the publish socket connected to the endpoint, creating
// it if needed. The connection is established in the background, so the
// call never waits for the remote side.
func (p *Pool) Acquire(endpoint string) (*PubSocket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if ps, ok := p.sockets[endpoint]; ok {
		ps.refs++
		return ps, nil
	}

	ps := &PubSocket{
		endpoint: endpoint,
		sck: NewPub(
			p.ctx,
			p.log,
			zmq4.WithDialerMaxRetries(-1),
		),
		refs:      1,
		connected: make(chan struct{}),
	}

	p.sockets[endpoint] = ps

	go func() {
		err := ps.sck.Dial(endpoint)
		if err != nil {
			if !IsClosed(err) && p.ctx.Err() == nil {
				p.log.Error(
					"connecting publish socket",
					slog.String("endpoint", endpoint),
					slog.String("error", err.Error()),
				)
			}

			return
		}

		close(ps.connected)

		p.log.Debug("publish socket connected", slog.String("endpoint", endpoint))
	}()

	return ps, nil
}

// Release drops a reference to the socket and closes it once the last
// user is gone.
func (p *Pool) Release(ps *PubSocket) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	ps.refs--
	if ps.refs > 0 {
		return nil
	}

	delete(p.sockets, ps.endpoint)

	return ps.sck.Close()
}

// Close closes every socket of the pool and releases the pool context.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.cancel()

	var errs []error

	for endpoint, ps := range p.sockets {
		if err := ps.sck.Close(); err != nil && !IsClosed(err) {
			errs = append(errs, err)
		}

		delete(p.sockets, endpoint)
	}

	return errors.Join(errs...)
}

// PubSocket is a publish socket shared through a pool.
type PubSocket struct {
	endpoint string

	mu  sync.Mutex
	sck Socket

	connected chan struct{}

	// refs is guarded by the pool mutex.
	refs int
}

// Endpoint returns the endpoint the socket connects to.
func (ps *PubSocket) Endpoint() string {
	return ps.endpoint
}

// Connected returns a channel that is closed once the socket is
// connected to its endpoint.
func (ps *PubSocket) Connected() <-chan struct{} {
	return ps.connected
}

// Send sends a two frame {topic, body} message. It doesn't wait for
// subscribers: without any the message is dropped.
func (ps *PubSocket) Send(topic string, body []byte) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return ps.sck.SendMulti(zmq4.NewMsgFrom([]byte(topic), body))
}
