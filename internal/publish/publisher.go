// package publish provides the log publisher. It turns log records into
// topic tagged {topic, body} messages and sends them to the broker
// frontend. It never waits for subscribers and never fails the log call.
package publish

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/davseby/logrelay/internal/record"
	"github.com/davseby/logrelay/internal/transport"
	"golang.org/x/exp/slog"
)

// Config holds the settings for the publisher.
type Config struct {
	// Addr is the broker frontend endpoint.
	Addr string `default:"tcp://localhost:5559" usage:"broker frontend endpoint"`

	// RootTopic is the optional namespace put in front of every topic.
	RootTopic string `usage:"namespace put in front of every topic"`
}

// ErrorSink receives records that couldn't be formatted. Such records are
// never sent.
type ErrorSink func(rec *record.Record, err error)

// Option configures a publisher.
type Option func(*Publisher)

// WithErrorSink replaces the default error sink, which logs the failure
// through the publisher logger.
func WithErrorSink(sink ErrorSink) Option {
	return func(p *Publisher) {
		p.sink = sink
	}
}

// Publisher sends log records to the broker.
type Publisher struct {
	log *slog.Logger
	cfg Config

	formats record.FormatTable
	sink    ErrorSink

	pool    *transport.Pool
	ownPool bool

	mu  sync.RWMutex
	sck *transport.PubSocket
}

// NewPublisher creates a new publisher connected to the configured
// address. The pool may be shared by every publisher of the process; when
// it is nil the publisher owns a private pool. A nil format table means
// the default layouts.
func NewPublisher(
	log *slog.Logger,
	pool *transport.Pool,
	formats record.FormatTable,
	cfg Config,
	opts ...Option,
) (*Publisher, error) {
	if formats == nil {
		formats = record.DefaultFormatTable()
	}

	ft, err := record.NewFormatTable(formats)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		log:     log.With("job", "publisher"),
		cfg:     cfg,
		formats: ft,
		pool:    pool,
	}

	p.sink = p.logError

	for _, opt := range opts {
		opt(p)
	}

	if p.pool == nil {
		p.pool = transport.NewPool(log)
		p.ownPool = true
	}

	p.sck, err = p.pool.Acquire(cfg.Addr)
	if err != nil {
		if p.ownPool {
			p.pool.Close()
		}

		return nil, fmt.Errorf("acquiring publish socket: %w", err)
	}

	return p, nil
}

// Format renders the record with the formatter bound to its level.
func (p *Publisher) Format(rec *record.Record) ([]byte, error) {
	return p.formats.Format(rec)
}

// Emit publishes the record. An embedded subtopic is stripped from the
// record message and appended to the topic. Formatting failures go to the
// error sink and the record is dropped.
func (p *Publisher) Emit(rec *record.Record) {
	sub, rest, ok := record.SplitSubtopic(rec.Message)
	if ok {
		rec.Message = rest
	}

	body, err := p.Format(rec)
	if err != nil {
		p.sink(rec, err)
		return
	}

	topic := record.Topic(p.cfg.RootTopic, rec.Level, sub)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.sck == nil {
		p.log.Debug("dropping record of a closed publisher", slog.String("topic", topic))
		return
	}

	if err := p.sck.Send(topic, body); err != nil {
		p.log.Debug(
			"sending record",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

// Logf creates a record from a printf style call and publishes it. The
// caller's source position is attached to the record.
func (p *Publisher) Logf(lvl record.Level, logger, format string, args ...any) {
	rec := record.NewRecord(lvl, logger, format, args...)

	if _, file, line, ok := runtime.Caller(1); ok {
		rec.File = file
		rec.Line = line
	}

	p.Emit(rec)
}

// Connected returns a channel that is closed once the publisher is
// connected to the broker. Records emitted earlier are dropped.
func (p *Publisher) Connected() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.sck == nil {
		return nil
	}

	return p.sck.Connected()
}

// Close releases the publish socket. Records emitted afterwards are
// dropped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sck == nil {
		return nil
	}

	err := p.pool.Release(p.sck)
	p.sck = nil

	if p.ownPool {
		if cerr := p.pool.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

// logError is the default error sink.
func (p *Publisher) logError(rec *record.Record, err error) {
	p.log.Error(
		"formatting log record",
		slog.String("level", rec.Level.String()),
		slog.String("logger", rec.LoggerName()),
		slog.String("error", err.Error()),
	)
}
