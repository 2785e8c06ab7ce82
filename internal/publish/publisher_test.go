package publish

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davseby/logrelay/internal/broker"
	"github.com/davseby/logrelay/internal/record"
	"github.com/davseby/logrelay/internal/subscribe"
	"github.com/davseby/logrelay/internal/transport"
	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func freeEndpoint(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer l.Close()

	return fmt.Sprintf("tcp://%s", l.Addr().String())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a formatter that keeps every record it formats.
type recorder struct {
	mu   sync.Mutex
	recs []record.Record
	err  error
}

func (r *recorder) Format(rec *record.Record) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recs = append(r.recs, *rec)

	if r.err != nil {
		return nil, r.err
	}

	return []byte(rec.Message), nil
}

func (r *recorder) records() []record.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]record.Record(nil), r.recs...)
}

func recorderTable(r *recorder) record.FormatTable {
	ft := record.FormatTable{}
	for _, lvl := range record.Levels {
		ft[lvl] = r
	}

	return ft
}

// collect receives messages from the socket into a channel until the
// socket is closed.
func collect(sck zmq4.Socket) <-chan zmq4.Msg {
	ch := make(chan zmq4.Msg, 64)

	go func() {
		defer close(ch)

		for {
			msg, err := sck.Recv()
			if err != nil {
				return
			}

			ch <- msg
		}
	}()

	return ch
}

// awaitDelivery calls emit until the first message arrives. Connections
// and subscriptions are established asynchronously, so the first
// messages may be dropped.
func awaitDelivery[T any](t *testing.T, ch <-chan T, emit func()) T {
	t.Helper()

	timeout := time.After(time.Second * 20)

	ticker := time.NewTicker(time.Millisecond * 50)
	defer ticker.Stop()

	for {
		emit()

		select {
		case v, ok := <-ch:
			require.True(t, ok)
			return v
		case <-ticker.C:
		case <-timeout:
			t.Fatal("message wasn't delivered")
		}
	}
}

// awaitConnected waits until the publisher is connected.
func awaitConnected(t *testing.T, p *Publisher) {
	t.Helper()

	select {
	case <-p.Connected():
	case <-time.After(time.Second * 20):
		t.Fatal("publisher didn't connect")
	}
}

// drain discards everything already queued in the channel.
func drain[T any](ch <-chan T) {
	for {
		select {
		case <-ch:
		case <-time.After(time.Millisecond * 200):
			return
		}
	}
}

func Test_NewPublisher(t *testing.T) {
	// incomplete table
	p, err := NewPublisher(testLogger(), nil, record.FormatTable{
		record.LevelInfo: record.Layout("{message}"),
	}, Config{Addr: freeEndpoint(t)})
	assert.ErrorIs(t, err, record.ErrIncompleteTable)
	assert.Nil(t, p)

	// closed pool
	pool := transport.NewPool(testLogger())
	require.NoError(t, pool.Close())

	p, err = NewPublisher(testLogger(), pool, nil, Config{Addr: freeEndpoint(t)})
	assert.ErrorIs(t, err, transport.ErrPoolClosed)
	assert.Nil(t, p)

	// success with a private pool
	p, err = NewPublisher(testLogger(), nil, nil, Config{Addr: freeEndpoint(t)})
	require.NoError(t, err)
	assert.True(t, p.ownPool)
	assert.NotNil(t, p.sink)
	assert.Len(t, p.formats, len(record.Levels))

	require.NoError(t, p.Close())
	assert.Nil(t, p.sck)

	// closing twice is a no-op
	require.NoError(t, p.Close())

	_, err = p.pool.Acquire(freeEndpoint(t))
	assert.ErrorIs(t, err, transport.ErrPoolClosed)
}

func Test_NewPublisher_SharedPool(t *testing.T) {
	pool := transport.NewPool(testLogger())
	defer pool.Close()

	cfg := Config{Addr: freeEndpoint(t)}

	a, err := NewPublisher(testLogger(), pool, nil, cfg)
	require.NoError(t, err)

	b, err := NewPublisher(testLogger(), pool, nil, cfg)
	require.NoError(t, err)

	assert.False(t, a.ownPool)
	assert.Same(t, a.sck, b.sck)

	require.NoError(t, a.Close())

	// the shared pool outlives its publishers
	c, err := NewPublisher(testLogger(), pool, nil, cfg)
	require.NoError(t, err)
	assert.Same(t, b.sck, c.sck)

	require.NoError(t, b.Close())
	require.NoError(t, c.Close())
}

func Test_Publisher_Format(t *testing.T) {
	p, err := NewPublisher(testLogger(), nil, nil, Config{Addr: freeEndpoint(t)})
	require.NoError(t, err)

	defer p.Close()

	body, err := p.Format(&record.Record{Level: record.LevelInfo, Logger: "dmm", Message: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "dmm:ok\n", string(body))

	body, err = p.Format(&record.Record{Level: record.Level(1), Message: "ok"})
	assert.ErrorIs(t, err, record.ErrUnknownLevel)
	assert.Nil(t, body)
}

func Test_Publisher_Emit_FormatFailure(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []error
	)

	sink := func(rec *record.Record, err error) {
		mu.Lock()
		defer mu.Unlock()

		failed = append(failed, err)
	}

	rec := &recorder{err: assert.AnError}

	p, err := NewPublisher(testLogger(), nil, recorderTable(rec), Config{Addr: freeEndpoint(t)}, WithErrorSink(sink))
	require.NoError(t, err)

	defer p.Close()

	r := record.NewRecord(record.LevelError, "dmm", "sub::broken")
	p.Emit(r)

	assert.Equal(t, "broken", r.Message)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], assert.AnError)

	// a bad interpolation with the real formatters
	p2, err := NewPublisher(testLogger(), nil, nil, Config{Addr: freeEndpoint(t)}, WithErrorSink(sink))
	require.NoError(t, err)

	defer p2.Close()

	p2.Emit(record.NewRecord(record.LevelInfo, "dmm", "reading %d", "x"))
	p2.Emit(&record.Record{Level: record.Level(99), Message: "unknown"})

	require.Len(t, failed, 3)
	assert.ErrorIs(t, failed[1], record.ErrFormat)
	assert.ErrorIs(t, failed[2], record.ErrUnknownLevel)
}

func Test_Publisher_Emit_DefaultSink(t *testing.T) {
	var buffer strings.Builder

	p, err := NewPublisher(
		slog.New(slog.NewTextHandler(&buffer, nil)),
		nil,
		nil,
		Config{Addr: freeEndpoint(t)},
	)
	require.NoError(t, err)

	defer p.Close()

	p.Emit(record.NewRecord(record.LevelWarning, "dmm", "reading %d", "x"))

	assert.Contains(t, buffer.String(), "level=ERROR msg=\"formatting log record\" job=publisher level=WARNING logger=dmm")
}

func Test_Publisher_Emit_Closed(t *testing.T) {
	rec := &recorder{}

	p, err := NewPublisher(testLogger(), nil, recorderTable(rec), Config{Addr: freeEndpoint(t)})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.NotPanics(t, func() {
		p.Emit(record.NewRecord(record.LevelInfo, "dmm", "late"))
	})
}

func Test_Publisher_Emit_Wire(t *testing.T) {
	endpoint := freeEndpoint(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := zmq4.NewSub(ctx)
	defer sub.Close()

	require.NoError(t, sub.Listen(endpoint))

	p, err := NewPublisher(testLogger(), nil, nil, Config{Addr: endpoint, RootTopic: "qcodes"})
	require.NoError(t, err)

	defer p.Close()

	awaitConnected(t, p)

	require.NoError(t, sub.SetOption(zmq4.OptionSubscribe, ""))

	msgs := collect(sub)

	var last *record.Record

	msg := awaitDelivery(t, msgs, func() {
		last = &record.Record{
			Level:   record.LevelCritical,
			Logger:  "dmm",
			Message: "instrument.dmm::overload",
			File:    "/src/dmm.go",
			Line:    7,
		}

		p.Emit(last)
	})

	require.Len(t, msg.Frames, 2)
	assert.Equal(t, "qcodes.CRITICAL.instrument.dmm", string(msg.Frames[0]))
	assert.Equal(t, "CRITICAL dmm.go:7 - overload\n", string(msg.Frames[1]))
	assert.Equal(t, "overload", last.Message)

	drain(msgs)

	p.Emit(&record.Record{Level: record.LevelInfo, Logger: "dmm", Message: "plain"})

	select {
	case msg := <-msgs:
		require.Len(t, msg.Frames, 2)
		assert.Equal(t, "qcodes.INFO", string(msg.Frames[0]))
		assert.Equal(t, "dmm:plain\n", string(msg.Frames[1]))
	case <-time.After(time.Second * 10):
		t.Fatal("message wasn't delivered")
	}
}

func Test_Publisher_EndToEnd(t *testing.T) {
	cfg := broker.Config{
		Frontend: freeEndpoint(t),
		Backend:  freeEndpoint(t),
	}

	brk := broker.NewBroker(testLogger(), cfg)
	require.True(t, brk.Start().Started())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)

	go func() {
		runErr <- brk.Run(ctx)
	}()

	p, err := NewPublisher(testLogger(), nil, nil, Config{Addr: cfg.Frontend})
	require.NoError(t, err)

	defer p.Close()

	awaitConnected(t, p)

	sub, err := subscribe.NewSubscriber(ctx, testLogger(), subscribe.Config{
		Addr:   cfg.Backend,
		Topics: []string{"ERROR"},
	})
	require.NoError(t, err)

	defer sub.Close()

	msgs := make(chan subscribe.Message, 64)

	go func() {
		for {
			msg, err := sub.Recv()
			if err != nil {
				return
			}

			msgs <- msg
		}
	}()

	// wait until the subscription reached the broker backend
	awaitDelivery[subscribe.Message](t, msgs, func() {
		p.Logf(record.LevelError, "warmup", "warmup")
	})

	drain[subscribe.Message](msgs)

	p.Logf(record.LevelError, "dmm", "sweep::failed after %d points", 10)

	select {
	case msg := <-msgs:
		assert.True(t, strings.HasPrefix(msg.Topic, "ERROR"))
		assert.Equal(t, "ERROR.sweep", msg.Topic)
		assert.Contains(t, string(msg.Body), "failed after 10 points")
		assert.Contains(t, string(msg.Body), "publisher_test.go:dmm:")
	case <-time.After(time.Second * 10):
		t.Fatal("error record wasn't delivered")
	}

	// debug records don't match the subscription, the sentinel sent right
	// after must be the next message
	p.Logf(record.LevelDebug, "dmm", "not for you")
	p.Logf(record.LevelError, "dmm", "sentinel")

	select {
	case msg := <-msgs:
		assert.Equal(t, "ERROR", msg.Topic)
		assert.Contains(t, string(msg.Body), "sentinel")
	case <-time.After(time.Second * 10):
		t.Fatal("sentinel record wasn't delivered")
	}

	cancel()

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second * 10):
		t.Fatal("broker didn't stop")
	}

	assert.Equal(t, broker.StateClosed, brk.State())
}
