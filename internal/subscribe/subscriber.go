// package subscribe provides the consumer side of the relay: a subscriber
// connected to the broker backend that receives the messages matching its
// topic prefixes.
package subscribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/davseby/logrelay/internal/transport"
	"github.com/go-zeromq/zmq4"
	"golang.org/x/exp/slog"
)

// ErrMalformedMessage is returned when a received message isn't a two
// frame {topic, body} message.
var ErrMalformedMessage = errors.New("malformed message")

// Config holds the settings for the subscriber.
type Config struct {
	// Addr is the broker backend endpoint.
	Addr string `default:"tcp://localhost:5560" usage:"broker backend endpoint"`

	// Topics are the topic prefixes to subscribe to. No topics means
	// every message.
	Topics []string `usage:"topic prefixes to subscribe to"`
}

// Message is a received log message.
type Message struct {
	// Topic is the dot delimited topic.
	Topic string

	// Body is the formatted record.
	Body []byte
}

// Subscriber receives log messages from the broker.
type Subscriber struct {
	log *slog.Logger
	sck transport.Socket
}

// NewSubscriber creates a new subscriber connected to the broker backend.
func NewSubscriber(ctx context.Context, log *slog.Logger, cfg Config) (*Subscriber, error) {
	log = log.With("job", "subscriber")

	sck := transport.NewSub(ctx, log)

	if err := sck.Dial(cfg.Addr); err != nil {
		sck.Close()
		return nil, fmt.Errorf("connecting to %q: %w", cfg.Addr, err)
	}

	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{""}
	}

	for _, topic := range topics {
		if err := sck.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			sck.Close()
			return nil, fmt.Errorf("subscribing to %q: %w", topic, err)
		}

		log.Debug("subscribed", slog.String("topic", topic))
	}

	return &Subscriber{
		log: log,
		sck: sck,
	}, nil
}

// Recv blocks until the next message arrives, the context given to
// NewSubscriber is cancelled or the subscriber is closed.
func (s *Subscriber) Recv() (Message, error) {
	msg, err := s.sck.Recv()
	if err != nil {
		return Message{}, err
	}

	if len(msg.Frames) != 2 {
		return Message{}, fmt.Errorf("%w: %d frames", ErrMalformedMessage, len(msg.Frames))
	}

	return Message{
		Topic: string(msg.Frames[0]),
		Body:  msg.Frames[1],
	}, nil
}

// Close closes the subscriber socket.
func (s *Subscriber) Close() error {
	return s.sck.Close()
}
