package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/davseby/logrelay/internal/subscribe"
	"golang.org/x/exp/slog"
)

// config holds the consumer process settings.
type config struct {
	Subscriber subscribe.Config

	// LogLevel is the minimum level of the process logs.
	LogLevel string `default:"info" usage:"process log level"`
}

func main() {
	var cfg config

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "LOGTAIL",
		Args:      os.Args[1:],
		Files:     []string{"logtail.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})

	if err := loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(2)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		lvl = slog.LevelInfo
	}

	// NOTE: Process logs go to stderr, stdout carries the received
	// records only.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, err := subscribe.NewSubscriber(ctx, logger, cfg.Subscriber)
	if err != nil {
		logger.Error("creating subscriber", slog.String("error", err.Error()))
		return
	}
	defer sub.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for {
		msg, err := sub.Recv()
		switch {
		case errors.Is(err, subscribe.ErrMalformedMessage):
			logger.Warn("skipping message", slog.String("error", err.Error()))
			continue
		case err != nil:
			if ctx.Err() == nil {
				logger.Error("receiving message", slog.String("error", err.Error()))
			}

			return
		}

		if err := writeMessage(out, msg); err != nil {
			logger.Error("writing message", slog.String("error", err.Error()))
			return
		}
	}
}

// writeMessage writes the message as "<topic> <body>" and makes sure it
// ends with a newline.
func writeMessage(out *bufio.Writer, msg subscribe.Message) error {
	body := msg.Body
	if len(body) == 0 || body[len(body)-1] != '\n' {
		body = append(body, '\n')
	}

	if _, err := fmt.Fprintf(out, "%s %s", msg.Topic, body); err != nil {
		return err
	}

	return out.Flush()
}
