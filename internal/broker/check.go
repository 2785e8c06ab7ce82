package broker

import (
	"context"

	"github.com/davseby/logrelay/internal/transport"
	"golang.org/x/exp/slog"
)

// CheckRunning reports whether a broker already owns both endpoints. It
// binds both endpoints transiently and releases whatever it bound before
// returning.
// NOTE: A single taken endpoint is reported as not running.
func CheckRunning(ctx context.Context, log *slog.Logger, cfg Config) bool {
	log = log.With("job", "broker-check")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	front := transport.NewSub(ctx, log)
	frontTaken := front.Listen(cfg.Frontend) != nil

	if err := front.Close(); err != nil && !transport.IsClosed(err) {
		log.Debug("closing frontend socket", slog.String("error", err.Error()))
	}

	back := transport.NewXPub(ctx, log)
	backTaken := back.Listen(cfg.Backend) != nil

	if err := back.Close(); err != nil && !transport.IsClosed(err) {
		log.Debug("closing backend socket", slog.String("error", err.Error()))
	}

	log.Debug(
		"checked broker endpoints",
		slog.Bool("frontend_taken", frontTaken),
		slog.Bool("backend_taken", backTaken),
	)

	return frontTaken && backTaken
}
