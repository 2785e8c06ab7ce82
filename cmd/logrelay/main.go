package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/davseby/logrelay/internal/broker"
	"github.com/davseby/logrelay/internal/server"
	"golang.org/x/exp/slog"
)

// config holds the broker process settings.
type config struct {
	Broker broker.Config
	Status server.Config

	// Check only reports whether a broker already owns both endpoints.
	Check bool `default:"false" usage:"report whether a broker is running and exit"`

	// LogLevel is the minimum level of the process logs.
	LogLevel string `default:"info" usage:"process log level"`
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Info("application shutdown")

	if cfg.Check {
		running := broker.CheckRunning(context.Background(), logger, cfg.Broker)

		logger.Info("broker check", slog.Bool("running", running))
		fmt.Println(running)

		return
	}

	stop, doneCh := startServices(logger, cfg)
	if stop == nil {
		return
	}
	defer stop()

	trapInstance(logger, doneCh)
}

// loadConfig loads the configuration from defaults, the optional yaml
// file, the environment and the flags.
func loadConfig(args []string) (config, error) {
	var cfg config

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:  "LOGRELAY",
		FlagPrefix: "",
		Args:       args,
		Files:      []string{"logrelay.yaml", "/etc/logrelay/logrelay.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return config{}, err
	}

	return cfg, nil
}

// newLogger creates the process logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level

	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}

// startServices binds the broker and starts the relay and the status
// server. It returns a nil stop function when the broker couldn't bind,
// in which case the process has nothing to do.
func startServices(logger *slog.Logger, cfg config) (func(), <-chan struct{}) {
	brk := broker.NewBroker(logger, cfg.Broker)

	res := brk.Start()
	if !res.Started() {
		logger.Info("broker not started", slog.String("outcome", res.Outcome.String()))
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	doneCh := make(chan struct{})

	wg.Add(1)

	go func() {
		defer wg.Done()
		defer close(doneCh)

		if err := brk.Run(ctx); err != nil {
			logger.Error("running broker", slog.String("error", err.Error()))
		}
	}()

	if cfg.Status.Addr != "" {
		srv := server.NewServer(logger, brk, cfg.Status)

		wg.Add(1)

		go func() {
			defer wg.Done()

			srv.ListenAndServe(ctx)
		}()
	}

	return func() {
		cancel()
		wg.Wait()
	}, doneCh
}

// trapInstance blocks until a termination signal is received or the relay
// stops on its own.
func trapInstance(logger *slog.Logger, doneCh <-chan struct{}) {
	terminationCh := make(chan os.Signal, 1)

	signal.Notify(terminationCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-terminationCh:
		logger.Info("initiating shutdown")
	case <-doneCh:
		logger.Info("relay stopped, initiating shutdown")
	}
}
