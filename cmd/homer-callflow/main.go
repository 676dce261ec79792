package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/homer-callflow/internal/calls"
	"github.com/sweeney/homer-callflow/internal/config"
	"github.com/sweeney/homer-callflow/internal/homer"
	"github.com/sweeney/homer-callflow/internal/logging"
	"github.com/sweeney/homer-callflow/internal/publisher"
	"github.com/sweeney/homer-callflow/internal/server"
	"github.com/sweeney/homer-callflow/internal/watch"
)

const usage = `usage: homer-callflow [-config path] <command>

commands:
  serve   run the HTTP API
  watch   poll Homer and publish call status changes to MQTT
  run     both
`

func main() {
	configPath := flag.String("config", "/etc/homer-callflow/homer-callflow.yaml", "Path to config file")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	mode, err := parseMode(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infow("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, mode, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatalw("exiting", "error", err)
	}
	logger.Info("shutdown complete")
}

type mode struct {
	serve bool
	watch bool
}

func parseMode(args []string) (mode, error) {
	if len(args) != 1 {
		return mode{}, fmt.Errorf("expected exactly one command, got %d", len(args))
	}
	switch args[0] {
	case "serve":
		return mode{serve: true}, nil
	case "watch":
		return mode{watch: true}, nil
	case "run":
		return mode{serve: true, watch: true}, nil
	default:
		return mode{}, fmt.Errorf("unknown command %q", args[0])
	}
}

func newService(cfg *config.Config, logger *zap.SugaredLogger) *calls.Service {
	client := homer.New(homer.Options{
		URL:                cfg.Homer.URL,
		Username:           cfg.Homer.Username,
		Password:           cfg.Homer.Password,
		SearchLimit:        cfg.Homer.SearchLimit,
		SearchTimeout:      cfg.Homer.SearchTimeout,
		TransactionTimeout: cfg.Homer.TransactionTimeout,
		InsecureSkipVerify: cfg.Homer.InsecureSkipVerify,
	})
	return calls.New(client, calls.Options{
		DetailWindow: cfg.Homer.DetailWindow,
		CallIDWindow: cfg.Homer.CallIDWindow,
	}, logger.Named("calls"))
}

func run(ctx context.Context, m mode, cfg *config.Config, logger *zap.SugaredLogger) error {
	svc := newService(cfg, logger)

	var pub publisher.Publisher
	if m.watch {
		mqttPub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      1,
			Retain:   true,
		})
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer mqttPub.Close()
		logger.Infow("connected to MQTT broker", "broker", cfg.MQTT.Broker)
		pub = mqttPub
	}

	return serve(ctx, m, cfg, svc, pub, logger)
}

// serve runs the selected components until ctx is cancelled or one fails.
func serve(ctx context.Context, m mode, cfg *config.Config, svc *calls.Service, pub publisher.Publisher, logger *zap.SugaredLogger) error {
	g, ctx := errgroup.WithContext(ctx)

	if m.serve {
		srv := server.New(svc, server.Options{
			Listen:        cfg.HTTP.Listen,
			AdminUser:     cfg.HTTP.AdminUser,
			AdminPassword: cfg.HTTP.AdminPassword,
			Release:       !cfg.Log.Development,
		}, logger.Named("http"))
		g.Go(func() error { return srv.Start(ctx) })
	}

	if m.watch {
		w := watch.New(svc, pub, watch.Options{
			Interval:    cfg.Watch.Interval,
			Lookback:    cfg.Watch.Lookback,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger.Named("watch"))
		g.Go(func() error { return w.Run(ctx) })
	}

	return g.Wait()
}
