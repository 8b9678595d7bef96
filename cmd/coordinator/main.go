package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/flround"
	"github.com/absmach/flround/coordinator"
	"github.com/absmach/flround/coordinator/api"
	"github.com/absmach/flround/coordinator/middleware"
	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/jaeger"
	"github.com/absmach/flround/pkg/mqtt"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/prometheus"
	"github.com/absmach/flround/pkg/server"
	httpserver "github.com/absmach/flround/pkg/server/http"
	"github.com/absmach/flround/pkg/storage"
	"github.com/absmach/flround/pkg/wasm"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName     = "coordinator"
	envPrefix   = "FLROUND_COORDINATOR_"
	defHTTPPort = "7070"
)

type envConfig struct {
	LogLevel         string         `env:"LOG_LEVEL"         envDefault:"info"`
	InstanceID       string         `env:"INSTANCE_ID"`
	MQTTAddress      string         `env:"MQTT_ADDRESS"      envDefault:"tcp://localhost:1883"`
	MQTTClientID     string         `env:"MQTT_CLIENT_ID"`
	MQTTUsername     string         `env:"MQTT_USERNAME"`
	MQTTPassword     string         `env:"MQTT_PASSWORD"`
	MQTTQoS          uint8          `env:"MQTT_QOS"          envDefault:"1"`
	MQTTTimeout      time.Duration  `env:"MQTT_TIMEOUT"      envDefault:"30s"`
	NumClients       uint16         `env:"NUM_CLIENTS"       envDefault:"2"`
	TotalRounds      uint64         `env:"TOTAL_ROUNDS"      envDefault:"3"`
	FirstClientID    uint16         `env:"FIRST_CLIENT_ID"   envDefault:"1"`
	TopicPrefix      string         `env:"TOPIC_PREFIX"`
	InitialModel     string         `env:"INITIAL_MODEL"     envDefault:"initial_parameters.cbor"`
	ModelPath        string         `env:"MODEL_PATH"        envDefault:"global_parameters.cbor"`
	ReadyTimeout     time.Duration  `env:"READY_TIMEOUT"     envDefault:"0s"`
	RoundTimeout     time.Duration  `env:"ROUND_TIMEOUT"     envDefault:"0s"`
	DeadlinePolicy   string         `env:"DEADLINE_POLICY"   envDefault:"abort"`
	MinContributions int            `env:"MIN_CONTRIBUTIONS" envDefault:"0"`
	AggregatorWasm   string         `env:"AGGREGATOR_WASM"`
	Storage          storage.Config
	Server           server.Config `envPrefix:"HTTP_"`
	OTELURL          url.URL       `env:"OTEL_URL"`
	TraceRatio       float64       `env:"TRACE_RATIO"       envDefault:"0"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	opts := env.Options{Prefix: envPrefix}
	if path := os.Getenv(flround.ConfigEnv); path != "" {
		fileCfg, err := flround.LoadConfig(path)
		if err != nil {
			return err
		}
		opts.Environment = fileCfg.CoordinatorEnv(envPrefix)
	}

	cfg := envConfig{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = fmt.Sprintf("%s-%s", svcName, namegenerator.NewGenerator().Generate())
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = defHTTPPort
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			return fmt.Errorf("failed to initialize opentelemetry: %w", err)
		}
		defer func() {
			if err := sdktp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	codec, err := params.NewCBORCodec()
	if err != nil {
		return err
	}

	files := fl.NewFileSink(codec)
	initial, err := files.Load(ctx, cfg.InitialModel)
	if err != nil {
		return fmt.Errorf("failed to load initial parameters from %s: %w", cfg.InitialModel, err)
	}

	repos, err := storage.NewRepositories(cfg.Storage, codec)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if repos.Closer != nil {
		defer repos.Closer.Close()
	}
	var sink fl.Sink = files
	if repos.Models != nil {
		sink = fl.MultiSink(files, repos.Models)
	}

	var aggregator fl.Aggregator = fl.NewMeanAggregator()
	if cfg.AggregatorWasm != "" {
		runner := wasm.NewRunner(logger)
		defer runner.Close(context.Background())
		aggregator, err = fl.NewWasmAggregator(cfg.AggregatorWasm, runner, codec)
		if err != nil {
			return err
		}
	}

	pubsub, err := mqtt.NewPubSub(mqtt.Config{
		URL:          cfg.MQTTAddress,
		ID:           cfg.MQTTClientID,
		Username:     cfg.MQTTUsername,
		Password:     cfg.MQTTPassword,
		QoS:          cfg.MQTTQoS,
		CleanSession: true,
		Timeout:      cfg.MQTTTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mqtt pubsub: %w", err)
	}

	svc, err := coordinator.New(coordinator.Config{
		NumClients:       cfg.NumClients,
		TotalRounds:      cfg.TotalRounds,
		FirstClientID:    fl.ClientID(cfg.FirstClientID),
		TopicPrefix:      cfg.TopicPrefix,
		ModelPath:        cfg.ModelPath,
		ReadyTimeout:     cfg.ReadyTimeout,
		RoundTimeout:     cfg.RoundTimeout,
		DeadlinePolicy:   coordinator.DeadlinePolicy(cfg.DeadlinePolicy),
		MinContributions: cfg.MinContributions,
	}, pubsub, codec, aggregator, sink, repos.Rounds, initial, logger)
	if err != nil {
		return err
	}
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics("flround", svcName)
	svc = middleware.Metrics(counter, latency, svc)

	hs := httpserver.NewServer(ctx, cancel, svcName, cfg.Server, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	g.Go(func() error {
		defer cancel()
		// Messages are routed through the middleware chain.
		if err := svc.Run(ctx, func(topic string, payload []byte) error {
			return svc.Handle(ctx, topic, payload)
		}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("training run failed: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))

		return err
	}

	return nil
}
