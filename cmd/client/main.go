package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/flround"
	"github.com/absmach/flround/client"
	"github.com/absmach/flround/client/registry"
	"github.com/absmach/flround/client/runtimes"
	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/mqtt"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/wasm"
	"github.com/caarlos0/env/v11"
)

const (
	svcName         = "client"
	envPrefix       = "FLROUND_CLIENT_"
	registryTimeout = 30 * time.Second
)

type envConfig struct {
	LogLevel        string          `env:"LOG_LEVEL"         envDefault:"info"`
	ClientID        uint16          `env:"CLIENT_ID"         envDefault:"1"`
	MQTTAddress     string          `env:"MQTT_ADDRESS"      envDefault:"tcp://localhost:1883"`
	MQTTClientID    string          `env:"MQTT_CLIENT_ID"`
	MQTTUsername    string          `env:"MQTT_USERNAME"`
	MQTTPassword    string          `env:"MQTT_PASSWORD"`
	MQTTQoS         uint8           `env:"MQTT_QOS"          envDefault:"1"`
	MQTTTimeout     time.Duration   `env:"MQTT_TIMEOUT"      envDefault:"30s"`
	TopicPrefix     string          `env:"TOPIC_PREFIX"`
	Epochs          uint            `env:"EPOCHS"            envDefault:"1"`
	ReadyInterval   time.Duration   `env:"READY_INTERVAL"    envDefault:"5s"`
	WasmFile        string          `env:"WASM_FILE"`
	ModuleName      string          `env:"MODULE_NAME"       envDefault:"flround-train"`
	HostRuntime     string          `env:"HOST_RUNTIME"`
	HostRuntimeArgs []string        `env:"HOST_RUNTIME_ARGS" envSeparator:" "`
	Registry        registry.Config `envPrefix:"REGISTRY_"`
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

	opts := env.Options{Prefix: envPrefix}
	if path := os.Getenv(flround.ConfigEnv); path != "" {
		fileCfg, err := flround.LoadConfig(path)
		if err != nil {
			return err
		}
		opts.Environment = fileCfg.ClientEnv(envPrefix)
	}

	cfg := envConfig{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = fmt.Sprintf("%s-%d-%s", svcName, cfg.ClientID, namegenerator.NewGenerator().Generate())
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	binary, err := loadModule(ctx, cfg, logger)
	if err != nil {
		return err
	}

	codec, err := params.NewCBORCodec()
	if err != nil {
		return err
	}

	computation, err := newComputation(cfg, binary, codec, logger)
	if err != nil {
		return err
	}
	if c, ok := computation.(io.Closer); ok {
		defer c.Close()
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

	session, err := client.NewSession(client.Config{
		ID:            fl.ClientID(cfg.ClientID),
		TopicPrefix:   cfg.TopicPrefix,
		ReadyInterval: cfg.ReadyInterval,
	}, pubsub, codec, computation, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting client", slog.Uint64("client_id", uint64(cfg.ClientID)), slog.Uint64("epochs", uint64(cfg.Epochs)))
	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session failed: %w", err)
	}

	return nil
}

func loadModule(ctx context.Context, cfg envConfig, logger *slog.Logger) ([]byte, error) {
	if cfg.WasmFile != "" {
		logger.Info("Loading WASM file", slog.String("path", cfg.WasmFile))
		binary, err := os.ReadFile(cfg.WasmFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load WASM file: %w", err)
		}

		return binary, nil
	}

	fetcher, err := registry.NewFetcher(cfg.Registry, logger)
	if err != nil {
		return nil, errors.Join(errors.New("neither a WASM file nor a usable registry was configured"), err)
	}

	ctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()

	return fetcher.Fetch(ctx, cfg.ModuleName)
}

func newComputation(cfg envConfig, binary []byte, codec params.Codec, logger *slog.Logger) (client.LocalComputation, error) {
	if cfg.HostRuntime != "" {
		return runtimes.NewHostComputation(cfg.HostRuntime, cfg.HostRuntimeArgs, binary, os.TempDir(), cfg.Epochs, codec, logger)
	}

	return runtimes.NewWazeroComputation(binary, cfg.Epochs, wasm.NewRunner(logger), codec)
}
