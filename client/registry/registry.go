// Package registry fetches the training module from an OCI registry.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const mib = 1024 * 1024

var (
	ErrNoLayers      = errors.New("no valid layers found in manifest")
	ErrEmptyRegistry = errors.New("registry url is required")
)

type Config struct {
	URL          string `env:"URL"          envDefault:""`
	Tag          string `env:"TAG"          envDefault:"latest"`
	PlainHTTP    bool   `env:"PLAIN_HTTP"   envDefault:"false"`
	Authenticate bool   `env:"AUTHENTICATE" envDefault:"false"`
	Token        string `env:"PAT"          envDefault:""`
	Username     string `env:"USERNAME"     envDefault:""`
	Password     string `env:"PASSWORD"     envDefault:""`
}

func (c Config) Validate() error {
	if c.URL == "" {
		return ErrEmptyRegistry
	}
	if c.Authenticate {
		hasToken := c.Token != ""
		hasCredentials := c.Username != "" && c.Password != ""
		if !hasToken && !hasCredentials {
			return errors.New("either PAT or username/password must be provided when authentication is enabled")
		}
	}

	return nil
}

type Fetcher struct {
	cfg    Config
	logger *slog.Logger
}

func NewFetcher(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tag == "" {
		cfg.Tag = "latest"
	}

	return &Fetcher{cfg: cfg, logger: logger}, nil
}

// Fetch downloads the largest layer of name:tag, which holds the module.
func (f *Fetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	repo, err := remote.NewRepository(fmt.Sprintf("%s/%s", f.cfg.URL, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create repository for %s: %w", name, err)
	}
	repo.PlainHTTP = f.cfg.PlainHTTP
	f.setupAuthentication(repo)

	data, err := FetchModule(ctx, repo, f.cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	f.logger.Info("Fetched training module",
		slog.String("name", name),
		slog.String("tag", f.cfg.Tag),
		slog.String("size_mb", fmt.Sprintf("%.2f", float64(len(data))/mib)),
	)

	return data, nil
}

func (f *Fetcher) setupAuthentication(repo *remote.Repository) {
	if !f.cfg.Authenticate {
		return
	}

	cred := auth.Credential{
		Username:    f.cfg.Username,
		Password:    f.cfg.Password,
		AccessToken: f.cfg.Token,
	}
	if f.cfg.Username != "" && f.cfg.Password != "" {
		cred.AccessToken = ""
	}

	repo.Client = &auth.Client{
		Client:     retry.DefaultClient,
		Cache:      auth.NewCache(),
		Credential: auth.StaticCredential(repo.Reference.Registry, cred),
	}
}

// FetchModule resolves ref in target and returns the content of the largest
// layer of its manifest.
func FetchModule(ctx context.Context, target oras.ReadOnlyTarget, ref string) ([]byte, error) {
	desc, err := target.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest: %w", err)
	}

	manifestData, err := content.FetchAll(ctx, target, desc)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	layer, err := largestLayer(manifest)
	if err != nil {
		return nil, err
	}

	data, err := content.FetchAll(ctx, target, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch layer: %w", err)
	}

	return data, nil
}

func largestLayer(manifest ocispec.Manifest) (ocispec.Descriptor, error) {
	var largest ocispec.Descriptor
	for _, layer := range manifest.Layers {
		if layer.Size > largest.Size {
			largest = layer
		}
	}
	if largest.Size == 0 {
		return ocispec.Descriptor{}, ErrNoLayers
	}

	return largest, nil
}
