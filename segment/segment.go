// Package segment defines the mask-provider capability consumed by the
// cutout pipeline and a few concrete providers.
package segment

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/mask"
	nhttp "github.com/chaos-io/cutout/util/http"
)

// Provider produces a foreground mask with the same width and height as
// img, or an error.
type Provider interface {
	Segment(ctx context.Context, img image.Image) (*mask.Mask, error)
}

// Factory creates a provider for a single request. Providers are never
// shared between requests; if one implements io.Closer it is closed when
// the request ends.
type Factory func() (Provider, error)

// Func adapts a function to the Provider interface.
type Func func(ctx context.Context, img image.Image) (*mask.Mask, error)

func (f Func) Segment(ctx context.Context, img image.Image) (*mask.Mask, error) {
	return f(ctx, img)
}

// Static returns a factory handing out p for every request. p must be
// safe for concurrent use.
func Static(p Provider) Factory {
	return func() (Provider, error) {
		return p, nil
	}
}

// AlphaProvider uses the image's own alpha channel as the mask, for
// inputs that were already cut out upstream.
type AlphaProvider struct{}

func (AlphaProvider) Segment(_ context.Context, img image.Image) (*mask.Mask, error) {
	if img == nil {
		return nil, fmt.Errorf("image is nil")
	}
	return mask.FromAlpha(img), nil
}

// NewFactory builds the request-scoped factory described by cfg. cli is
// shared by remote providers; http clients are safe for concurrent use.
func NewFactory(cfg config.Segmentation, cli nhttp.IClient) (Factory, error) {
	var build func() Provider
	switch cfg.Provider {
	case config.ProviderAlpha:
		build = func() Provider { return AlphaProvider{} }
	case config.ProviderRemote:
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("remote provider needs a url")
		}
		if cli == nil {
			cli = nhttp.NewHTTPClientWithTimeout(cfg.RemoteTimeout)
		}
		build = func() Provider { return NewRemoteProvider(cfg.RemoteURL, cli, cfg.RemoteTimeout) }
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	return func() (Provider, error) {
		p := build()
		if cfg.MaxSide > 0 {
			p = &Resized{Provider: p, MaxSide: cfg.MaxSide}
		}
		return p, nil
	}, nil
}

func closeProvider(p Provider) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
