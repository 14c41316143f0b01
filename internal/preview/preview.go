// Package preview resolves source video details locally before a recap job
// is submitted.
package preview

import (
	"context"
	"errors"
	"time"
)

// ErrProviderUnavailable indicates no metadata provider is configured.
var ErrProviderUnavailable = errors.New("video metadata provider unavailable")

// Metadata is what the CLI shows before charging credits for a job.
type Metadata struct {
	Title     string        `json:"title" yaml:"title"`
	Uploader  string        `json:"uploader,omitempty" yaml:"uploader,omitempty"`
	Thumbnail string        `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	IsLive    bool          `json:"is_live,omitempty" yaml:"is_live,omitempty"`
}

// Provider returns metadata for the supplied video URL.
type Provider interface {
	Lookup(ctx context.Context, url string) (Metadata, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, url string) (Metadata, error)

// Lookup implements Provider.
func (f ProviderFunc) Lookup(ctx context.Context, url string) (Metadata, error) {
	return f(ctx, url)
}
