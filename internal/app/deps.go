package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/burmeserecap/recap/internal/apiclient"
	"github.com/burmeserecap/recap/internal/config"
	"github.com/burmeserecap/recap/internal/credentials"
	"github.com/burmeserecap/recap/internal/db"
	"github.com/burmeserecap/recap/internal/guard"
	"github.com/burmeserecap/recap/internal/metrics"
	"github.com/burmeserecap/recap/internal/middleware"
	"github.com/burmeserecap/recap/internal/preview"
	"github.com/burmeserecap/recap/internal/repositories"
	"github.com/burmeserecap/recap/internal/session"
	"github.com/burmeserecap/recap/internal/storage"
	"github.com/burmeserecap/recap/internal/telemetry"
	"github.com/burmeserecap/recap/internal/videos"
)

// Dependencies holds the services shared by every command.
type Dependencies struct {
	Config      config.Config
	Logger      *slog.Logger
	Credentials credentials.Store
	Client      *apiclient.Client
	Session     *session.Service
	Videos      *videos.Store
	Guard       *guard.Guard
	Metrics     *metrics.Collector
	Preview     preview.Provider

	closers []func(context.Context) error
}

// buildDependencies wires together the concrete implementations used by the commands.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger, notices io.Writer) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg, Logger: logger}

	shutdownTracing, err := telemetry.Init(ctx, "recap", Version, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, shutdownTracing)

	store, err := deps.credentialStore(ctx)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}
	deps.Credentials = store

	deviceID, err := credentials.DeviceID(cfg.DeviceIDPath())
	if err != nil {
		logger.Warn("device id unavailable", "error", err)
	}

	deps.Metrics = metrics.New()

	var sess *session.Service
	opts := []apiclient.Option{
		apiclient.WithHTTPClient(&http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(middleware.LoggingTransport(http.DefaultTransport, logger)),
		}),
		apiclient.WithLogger(logger),
		apiclient.WithRecorder(deps.Metrics),
		apiclient.WithUserAgent("recap-cli/" + Version),
		apiclient.WithSessionExpiredHandler(func(ctx context.Context) {
			if sess != nil {
				sess.HandleSessionExpired(ctx)
			}
			fmt.Fprintln(notices, "Your session has expired. Run `recap login` to sign in again.")
		}),
	}
	if cfg.CoalesceRefresh {
		opts = append(opts, apiclient.WithCoalescedRefresh())
	}

	client, err := apiclient.New(cfg.BaseURL(), store, opts...)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}
	deps.Client = client

	sess = session.NewService(client, store, deviceID, logger)
	deps.Session = sess

	deps.Videos = videos.NewStore(client, logger)
	deps.Videos.Subscribe(deps.Metrics.ObserveTransition)

	deps.Guard = guard.New(sess,
		guard.WithLogger(logger),
		guard.WithLoadingHook(func(loading bool) {
			if loading {
				logger.Debug("restoring session")
			}
		}),
	)

	deps.Preview = preview.NewCachingProvider(preview.NewYTDLPProvider(cfg.YTDLPPath, cfg.YTDLPTimeout), cfg.MetadataCacheTTL)

	return deps, nil
}

// credentialStore layers the configured locations. The primary file is
// always present; the mirror file and the shared database are optional.
func (d *Dependencies) credentialStore(ctx context.Context) (credentials.Store, error) {
	primary, err := credentials.NewFileStore(d.Config.CredentialsFile, d.Config.CredentialsPassphrase)
	if err != nil {
		return nil, err
	}
	stores := []credentials.Store{primary}

	if d.Config.CredentialsMirror != "" {
		mirror, err := credentials.NewFileStore(d.Config.CredentialsMirror, d.Config.CredentialsPassphrase)
		if err != nil {
			return nil, err
		}
		stores = append(stores, mirror)
	}

	if d.Config.CredentialsDSN != "" {
		pool, err := db.Connect(ctx, d.Config.CredentialsDSN)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func(context.Context) error {
			pool.Close()
			return nil
		})

		shared := repositories.NewPostgresCredentialStore(pool, d.Config.Profile)
		if err := shared.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		stores = append(stores, shared)
	}

	if len(stores) == 1 {
		return primary, nil
	}
	return credentials.NewMirroredStore(stores...), nil
}

// Poller starts a background refresher for the video store.
func (d *Dependencies) Poller() *videos.Poller {
	return videos.NewPoller(d.Videos, videos.PollerConfig{
		Interval:       d.Config.PollInterval,
		Rate:           d.Config.PollRate,
		Workers:        d.Config.PollWorkers,
		RequestTimeout: d.Config.RequestTimeout,
	}, d.Logger)
}

// ErrArchiveDisabled is returned when no archive bucket is configured.
var ErrArchiveDisabled = errors.New("archiving is disabled: set RECAP_ARCHIVE_BUCKET")

// Archiver connects to the configured bucket.
func (d *Dependencies) Archiver(ctx context.Context) (*storage.Archiver, error) {
	if !d.Config.Archive.Enabled() {
		return nil, ErrArchiveDisabled
	}
	bucket, err := storage.NewS3Storage(ctx, d.Config.Archive)
	if err != nil {
		return nil, err
	}
	return storage.NewArchiver(bucket, nil, d.Logger), nil
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
