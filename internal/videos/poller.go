package videos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/burmeserecap/recap/internal/middleware"
	"github.com/burmeserecap/recap/internal/models"
)

// ErrPollerClosed is returned once Shutdown has been called.
var ErrPollerClosed = errors.New("video poller closed")

// Refresher is what the poller drives. *Store satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, id string) (models.Video, error)
	Get(id string) (models.Video, bool)
	Active() []string
	Removed(id string) bool
}

// PollerConfig controls how aggressively job state is re-fetched.
type PollerConfig struct {
	// Interval between sweeps over the active jobs.
	Interval time.Duration
	// Rate caps GET /videos/{id} calls per second across all workers.
	Rate float64
	// Workers is the size of the refresh pool.
	Workers   int
	QueueSize int
	// RequestTimeout bounds one refresh call.
	RequestTimeout time.Duration
}

// Poller refreshes non-terminal jobs in the background with a small pool of
// workers, throttled globally and per job.
type Poller struct {
	store    Refresher
	cfg      PollerConfig
	logger   *slog.Logger
	global   *rate.Limiter
	perJob   *middleware.KeyedLimiter
	interval time.Duration

	jobs   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewPoller starts the worker pool. Call Shutdown to stop it.
func NewPoller(store Refresher, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 2
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	burst := int(cfg.Rate)
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		store:  store,
		cfg:    cfg,
		logger: logger,
		global: rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		// At most one refresh per job every half interval.
		perJob:   middleware.NewKeyedLimiter(1, cfg.Interval/2, 1, 10*cfg.Interval),
		interval: cfg.Interval,
		jobs:     make(chan string, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Enqueue schedules a refresh of id. A refresh already queued for the same id
// is not duplicated.
func (p *Poller) Enqueue(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPollerClosed
	default:
	}

	p.mu.Lock()
	if _, queued := p.pending[id]; queued {
		p.mu.Unlock()
		return nil
	}
	p.pending[id] = struct{}{}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.done(id)
		return ctx.Err()
	case <-p.ctx.Done():
		p.done(id)
		return ErrPollerClosed
	case p.jobs <- id:
		return nil
	}
}

// Run sweeps the active jobs every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.sweep(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return ErrPollerClosed
		case <-ticker.C:
		}
	}
}

func (p *Poller) sweep(ctx context.Context) error {
	for _, id := range p.store.Active() {
		if err := p.Enqueue(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// WaitFor blocks until the job reaches a terminal status and returns it.
func (p *Poller) WaitFor(ctx context.Context, id string) (models.Video, error) {
	if video, ok := p.store.Get(id); ok && video.Status.IsTerminal() {
		return video, nil
	}
	if p.store.Removed(id) {
		return models.Video{}, fmt.Errorf("wait for %q: %w", id, ErrJobNotFound)
	}

	tick := p.interval / 4
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	if err := p.Enqueue(ctx, id); err != nil {
		return models.Video{}, err
	}
	lastEnqueue := time.Now()

	for {
		select {
		case <-ctx.Done():
			return models.Video{}, ctx.Err()
		case <-p.ctx.Done():
			return models.Video{}, ErrPollerClosed
		case <-ticker.C:
		}

		if video, ok := p.store.Get(id); ok && video.Status.IsTerminal() {
			return video, nil
		}
		if p.store.Removed(id) {
			return models.Video{}, fmt.Errorf("wait for %q: %w", id, ErrJobNotFound)
		}
		if time.Since(lastEnqueue) >= p.interval {
			if err := p.Enqueue(ctx, id); err != nil {
				return models.Video{}, err
			}
			lastEnqueue = time.Now()
		}
	}
}

// Shutdown stops the workers and waits for in-flight refreshes. Queued ids
// that have not started are dropped.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.once.Do(p.cancel)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Poller) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case id := <-p.jobs:
			p.handle(id)
		}
	}
}

func (p *Poller) handle(id string) {
	defer p.done(id)

	if !p.perJob.Allow(id) {
		return
	}
	if err := p.global.Wait(p.ctx); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.RequestTimeout)
	defer cancel()

	video, err := p.store.Refresh(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		p.perJob.Forget(id)
		return
	}
	if err != nil {
		p.logger.Warn("refresh video", "videoId", id, "error", err)
		return
	}
	if video.Status.IsTerminal() {
		p.perJob.Forget(id)
	}
	p.logger.Debug("video refreshed", "videoId", id, "status", video.Status, "progress", video.Progress)
}

func (p *Poller) done(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}
