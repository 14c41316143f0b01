package videos

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/burmeserecap/recap/internal/apiclient"
	"github.com/burmeserecap/recap/internal/logging"
	"github.com/burmeserecap/recap/internal/models"
)

func newTestPoller(t *testing.T, store Refresher) *Poller {
	t.Helper()
	poller := NewPoller(store, PollerConfig{Interval: 20 * time.Millisecond, Rate: 100, Workers: 2}, logging.Discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = poller.Shutdown(ctx)
	})
	return poller
}

func TestPollerRefreshesActiveJobs(t *testing.T) {
	api := &stubAPI{}
	store := seededStore(t, api, job("a", models.StatusPending, 0), job("b", models.StatusCompleted, 100))
	api.set(job("a", models.StatusGeneratingScript, 30))
	api.set(job("b", models.StatusCompleted, 100))

	poller := newTestPoller(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = poller.Run(ctx) }()

	waitForCondition(t, func() bool {
		v, _ := store.Get("a")
		return v.Status == models.StatusGeneratingScript
	}, time.Second)

	if api.getCalls.Load() == 0 {
		t.Fatal("expected refresh calls")
	}
}

func TestPollerWaitFor(t *testing.T) {
	api := &stubAPI{}
	store := seededStore(t, api, job("a", models.StatusRenderingVideo, 40))
	api.set(job("a", models.StatusRenderingVideo, 60))

	poller := newTestPoller(t, store)

	go func() {
		time.Sleep(50 * time.Millisecond)
		done := job("a", models.StatusCompleted, 100)
		done.VideoURL = "https://cdn.example.com/a.mp4"
		api.set(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	video, err := poller.WaitFor(ctx, "a")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if video.Status != models.StatusCompleted || video.VideoURL == "" {
		t.Fatalf("unexpected video %+v", video)
	}
}

func TestPollerWaitForTerminalReturnsImmediately(t *testing.T) {
	api := &stubAPI{}
	store := seededStore(t, api, job("a", models.StatusFailed, 10))
	poller := newTestPoller(t, store)

	video, err := poller.WaitFor(context.Background(), "a")
	if err != nil || video.Status != models.StatusFailed {
		t.Fatalf("unexpected result %+v %v", video, err)
	}
	if api.getCalls.Load() != 0 {
		t.Fatal("expected no refresh for a terminal job")
	}
}

func TestPollerEnqueueAfterShutdown(t *testing.T) {
	api := &stubAPI{}
	store := NewStore(api, logging.Discard())
	poller := NewPoller(store, PollerConfig{}, nil)

	if err := poller.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := poller.Enqueue(context.Background(), "a"); err != ErrPollerClosed {
		t.Fatalf("expected ErrPollerClosed got %v", err)
	}
}

func waitForCondition(t *testing.T, predicate func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestPollerWaitForDeletedJob(t *testing.T) {
	api := &stubAPI{}
	store := seededStore(t, api, job("a", models.StatusRenderingVideo, 40))
	api.mu.Lock()
	api.getErr = &apiclient.APIError{Method: http.MethodGet, Path: "/videos/a", Status: http.StatusNotFound}
	api.mu.Unlock()

	poller := newTestPoller(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := poller.WaitFor(ctx, "a"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	waitForCondition(t, func() bool { return poller.perJob.Len() == 0 }, time.Second)
}

func TestPollerForgetsFinishedJobs(t *testing.T) {
	api := &stubAPI{}
	store := seededStore(t, api, job("a", models.StatusRenderingVideo, 40))
	done := job("a", models.StatusCompleted, 100)
	done.VideoURL = "https://cdn.example.com/a.mp4"
	api.set(done)

	poller := newTestPoller(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := poller.WaitFor(ctx, "a"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	waitForCondition(t, func() bool { return poller.perJob.Len() == 0 }, time.Second)
}
