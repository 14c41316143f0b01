package preview

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	metadata Metadata
	err      error
	calls    int
}

func (s *stubProvider) Lookup(context.Context, string) (Metadata, error) {
	s.calls++
	if s.err != nil {
		return Metadata{}, s.err
	}
	return s.metadata, nil
}

func TestYTDLPProviderLookup(t *testing.T) {
	provider := NewYTDLPProvider("yt-dlp", time.Second)
	provider.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		wantArgs := []string{"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download", "https://youtu.be/abc"}
		if len(args) != len(wantArgs) {
			t.Fatalf("unexpected args length: got %d want %d", len(args), len(wantArgs))
		}
		for i, arg := range wantArgs {
			if args[i] != arg {
				t.Fatalf("unexpected arg at %d: got %q want %q", i, args[i], arg)
			}
		}
		return []byte(`{"title":"Example","channel":"Recap TV","thumbnail":"thumb.jpg","duration":125.6}`), nil
	}

	meta, err := provider.Lookup(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if meta.Title != "Example" || meta.Uploader != "Recap TV" || meta.Thumbnail != "thumb.jpg" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.Duration != 126*time.Second {
		t.Fatalf("unexpected duration: %v", meta.Duration)
	}
}

func TestYTDLPProviderLookupErrors(t *testing.T) {
	provider := NewYTDLPProvider("", 0)
	if provider.Binary != "yt-dlp" || provider.Timeout <= 0 {
		t.Fatalf("expected defaults, got %+v", provider)
	}

	provider.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		return []byte(`{"title":"","thumbnail":""}`), nil
	}
	if _, err := provider.Lookup(context.Background(), "https://youtu.be/abc"); err == nil {
		t.Fatal("expected error for empty metadata")
	}

	provider.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		return []byte(`not json`), nil
	}
	if _, err := provider.Lookup(context.Background(), "https://youtu.be/abc"); err == nil {
		t.Fatal("expected parse error")
	}

	var nilProvider *YTDLPProvider
	if _, err := nilProvider.Lookup(context.Background(), "x"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestCachingProviderLookup(t *testing.T) {
	base := &stubProvider{metadata: Metadata{Title: "Test"}}
	cache := NewCachingProvider(base, time.Minute)

	for i := 0; i < 2; i++ {
		meta, err := cache.Lookup(context.Background(), "https://youtu.be/abc")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if meta.Title != "Test" {
			t.Fatalf("unexpected metadata: %+v", meta)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected base called once got %d", base.calls)
	}
}

func TestCachingProviderErrorsAreNotCached(t *testing.T) {
	cache := NewCachingProvider(nil, time.Minute)
	if _, err := cache.Lookup(context.Background(), "https://youtu.be/abc"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable got %v", err)
	}

	base := &stubProvider{err: errors.New("yt-dlp missing")}
	cache = NewCachingProvider(base, time.Minute)
	_, _ = cache.Lookup(context.Background(), "https://youtu.be/abc")
	_, _ = cache.Lookup(context.Background(), "https://youtu.be/abc")
	if base.calls != 2 {
		t.Fatalf("expected failed lookups to be retried, got %d calls", base.calls)
	}
}

func TestCachingProviderExpiry(t *testing.T) {
	base := &stubProvider{metadata: Metadata{Title: "Test"}}
	cache := NewCachingProvider(base, time.Minute)
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	if _, err := cache.Lookup(context.Background(), "https://youtu.be/abc"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if cache.Purge() != 0 {
		t.Fatal("expected expired entry to be purged")
	}
	if _, err := cache.Lookup(context.Background(), "https://youtu.be/abc"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected cache miss after expiry got %d calls", base.calls)
	}
}

func TestCachingProviderDefaultTTL(t *testing.T) {
	cache := NewCachingProvider(ProviderFunc(func(context.Context, string) (Metadata, error) {
		return Metadata{}, nil
	}), 0)
	if cache.ttl <= 0 {
		t.Fatalf("expected ttl to default positive got %v", cache.ttl)
	}
}
