package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/burmeserecap/recap/internal/apiclient"
	"github.com/burmeserecap/recap/internal/models"
	"github.com/burmeserecap/recap/internal/videos"
)

var (
	_ apiclient.Recorder = (*Collector)(nil)
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.ObserveRequest(http.MethodGet, http.StatusOK)
	c.ObserveRequest(http.MethodGet, http.StatusOK)
	c.ObserveRequest(http.MethodPost, 0)
	c.ObserveRefresh(apiclient.RefreshSucceeded)
	c.ObserveTransition(videos.Transition{ID: "v1", From: models.StatusPending, To: models.StatusGeneratingScript})
	c.ObserveTransition(videos.Transition{ID: "v1", To: models.VideoStatus("mystery")})

	out := scrape(t, c)
	for _, want := range []string{
		`recap_api_requests_total{code="200",method="GET"} 2`,
		`recap_api_requests_total{code="error",method="POST"} 1`,
		`recap_token_refreshes_total{outcome="success"} 1`,
		`recap_video_transitions_total{status="generating_script"} 1`,
		`recap_video_transitions_total{status="unknown"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ObserveRefresh(apiclient.RefreshFailed)

	if out := scrape(t, c); !strings.Contains(out, "go_goroutines") {
		t.Fatalf("runtime collectors missing from output:\n%s", out)
	}
}
