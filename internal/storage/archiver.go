package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/burmeserecap/recap/internal/models"
)

// ErrNotArchivable indicates the job has no finished output to copy.
var ErrNotArchivable = errors.New("only completed videos with an output url can be archived")

// Saver persists a stream under a key and returns where it ended up.
type Saver interface {
	Save(ctx context.Context, name string, r io.Reader, contentType string) (string, error)
}

// Archive describes one copied output.
type Archive struct {
	VideoID    string    `json:"video_id" yaml:"video_id"`
	Location   string    `json:"location" yaml:"location"`
	Bytes      int64     `json:"bytes" yaml:"bytes"`
	ArchivedAt time.Time `json:"archived_at" yaml:"archived_at"`
}

// Archiver downloads a job's rendered video and hands it to a Saver.
type Archiver struct {
	saver  Saver
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver constructs an Archiver. A nil client uses a plain http.Client
// without a timeout since outputs can be large.
func NewArchiver(saver Saver, client *http.Client, logger *slog.Logger) *Archiver {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{saver: saver, http: client, logger: logger, now: time.Now}
}

// Archive copies the rendered video of v.
func (a *Archiver) Archive(ctx context.Context, v models.Video) (Archive, error) {
	if v.Status != models.StatusCompleted || strings.TrimSpace(v.VideoURL) == "" {
		return Archive{}, ErrNotArchivable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.VideoURL, nil)
	if err != nil {
		return Archive{}, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return Archive{}, fmt.Errorf("download %s: %w", v.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Archive{}, fmt.Errorf("download %s: unexpected status %d", v.ID, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	counter := &countingReader{r: resp.Body}
	location, err := a.saver.Save(ctx, objectKey(v, contentType), counter, contentType)
	if err != nil {
		return Archive{}, err
	}

	archive := Archive{VideoID: v.ID, Location: location, Bytes: counter.n, ArchivedAt: a.now().UTC()}
	a.logger.Info("video archived", "videoId", v.ID, "location", location, "bytes", counter.n)
	return archive, nil
}

func objectKey(v models.Video, contentType string) string {
	ext := ""
	if u, err := url.Parse(v.VideoURL); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" && contentType != "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	if ext == "" {
		ext = ".mp4"
	}
	owner := v.UserID
	if owner == "" {
		owner = "unknown"
	}
	return path.Join("recaps", owner, v.ID+ext)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
