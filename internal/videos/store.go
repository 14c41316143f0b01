// Package videos tracks the user's recap jobs as the backend reports their
// progress. The store never computes a transition itself.
package videos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/burmeserecap/recap/internal/apiclient"
	"github.com/burmeserecap/recap/internal/logging"
	"github.com/burmeserecap/recap/internal/models"
)

var (
	// ErrSourceURLRequired indicates Create was called without a source URL.
	ErrSourceURLRequired = errors.New("source url is required")
	// ErrInvalidSourceURL indicates the source is not an http(s) YouTube link.
	ErrInvalidSourceURL = errors.New("source url must be a YouTube link")
	// ErrJobNotFound indicates the id is not held by the store.
	ErrJobNotFound = errors.New("video job not found")
)

// API is the subset of the backend the store needs.
type API interface {
	CreateVideo(ctx context.Context, req models.CreateVideoRequest) (models.Video, error)
	ListVideos(ctx context.Context, page, pageSize int) (models.VideoPage, error)
	GetVideo(ctx context.Context, id string) (models.Video, error)
	DeleteVideo(ctx context.Context, id string) error
}

// CreateInput is the form submitted to start a recap.
type CreateInput struct {
	SourceURL      string
	VoiceType      string
	OutputLanguage string
	Options        map[string]any
}

// Transition describes one applied status change.
type Transition struct {
	ID       string
	From     models.VideoStatus
	To       models.VideoStatus
	Progress int
}

// Listener observes applied transitions. It runs without the store lock held.
type Listener func(Transition)

var youtubeHosts = map[string]struct{}{
	"youtube.com":       {},
	"www.youtube.com":   {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
	"youtu.be":          {},
}

// ValidateSourceURL checks the submitted link before any network call.
func ValidateSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrSourceURLRequired
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidSourceURL
	}
	if _, ok := youtubeHosts[strings.ToLower(u.Hostname())]; !ok {
		return "", ErrInvalidSourceURL
	}
	return raw, nil
}

// Store holds one page of jobs plus the job the user is currently looking at.
type Store struct {
	api    API
	logger *slog.Logger

	mu        sync.RWMutex
	jobs      []models.Video
	total     int
	page      int
	pageSize  int
	currentID string
	current   *models.Video
	err       error
	listeners []Listener

	// removed holds ids cancelled here or deleted server-side. Late
	// updates for them are dropped.
	removed map[string]models.VideoStatus
}

// NewStore constructs an empty store.
func NewStore(api API, logger *slog.Logger) *Store {
	if api == nil {
		panic("videos: api must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{api: api, logger: logger, removed: make(map[string]models.VideoStatus)}
}

// Subscribe registers fn for every applied transition.
func (s *Store) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Create submits a new job. On success it is placed at the head of the list
// exactly once and becomes current.
func (s *Store) Create(ctx context.Context, in CreateInput) (models.Video, error) {
	source, err := ValidateSourceURL(in.SourceURL)
	if err != nil {
		return models.Video{}, err
	}

	video, err := s.api.CreateVideo(ctx, models.CreateVideoRequest{
		SourceURL:      source,
		VoiceType:      strings.TrimSpace(in.VoiceType),
		OutputLanguage: strings.TrimSpace(in.OutputLanguage),
		Options:        in.Options,
	})
	if err != nil {
		return models.Video{}, err
	}
	video.Progress = clampProgress(video.Progress)

	s.mu.Lock()
	delete(s.removed, video.ID)
	filtered := s.jobs[:0:0]
	for _, job := range s.jobs {
		if job.ID != video.ID {
			filtered = append(filtered, job)
		}
	}
	if len(filtered) == len(s.jobs) {
		s.total++
	}
	s.jobs = append([]models.Video{video}, filtered...)
	s.setCurrentLocked(video)
	s.mu.Unlock()

	s.log(ctx).Info("video created", "videoId", video.ID, "status", video.Status, "creditsCharged", video.CreditsCharged)
	return video, nil
}

// List replaces the held page. A failure keeps the previous page and records
// the error. Jobs already held as terminal keep their held state, progress
// never moves backwards, and removed jobs stay removed.
func (s *Store) List(ctx context.Context, page, pageSize int) (models.VideoPage, error) {
	result, err := s.api.ListVideos(ctx, page, pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err
		return models.VideoPage{}, err
	}

	jobs := make([]models.Video, 0, len(result.Videos))
	for _, v := range result.Videos {
		if _, gone := s.removed[v.ID]; gone {
			continue
		}
		jobs = append(jobs, s.mergeLocked(v))
	}
	s.jobs = jobs
	s.total = result.Total
	s.page = result.Page
	s.pageSize = result.PageSize
	s.err = nil
	if s.currentID != "" {
		if idx := s.indexLocked(s.currentID); idx >= 0 {
			s.setCurrentLocked(s.jobs[idx])
		}
	}
	result.Videos = append([]models.Video(nil), jobs...)
	return result, nil
}

// Cancel asks the backend to cancel the job and removes it from the list once
// acknowledged. On failure the list is left as it was.
func (s *Store) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrJobNotFound
	}
	if err := s.api.DeleteVideo(ctx, id); err != nil {
		s.log(ctx).Warn("cancel rejected", "videoId", id, "error", err)
		return err
	}

	s.mu.Lock()
	s.removeLocked(id, models.StatusCancelled)
	s.mu.Unlock()

	s.log(ctx).Info("video cancelled", "videoId", id)
	return nil
}

// Refresh fetches one job and applies the server's view of it. A job the
// backend no longer knows is dropped and ErrJobNotFound is returned.
func (s *Store) Refresh(ctx context.Context, id string) (models.Video, error) {
	video, err := s.api.GetVideo(ctx, id)
	if err != nil {
		s.mu.Lock()
		s.err = err
		if apiclient.IsStatus(err, http.StatusNotFound) {
			s.removeLocked(id, "")
			s.mu.Unlock()
			s.log(ctx).Info("video no longer exists", "videoId", id)
			return models.Video{}, fmt.Errorf("%w: %w", ErrJobNotFound, err)
		}
		s.mu.Unlock()
		return models.Video{}, err
	}
	return s.Apply(ctx, video), nil
}

// Apply records the latest reported state of a job and returns what the
// store now holds for it. Updates for a job already terminal are ignored.
// A job the store did not hold becomes current.
func (s *Store) Apply(ctx context.Context, update models.Video) models.Video {
	update.Progress = clampProgress(update.Progress)
	s.warnIncomplete(ctx, update)

	s.mu.Lock()
	if status, gone := s.removed[update.ID]; gone {
		s.mu.Unlock()
		s.log(ctx).Debug("ignoring update for removed job", "videoId", update.ID, "reported", update.Status)
		return models.Video{ID: update.ID, Status: status}
	}
	prev, known := s.lookupLocked(update.ID)
	if known && prev.Status.IsTerminal() {
		s.mu.Unlock()
		if update.Status != prev.Status {
			s.log(ctx).Debug("ignoring update for terminal job", "videoId", update.ID, "status", prev.Status, "reported", update.Status)
		}
		return prev
	}
	if known && !update.Status.IsTerminal() && update.Progress < prev.Progress {
		update.Progress = prev.Progress
	}

	if idx := s.indexLocked(update.ID); idx >= 0 {
		s.jobs[idx] = update
	}
	if s.currentID == update.ID || !known {
		s.setCurrentLocked(update)
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if !known || prev.Status != update.Status {
		t := Transition{ID: update.ID, From: prev.Status, To: update.Status, Progress: update.Progress}
		for _, fn := range listeners {
			fn(t)
		}
	}
	return update
}

// Get returns a held job by id.
func (s *Store) Get(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(id)
}

// Removed reports whether id was cancelled or found deleted on the backend.
func (s *Store) Removed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, gone := s.removed[id]
	return gone
}

// Jobs returns a copy of the held page.
func (s *Store) Jobs() []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Video(nil), s.jobs...)
}

// Filter returns the held jobs in bucket, keeping list order.
func (s *Store) Filter(bucket models.StatusBucket) []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Video
	for _, job := range s.jobs {
		if job.Status.Bucket() == bucket {
			out = append(out, job)
		}
	}
	return out
}

// Active returns the ids of held jobs that are not yet terminal.
func (s *Store) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			ids = append(ids, job.ID)
		}
	}
	if s.current != nil && !s.current.Status.IsTerminal() && s.indexLocked(s.current.ID) < 0 {
		ids = append(ids, s.current.ID)
	}
	return ids
}

// Current returns the job most recently created or selected.
func (s *Store) Current() (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Video{}, false
	}
	return *s.current, true
}

// SetCurrent selects a held job.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.lookupLocked(id)
	if !ok {
		return fmt.Errorf("select %q: %w", id, ErrJobNotFound)
	}
	s.setCurrentLocked(video)
	return nil
}

// Total reports the server-side job count from the last listing.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Err returns the error of the last failed read, or nil.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Store) indexLocked(id string) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) lookupLocked(id string) (models.Video, bool) {
	if idx := s.indexLocked(id); idx >= 0 {
		return s.jobs[idx], true
	}
	if s.current != nil && s.current.ID == id {
		return *s.current, true
	}
	return models.Video{}, false
}

// mergeLocked reconciles a listed job with what the store already holds.
func (s *Store) mergeLocked(v models.Video) models.Video {
	v.Progress = clampProgress(v.Progress)
	held, ok := s.lookupLocked(v.ID)
	if !ok {
		return v
	}
	if held.Status.IsTerminal() {
		return held
	}
	if !v.Status.IsTerminal() && v.Progress < held.Progress {
		v.Progress = held.Progress
	}
	return v
}

func (s *Store) removeLocked(id string, status models.VideoStatus) {
	s.removed[id] = status
	if idx := s.indexLocked(id); idx >= 0 {
		s.jobs = append(s.jobs[:idx:idx], s.jobs[idx+1:]...)
		if s.total > 0 {
			s.total--
		}
	}
	if s.currentID == id {
		s.currentID = ""
		s.current = nil
	}
}

func (s *Store) setCurrentLocked(video models.Video) {
	v := video
	s.currentID = v.ID
	s.current = &v
}

func (s *Store) warnIncomplete(ctx context.Context, v models.Video) {
	switch {
	case v.Status == models.StatusCompleted && v.VideoURL == "":
		s.log(ctx).Warn("completed job without video url", "videoId", v.ID)
	case v.Status == models.StatusFailed && v.ErrorMessage == "":
		s.log(ctx).Warn("failed job without error message", "videoId", v.ID)
	case !v.Status.Valid():
		s.log(ctx).Warn("unknown job status", "videoId", v.ID, "status", v.Status)
	}
}

func (s *Store) log(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != slog.Default() {
		return logger
	}
	return s.logger
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
