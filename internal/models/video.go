package models

import (
	"fmt"
	"strings"
	"time"
)

// VideoStatus is the server-reported stage of a recap job.
type VideoStatus string

const (
	StatusPending              VideoStatus = "pending"
	StatusExtractingTranscript VideoStatus = "extracting_transcript"
	StatusGeneratingScript     VideoStatus = "generating_script"
	StatusGeneratingAudio      VideoStatus = "generating_audio"
	StatusRenderingVideo       VideoStatus = "rendering_video"
	StatusUploading            VideoStatus = "uploading"
	StatusCompleted            VideoStatus = "completed"
	StatusFailed               VideoStatus = "failed"
	StatusCancelled            VideoStatus = "cancelled"
)

// Statuses lists every known status in pipeline order.
var Statuses = []VideoStatus{
	StatusPending,
	StatusExtractingTranscript,
	StatusGeneratingScript,
	StatusGeneratingAudio,
	StatusRenderingVideo,
	StatusUploading,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s VideoStatus) Valid() bool {
	switch s {
	case StatusPending, StatusExtractingTranscript, StatusGeneratingScript, StatusGeneratingAudio,
		StatusRenderingVideo, StatusUploading, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions can follow s.
func (s VideoStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsProcessing reports whether s is one of the active pipeline stages.
func (s VideoStatus) IsProcessing() bool {
	switch s {
	case StatusExtractingTranscript, StatusGeneratingScript, StatusGeneratingAudio, StatusRenderingVideo, StatusUploading:
		return true
	}
	return false
}

// Bucket maps s onto the filter group used by listings. Unknown statuses
// belong to no bucket.
func (s VideoStatus) Bucket() StatusBucket {
	switch {
	case s == StatusPending:
		return BucketPending
	case s.IsProcessing():
		return BucketProcessing
	case s == StatusCompleted:
		return BucketCompleted
	case s == StatusFailed || s == StatusCancelled:
		return BucketFailed
	}
	return ""
}

// StatusBucket groups statuses for filtering.
type StatusBucket string

const (
	BucketPending    StatusBucket = "pending"
	BucketProcessing StatusBucket = "processing"
	BucketCompleted  StatusBucket = "completed"
	BucketFailed     StatusBucket = "failed"
)

// ParseBucket converts user input into a StatusBucket.
func ParseBucket(value string) (StatusBucket, error) {
	switch b := StatusBucket(strings.ToLower(strings.TrimSpace(value))); b {
	case BucketPending, BucketProcessing, BucketCompleted, BucketFailed:
		return b, nil
	}
	return "", fmt.Errorf("unknown status filter %q", value)
}

// Video is a single recap job owned by a user.
type Video struct {
	ID     string `json:"id" yaml:"id"`
	UserID string `json:"user_id" yaml:"user_id"`

	SourceURL       string `json:"source_url" yaml:"source_url"`
	SourceTitle     string `json:"source_title,omitempty" yaml:"source_title,omitempty"`
	SourceThumbnail string `json:"source_thumbnail,omitempty" yaml:"source_thumbnail,omitempty"`
	SourceDuration  int    `json:"source_duration,omitempty" yaml:"source_duration,omitempty"`

	Transcript       string `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Script           string `json:"script,omitempty" yaml:"script,omitempty"`
	VoiceType        string `json:"voice_type,omitempty" yaml:"voice_type,omitempty"`
	OutputLanguage   string `json:"output_language,omitempty" yaml:"output_language,omitempty"`
	OutputResolution string `json:"output_resolution,omitempty" yaml:"output_resolution,omitempty"`

	VideoURL string `json:"video_url,omitempty" yaml:"video_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty" yaml:"audio_url,omitempty"`
	FileSize int64  `json:"file_size,omitempty" yaml:"file_size,omitempty"`

	Status        VideoStatus `json:"status" yaml:"status"`
	StatusMessage string      `json:"status_message,omitempty" yaml:"status_message,omitempty"`
	Progress      int         `json:"progress" yaml:"progress"`

	CreditsCharged int    `json:"credits_charged" yaml:"credits_charged"`
	ErrorMessage   string `json:"error_message,omitempty" yaml:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// CreateVideoRequest is the body of POST /videos.
type CreateVideoRequest struct {
	SourceURL      string         `json:"source_url"`
	VoiceType      string         `json:"voice_type,omitempty"`
	OutputLanguage string         `json:"output_language,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
}

// VideoPage is one page of a user's jobs.
type VideoPage struct {
	Videos     []Video `json:"videos" yaml:"videos"`
	Total      int     `json:"total" yaml:"total"`
	Page       int     `json:"page" yaml:"page"`
	PageSize   int     `json:"page_size" yaml:"page_size"`
	TotalPages int     `json:"total_pages" yaml:"total_pages"`
}
