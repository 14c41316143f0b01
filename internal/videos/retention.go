package videos

import (
	"fmt"
	"time"

	"github.com/burmeserecap/recap/internal/models"
)

// RetentionPeriod is how long the backend keeps a finished job's outputs.
// The server deletes them; the client only warns.
const RetentionPeriod = 7 * 24 * time.Hour

// ExpiresAt returns when the backend will remove the job's outputs. Jobs that
// have not completed have no expiry.
func ExpiresAt(v models.Video) (time.Time, bool) {
	if v.Status != models.StatusCompleted {
		return time.Time{}, false
	}
	finished := v.CreatedAt
	if v.CompletedAt != nil && !v.CompletedAt.IsZero() {
		finished = *v.CompletedAt
	}
	if finished.IsZero() {
		return time.Time{}, false
	}
	return finished.Add(RetentionPeriod), true
}

// RetentionWarning renders the notice shown next to a completed job.
func RetentionWarning(v models.Video, now time.Time) string {
	expires, ok := ExpiresAt(v)
	if !ok {
		return ""
	}
	left := expires.Sub(now)
	if left <= 0 {
		return "Outputs have expired and may no longer be downloadable."
	}
	days := int(left / (24 * time.Hour))
	switch days {
	case 0:
		return fmt.Sprintf("Outputs will be deleted in %d hours. Download or archive them now.", int(left/time.Hour)+1)
	case 1:
		return "Outputs will be deleted in 1 day."
	}
	return fmt.Sprintf("Outputs will be deleted in %d days.", days)
}
