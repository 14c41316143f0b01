package models

import "testing"

func TestVideoStatusPredicates(t *testing.T) {
	tests := []struct {
		status     VideoStatus
		terminal   bool
		processing bool
		bucket     StatusBucket
	}{
		{StatusPending, false, false, BucketPending},
		{StatusExtractingTranscript, false, true, BucketProcessing},
		{StatusGeneratingScript, false, true, BucketProcessing},
		{StatusGeneratingAudio, false, true, BucketProcessing},
		{StatusRenderingVideo, false, true, BucketProcessing},
		{StatusUploading, false, true, BucketProcessing},
		{StatusCompleted, true, false, BucketCompleted},
		{StatusFailed, true, false, BucketFailed},
		{StatusCancelled, true, false, BucketFailed},
	}

	for _, tt := range tests {
		if !tt.status.Valid() {
			t.Fatalf("%s: expected valid status", tt.status)
		}
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Fatalf("%s: IsTerminal() = %v want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.IsProcessing(); got != tt.processing {
			t.Fatalf("%s: IsProcessing() = %v want %v", tt.status, got, tt.processing)
		}
		if got := tt.status.Bucket(); got != tt.bucket {
			t.Fatalf("%s: Bucket() = %q want %q", tt.status, got, tt.bucket)
		}
	}

	if len(tests) != len(Statuses) {
		t.Fatalf("expected every status to be covered, got %d of %d", len(tests), len(Statuses))
	}
}

func TestVideoStatusUnknown(t *testing.T) {
	s := VideoStatus("queued")
	if s.Valid() {
		t.Fatal("expected unknown status to be invalid")
	}
	if s.Bucket() != "" {
		t.Fatalf("expected unknown status to have no bucket, got %q", s.Bucket())
	}
	if s.IsTerminal() || s.IsProcessing() {
		t.Fatal("unknown status must be neither terminal nor processing")
	}
}

func TestParseBucket(t *testing.T) {
	b, err := ParseBucket(" Processing ")
	if err != nil {
		t.Fatalf("ParseBucket() error = %v", err)
	}
	if b != BucketProcessing {
		t.Fatalf("unexpected bucket %q", b)
	}
	if _, err := ParseBucket("done"); err == nil {
		t.Fatal("expected error for unknown bucket")
	}
}

func TestUserPatchApply(t *testing.T) {
	name := "Ko Ko"
	credits := 12
	user := User{ID: "u1", Name: "old", Credits: 3, Email: "ko@example.com"}

	patched := UserPatch{Name: &name, Credits: &credits}.Apply(user)
	if patched.Name != name || patched.Credits != credits {
		t.Fatalf("unexpected patched user: %+v", patched)
	}
	if patched.Email != user.Email {
		t.Fatal("expected untouched fields to be preserved")
	}
	if user.Name != "old" {
		t.Fatal("expected original user to be unchanged")
	}
}
