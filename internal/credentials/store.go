// Package credentials persists the token pair and the cached user snapshot
// that survive a restart of the client.
package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/burmeserecap/recap/internal/models"
)

var (
	// ErrNotFound indicates no credentials have been stored yet.
	ErrNotFound = errors.New("credentials not found")
	// ErrSealed indicates stored credentials could not be opened with the configured passphrase.
	ErrSealed = errors.New("credentials sealed with a different passphrase")
)

// Record is the persisted session state: the bearer credentials plus a
// snapshot of the user for instant display before revalidation.
type Record struct {
	Tokens          models.TokenPair `json:"tokens"`
	User            *models.User     `json:"user,omitempty"`
	IsAuthenticated bool             `json:"is_authenticated"`
	SavedAt         time.Time        `json:"saved_at"`
}

// Store persists a single credential record.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, record Record) error
	Clear(ctx context.Context) error
}

// Normalize derives IsAuthenticated from the user snapshot and stamps SavedAt.
func Normalize(record Record, now time.Time) Record {
	record.IsAuthenticated = record.User != nil
	if record.SavedAt.IsZero() {
		record.SavedAt = now.UTC()
	}
	return record
}

// LoadOrEmpty returns the stored record, treating ErrNotFound as an empty record.
func LoadOrEmpty(ctx context.Context, store Store) (Record, error) {
	record, err := store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return Record{}, nil
	}
	return record, err
}

// UpdateTokens rewrites the stored token pair, keeping the user snapshot.
// An empty refresh token leaves the stored one in place.
func UpdateTokens(ctx context.Context, store Store, accessToken, refreshToken string) error {
	record, err := LoadOrEmpty(ctx, store)
	if err != nil {
		return err
	}
	record.Tokens.AccessToken = accessToken
	if refreshToken != "" {
		record.Tokens.RefreshToken = refreshToken
	}
	record.SavedAt = time.Time{}
	return store.Save(ctx, Normalize(record, time.Now()))
}
