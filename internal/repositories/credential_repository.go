// Package repositories persists client credentials in a shared PostgreSQL
// (or CockroachDB) database so several machines can share one login.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/burmeserecap/recap/internal/credentials"
	"github.com/burmeserecap/recap/internal/db"
	"github.com/burmeserecap/recap/internal/models"
)

const (
	writeMaxRetries  = 3
	writeBaseBackoff = 100 * time.Millisecond
	writeMaxBackoff  = 3 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS recap_credentials (
        profile TEXT PRIMARY KEY,
        access_token TEXT NOT NULL,
        refresh_token TEXT NOT NULL,
        user_json JSONB,
        saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresCredentialStore implements credentials.Store with one row per profile.
type PostgresCredentialStore struct {
	pool    db.Pool
	profile string
}

// NewPostgresCredentialStore constructs a store for the given profile.
func NewPostgresCredentialStore(pool db.Pool, profile string) *PostgresCredentialStore {
	if strings.TrimSpace(profile) == "" {
		profile = "default"
	}
	return &PostgresCredentialStore{pool: pool, profile: profile}
}

// EnsureSchema creates the credentials table when missing.
func (s *PostgresCredentialStore) EnsureSchema(ctx context.Context) error {
	return s.withRetry(ctx, "ensure schema", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, schema)
		return err
	})
}

// Load returns the profile's record or credentials.ErrNotFound.
func (s *PostgresCredentialStore) Load(ctx context.Context) (credentials.Record, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return credentials.Record{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT access_token, refresh_token, user_json, saved_at
        FROM recap_credentials
        WHERE profile = $1
    `, s.profile)

	var (
		record   credentials.Record
		userJSON []byte
		savedAt  time.Time
	)
	if err := row.Scan(&record.Tokens.AccessToken, &record.Tokens.RefreshToken, &userJSON, &savedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credentials.Record{}, credentials.ErrNotFound
		}
		return credentials.Record{}, fmt.Errorf("select credentials: %w", err)
	}

	if len(userJSON) > 0 && string(userJSON) != "null" {
		var user models.User
		if err := json.Unmarshal(userJSON, &user); err != nil {
			return credentials.Record{}, fmt.Errorf("decode user snapshot: %w", err)
		}
		record.User = &user
	}
	record.SavedAt = savedAt.UTC()
	record.IsAuthenticated = record.User != nil
	return record, nil
}

// Save upserts the profile's record.
func (s *PostgresCredentialStore) Save(ctx context.Context, record credentials.Record) error {
	var userJSON []byte
	if record.User != nil {
		data, err := json.Marshal(record.User)
		if err != nil {
			return fmt.Errorf("encode user snapshot: %w", err)
		}
		userJSON = data
	}
	savedAt := record.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	return s.withRetry(ctx, "upsert credentials", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO recap_credentials (profile, access_token, refresh_token, user_json, saved_at)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (profile)
            DO UPDATE SET access_token = EXCLUDED.access_token,
                          refresh_token = EXCLUDED.refresh_token,
                          user_json = EXCLUDED.user_json,
                          saved_at = EXCLUDED.saved_at
        `, s.profile, record.Tokens.AccessToken, record.Tokens.RefreshToken, userJSON, savedAt.UTC())
		return err
	})
}

// Clear deletes the profile's record. Clearing a missing record is not an error.
func (s *PostgresCredentialStore) Clear(ctx context.Context) error {
	return s.withRetry(ctx, "delete credentials", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM recap_credentials WHERE profile = $1`, s.profile)
		return err
	})
}

func (s *PostgresCredentialStore) withRetry(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var attempt int
	for attempt = 0; attempt < writeMaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return err
			}
		}

		tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin %s: %w", op, err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			if shouldRetry(err) && attempt < writeMaxRetries-1 {
				continue
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			if shouldRetry(err) && attempt < writeMaxRetries-1 {
				continue
			}
			return fmt.Errorf("commit %s: %w", op, err)
		}
		return nil
	}

	return fmt.Errorf("%s: exceeded max retries (%d)", op, attempt)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * writeBaseBackoff
	if d > writeMaxBackoff {
		d = writeMaxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
