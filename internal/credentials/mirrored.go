package credentials

import (
	"context"
	"errors"
)

// MirroredStore writes every record to all of its stores and reads from the
// first one holding credentials. It keeps a primary and a fallback location
// in sync, so losing one of them does not end the session.
type MirroredStore struct {
	stores []Store
}

// NewMirroredStore returns a Store fanning out to the provided stores in
// priority order. Nil stores are skipped.
func NewMirroredStore(stores ...Store) *MirroredStore {
	m := &MirroredStore{}
	for _, s := range stores {
		if s != nil {
			m.stores = append(m.stores, s)
		}
	}
	return m
}

// Load returns the first record with tokens. Read errors from a store only
// surface when no other store could provide credentials.
func (m *MirroredStore) Load(ctx context.Context) (Record, error) {
	var firstErr error
	for _, s := range m.stores {
		record, err := s.Load(ctx)
		if err != nil {
			if !errors.Is(err, ErrNotFound) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !record.Tokens.Empty() {
			return record, nil
		}
	}
	if firstErr != nil {
		return Record{}, firstErr
	}
	return Record{}, ErrNotFound
}

// Save writes the record to every store.
func (m *MirroredStore) Save(ctx context.Context, record Record) error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Save(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear removes the record from every store, attempting all of them.
func (m *MirroredStore) Clear(ctx context.Context) error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
