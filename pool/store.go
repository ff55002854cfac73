package pool

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"bondmm/storage"
)

var (
	positionPrefix = []byte("position/")
	nextIDKey      = []byte("meta/next-position-id")
)

// PositionStore allocates monotonically increasing identifiers and persists
// position records. The pool engine is the store's only writer.
type PositionStore struct {
	db   storage.Database
	next uint64
}

// NewPositionStore opens a store over the given database, resuming the
// identifier counter where a previous run left off. Identifiers start at 1.
func NewPositionStore(db storage.Database) (*PositionStore, error) {
	if db == nil {
		return nil, errors.New("position store: database required")
	}
	store := &PositionStore{db: db, next: 1}
	raw, err := db.Get(nextIDKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return nil, fmt.Errorf("position store: corrupt id counter")
		}
		store.next = binary.BigEndian.Uint64(raw)
		if store.next == 0 {
			store.next = 1
		}
	case errors.Is(err, storage.ErrNotFound):
		// Fresh database.
	default:
		return nil, err
	}
	return store, nil
}

func positionKey(id uint64) []byte {
	key := make([]byte, len(positionPrefix)+8)
	copy(key, positionPrefix)
	binary.BigEndian.PutUint64(key[len(positionPrefix):], id)
	return key
}

// Allocate assigns the next identifier to the record and persists it. The
// counter strictly increases; identifiers are never reused.
func (s *PositionStore) Allocate(record Position) (uint64, error) {
	id := s.next
	record.ID = id
	if err := s.put(record); err != nil {
		return 0, err
	}
	s.next = id + 1
	counter := make([]byte, 8)
	binary.BigEndian.PutUint64(counter, s.next)
	if err := s.db.Put(nextIDKey, counter); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the stored record. An unknown identifier yields a zeroed record
// with Active false rather than an error; callers gate on the Active flag.
func (s *PositionStore) Get(id uint64) (Position, error) {
	raw, err := s.db.Get(positionKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, err
	}
	var record Position
	if err := json.Unmarshal(raw, &record); err != nil {
		return Position{}, fmt.Errorf("position store: decode %d: %w", id, err)
	}
	return record, nil
}

// MarkInactive clears the Active flag. Idempotent once inactive.
func (s *PositionStore) MarkInactive(id uint64) error {
	record, err := s.Get(id)
	if err != nil {
		return err
	}
	if record.ID == 0 {
		return nil
	}
	if !record.Active {
		return nil
	}
	record.Active = false
	return s.put(record)
}

// NextID exposes the identifier the next allocation will receive.
func (s *PositionStore) NextID() uint64 { return s.next }

// ActiveCount walks the store and counts live positions.
func (s *PositionStore) ActiveCount() (int, error) {
	count := 0
	err := s.db.Iterate(positionPrefix, func(_, value []byte) bool {
		var record Position
		if json.Unmarshal(value, &record) == nil && record.Active {
			count++
		}
		return true
	})
	return count, err
}

func (s *PositionStore) put(record Position) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("position store: encode %d: %w", record.ID, err)
	}
	return s.db.Put(positionKey(record.ID), raw)
}
