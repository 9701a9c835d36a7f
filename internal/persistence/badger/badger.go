// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package badger is the local durable fallback for session snapshots when
// Redis is unset, following the teacher's embedded-KV store pattern:
// sessions live under key "session:<id>" (JSON), no TTL.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/persistence/codec"
)

// Store wraps an embedded Badger KV database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open failed: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func sessionKey(id string) []byte { return []byte("session:" + id) }

// Save encodes in and writes it under its session key. Shaped as a
// manager.PersistFunc via method value: store.Save.
func (s *Store) Save(ctx context.Context, in model.PersistInput) error {
	payload, err := codec.Encode(in)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("badger: marshal payload: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(in.SessionID), buf)
	})
}

// Load returns a previously persisted snapshot, or (nil, nil) if absent.
func (s *Store) Load(ctx context.Context, sessionID string) (*codec.Payload, error) {
	var out codec.Payload
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a persisted snapshot.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(sessionID))
	})
}
