// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package redis writes the encoded v2 session snapshot (spec.md §6) to a
// single TTL'd Redis key, ahead of (or instead of) a durable store, so a
// crashed process can be inspected. It never reads the payload back for
// the core's own use — Save is the only entry point a FitnessSession needs.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/persistence/codec"
)

// Config configures the Redis connection and the snapshot key's TTL.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DefaultConfig mirrors the teacher cache package's connection tuning.
func DefaultConfig() Config {
	return Config{DB: 0, TTL: 24 * time.Hour}
}

// Store persists session snapshots under fitcore:session:<id>.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New dials Redis and verifies connectivity before returning.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: connect failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis persistence store")
	return &Store{client: client, ttl: ttl, logger: logger}, nil
}

func sessionKey(id string) string { return "fitcore:session:" + id }

// Save encodes in and writes it to its session key. Shaped as a
// manager.PersistFunc via method value: store.Save.
func (s *Store) Save(ctx context.Context, in model.PersistInput) error {
	payload, err := codec.Encode(in)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis: marshal payload: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(in.SessionID), buf, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set failed: %w", err)
	}
	s.logger.Debug().Str("sessionId", in.SessionID).Msg("persisted session snapshot to redis")
	return nil
}

// Load fetches a previously persisted snapshot, returning (nil, nil) when
// the key doesn't exist or has expired.
func (s *Store) Load(ctx context.Context, sessionID string) (*codec.Payload, error) {
	val, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get failed: %w", err)
	}
	var payload codec.Payload
	if err := json.Unmarshal(val, &payload); err != nil {
		return nil, fmt.Errorf("redis: unmarshal payload: %w", err)
	}
	return &payload, nil
}

func (s *Store) Close() error { return s.client.Close() }
