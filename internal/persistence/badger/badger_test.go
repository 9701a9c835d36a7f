// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/domain/timeline"
	"github.com/fitcore/fitcore/internal/domain/user"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func samplePersistInput() model.PersistInput {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(15 * time.Second)
	return model.PersistInput{
		SessionID: "fs_20260101090000",
		Timezone:  "UTC",
		StartTime: start,
		EndTime:   end,
		TickCount: 3,
		Roster:    []user.RosterEntry{{UserID: "alice", DisplayName: "Alice", HRDeviceID: "hr1"}},
		Entities:  []*user.SessionEntity{{EntityID: "ent1", ProfileID: "alice", DeviceID: "hr1", StartTime: start}},
		Timeline: timeline.Summary{
			Timebase: timeline.Timebase{StartTime: start, IntervalMs: 5000, TickCount: 3, LastTickTimestamp: end},
			Series: map[string][]timeline.Value{
				"user:alice:heart_rate": {timeline.Num(120), timeline.Num(121), timeline.Num(122)},
			},
		},
	}
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(context.Background(), samplePersistInput()))

	payload, err := store.Load(context.Background(), "fs_20260101090000")
	require.NoError(t, err)
	require.NotNil(t, payload)
	require.Equal(t, "fs_20260101090000", payload.SessionID)
}

func TestStoreLoadReturnsNilWhenMissing(t *testing.T) {
	store := openTestStore(t)

	payload, err := store.Load(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, payload)
}

func TestStoreSaveRejectsInvalidInput(t *testing.T) {
	store := openTestStore(t)

	in := samplePersistInput()
	in.TickCount = 1
	err := store.Save(context.Background(), in)
	require.Error(t, err)
}

func TestStoreDeleteSessionRemovesSnapshot(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(context.Background(), samplePersistInput()))
	require.NoError(t, store.DeleteSession(context.Background(), "fs_20260101090000"))

	payload, err := store.Load(context.Background(), "fs_20260101090000")
	require.NoError(t, err)
	require.Nil(t, payload)
}
