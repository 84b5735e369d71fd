package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	now := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	rec := &model.UpdateRecord{
		AppID:                     "a",
		PackageName:               "org.chromium.webapk.a",
		LastCheckTime:             now,
		LastCompletionTime:        now.Add(-time.Hour),
		LastRequestSucceeded:      true,
		LastRequestedShellVersion: 120,
		ShouldForceUpdate:         true,
		RelaxedUpdates:            true,
		UpdateScheduled:           true,
		PendingUpdateRequestPath:  "/var/lib/webapkd/requests/a",
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestGetMissing(t *testing.T) {
	_, err := newStore(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestPutRejectsScheduledWithoutPath(t *testing.T) {
	err := newStore(t).Put(context.Background(), &model.UpdateRecord{AppID: "a", UpdateScheduled: true})
	assert.ErrorIs(t, err, model.ErrScheduledWithoutRequest)
}

func TestLastCheckTimeNeverDecreases(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	later := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, &model.UpdateRecord{AppID: "a", LastCheckTime: later}))
	require.NoError(t, s.Put(ctx, &model.UpdateRecord{AppID: "a", LastCheckTime: later.Add(-time.Hour), ShouldForceUpdate: true}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.LastCheckTime.Equal(later))
	assert.True(t, got.ShouldForceUpdate)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Put(ctx, &model.UpdateRecord{AppID: "b"}))
	require.NoError(t, s.Put(ctx, &model.UpdateRecord{AppID: "a", UpdateScheduled: true, PendingUpdateRequestPath: "/p/a"}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].AppID)
	assert.True(t, all[0].LastCheckTime.IsZero())

	scheduled, err := s.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "a", scheduled[0].AppID)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	all, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "webapkd.db")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, &model.UpdateRecord{AppID: "a", RelaxedUpdates: true}))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.RelaxedUpdates)
}
