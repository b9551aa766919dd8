package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pms-sync-service/internal/config"
	"pms-sync-service/internal/store"
)

func TestSchedulerDisabled(t *testing.T) {
	m, _, _ := newTestManager(t, seedFetcher(), 100)
	s := NewScheduler(config.SchedulerConfig{Enabled: false, Interval: "bogus"}, m)

	require.NoError(t, s.Start())
	assert.Empty(t, s.cron.Entries())
	s.Stop()
}

func TestSchedulerRejectsBadInterval(t *testing.T) {
	m, _, _ := newTestManager(t, seedFetcher(), 100)
	s := NewScheduler(config.SchedulerConfig{Enabled: true, Interval: "every tuesday"}, m)

	assert.Error(t, s.Start())
}

func TestSchedulerRegistersJob(t *testing.T) {
	m, _, _ := newTestManager(t, seedFetcher(), 100)
	s := NewScheduler(config.SchedulerConfig{Enabled: true, Interval: "@every 1h"}, m)

	require.NoError(t, s.Start())
	defer s.Stop()
	require.Len(t, s.cron.Entries(), 1)
	assert.Equal(t, s.entryID, s.cron.Entries()[0].ID)
}

func TestSchedulerTriggerRunsSync(t *testing.T) {
	m, _, db := newTestManager(t, seedFetcher(), 100)
	s := NewScheduler(config.SchedulerConfig{Enabled: true, Interval: "@every 1h"}, m)

	s.triggerSync()

	assert.Equal(t, 3, countRows(t, db, "reservations"))
	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
}

func TestSchedulerTriggerSkipsWhileRunning(t *testing.T) {
	f := seedFetcher()
	m, st, db := newTestManager(t, f, 100)
	require.NoError(t, st.CreateSyncRun(context.Background(), &store.SyncRun{
		ID:         "inflight",
		EntityType: store.EntityTypeFull,
		Status:     store.RunStatusRunning,
		StartedAt:  testNow,
	}))
	s := NewScheduler(config.SchedulerConfig{Enabled: true, Interval: "@every 1h"}, m)

	s.triggerSync()

	assert.Equal(t, 0, countRows(t, db, "listings"))
	assert.Empty(t, f.callsFor("listings"))
}
