package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pms-sync-service/internal/config"
	"pms-sync-service/internal/logger"
	"pms-sync-service/internal/normalize"
	"pms-sync-service/internal/pms"
	"pms-sync-service/internal/store"
)

type unit struct {
	kind pms.EntityKind
	run  func(ctx context.Context, env *runEnv) (int, error)
}

// units run in this order: reservations resolve listings and guests, and
// conversations resolve all three.
var units = []unit{
	{pms.KindListings, syncListings},
	{pms.KindGuests, syncGuests},
	{pms.KindReservations, syncReservations},
	{pms.KindConversations, syncConversations},
}

// Manager runs the entity units as one tracked sync run. Overlapping triggers
// within the process are absorbed by the running-row guard; deployments with
// several processes need an external lock.
type Manager struct {
	cfg        *config.Config
	store      store.Store
	newFetcher func() Fetcher
	aliases    map[string]string
	unknown    *normalize.UnknownSources
	now        func() time.Time

	mu sync.Mutex
	wg sync.WaitGroup
}

type Option func(*Manager)

// WithFetcherFactory replaces the PMS client constructed for each run.
func WithFetcherFactory(f func() Fetcher) Option {
	return func(m *Manager) { m.newFetcher = f }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg *config.Config, st store.Store, opts ...Option) (*Manager, error) {
	if cfg.Sync.PageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", cfg.Sync.PageSize)
	}

	extra := make(map[string]string, len(cfg.Normalizer.Aliases))
	for _, a := range cfg.Normalizer.Aliases {
		extra[a.Alias] = a.Canonical
	}

	m := &Manager{
		cfg:     cfg,
		store:   st,
		aliases: normalize.MergeAliases(extra),
		unknown: normalize.NewUnknownSources(),
		now:     time.Now,
	}
	m.newFetcher = func() Fetcher { return pms.NewClient(cfg.Remote) }
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run executes a full sync and blocks until it reaches a terminal state. If a
// run is already in progress it returns that run with AlreadyRunning set.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	run, existing, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{AlreadyRunning: true, Run: existing}, nil
	}
	err = m.execute(ctx, run)
	return &Result{Run: run}, err
}

// Trigger records a new run and executes it in the background. The returned
// run is a snapshot taken at start.
func (m *Manager) Trigger(ctx context.Context) (*Result, error) {
	run, existing, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{AlreadyRunning: true, Run: existing}, nil
	}

	snapshot := *run
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Detached from the caller's context: the run outlives the request.
		if err := m.execute(context.Background(), run); err != nil {
			logger.Log.Error("Background sync failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	return &Result{Run: &snapshot}, nil
}

// Wait blocks until background runs started by Trigger have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) Close() {
	m.Wait()
}

// begin creates the running row, or returns the existing one.
func (m *Manager) begin(ctx context.Context) (*store.SyncRun, *store.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	running, err := m.store.GetRunningSyncRun(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("check running sync: %w", err)
	}
	if running != nil {
		syncAlreadyRunningTotal.Inc()
		logger.Log.Info("Sync already running, skipping trigger",
			zap.String("run_id", running.ID),
			zap.Time("started_at", running.StartedAt),
		)
		return nil, running, nil
	}

	run := &store.SyncRun{
		ID:         uuid.NewString(),
		EntityType: store.EntityTypeFull,
		Status:     store.RunStatusRunning,
		StartedAt:  m.now().UTC(),
	}
	if err := m.store.CreateSyncRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create sync run: %w", err)
	}
	logger.Log.Info("Starting sync run", zap.String("run_id", run.ID))
	return run, nil, nil
}

func (m *Manager) execute(ctx context.Context, run *store.SyncRun) error {
	start := time.Now()
	defer func() { syncRunDuration.Observe(time.Since(start).Seconds()) }()

	sess, err := m.store.Session(ctx)
	if err != nil {
		m.fail(ctx, m.store, run, err)
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Log.Warn("Failed to release store session", zap.Error(err))
		}
	}()

	env := &runEnv{
		store:         sess,
		fetcher:       m.newFetcher(),
		normalizer:    normalize.New(m.aliases, m.unknown),
		pageSize:      m.cfg.Sync.PageSize,
		lookbackYears: m.cfg.Sync.ReservationLookbackYears,
		now:           m.now().UTC(),
	}

	for _, u := range units {
		n, err := u.run(ctx, env)
		run.RecordsSynced += int64(n)
		if err != nil {
			err = fmt.Errorf("sync %s: %w", u.kind, err)
			m.fail(ctx, sess, run, err)
			return err
		}
		logger.Log.Info("Entity sync complete",
			zap.String("run_id", run.ID),
			zap.String("entity", string(u.kind)),
			zap.Int("records", n),
		)
	}

	run.Status = store.RunStatusSuccess
	run.CompletedAt = sql.NullTime{Time: m.now().UTC(), Valid: true}
	if err := sess.UpdateSyncRun(context.WithoutCancel(ctx), run); err != nil {
		err = fmt.Errorf("complete sync run: %w", err)
		m.fail(ctx, sess, run, err)
		return err
	}
	syncRunsTotal.WithLabelValues(string(store.RunStatusSuccess)).Inc()
	logger.Log.Info("Sync run succeeded",
		zap.String("run_id", run.ID),
		zap.Int64("records", run.RecordsSynced),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// fail moves the running row to failed. It uses a context that survives
// cancellation of the run so the terminal state is always written.
func (m *Manager) fail(ctx context.Context, st store.Store, run *store.SyncRun, cause error) {
	ctx = context.WithoutCancel(ctx)

	if running, err := st.GetRunningSyncRun(ctx); err == nil && running != nil && running.ID != run.ID {
		logger.Log.Warn("Unexpected running sync row", zap.String("run_id", running.ID), zap.String("expected", run.ID))
	}

	run.Status = store.RunStatusFailed
	run.CompletedAt = sql.NullTime{Time: m.now().UTC(), Valid: true}
	run.ErrorMessage = sql.NullString{String: cause.Error(), Valid: true}
	if err := st.UpdateSyncRun(ctx, run); err != nil {
		if st == m.store {
			logger.Log.Error("Failed to record sync failure", zap.String("run_id", run.ID), zap.Error(err))
		} else {
			// The session may be the thing that broke; fall back to the pool.
			logger.Log.Warn("Failed to record sync failure on session, retrying", zap.String("run_id", run.ID), zap.Error(err))
			if err := m.store.UpdateSyncRun(ctx, run); err != nil {
				logger.Log.Error("Failed to record sync failure", zap.String("run_id", run.ID), zap.Error(err))
			}
		}
	}
	syncRunsTotal.WithLabelValues(string(store.RunStatusFailed)).Inc()

	fields := []zap.Field{zap.String("run_id", run.ID), zap.Error(cause)}
	var shapeErr *DataShapeError
	var authErr *pms.AuthError
	var apiErr *pms.RemoteAPIError
	switch {
	case errors.As(cause, &shapeErr):
		fields = append(fields, zap.String("kind", "data_shape"), zap.String("remote_id", shapeErr.RemoteID))
	case errors.As(cause, &authErr):
		fields = append(fields, zap.String("kind", "auth"), zap.Int("status", authErr.StatusCode))
	case errors.As(cause, &apiErr):
		fields = append(fields, zap.String("kind", "remote_api"), zap.Int("status", apiErr.StatusCode))
	}
	logger.Log.Error("Sync run failed", fields...)
}

// Status reports the most recent run.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	run, err := m.store.GetLatestSyncRun(ctx)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return &Status{State: StateNeverRun}, nil
	}
	st := &Status{State: State(run.Status), Run: run}
	if threshold := m.cfg.Sync.GetStaleRunAfter(); threshold > 0 && run.Status == store.RunStatusRunning {
		st.Stale = m.now().Sub(run.StartedAt) > threshold
	}
	return st, nil
}

func (m *Manager) History(ctx context.Context, limit, offset int) ([]*store.SyncRun, error) {
	return m.store.ListSyncRuns(ctx, limit, offset)
}

// UnknownSources lists raw source values seen without an alias since start.
func (m *Manager) UnknownSources() []string {
	return m.unknown.Snapshot()
}
