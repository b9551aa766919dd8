package sync

import (
	"context"
	"fmt"

	"pms-sync-service/internal/pms"
	"pms-sync-service/internal/store"
)

// Fetcher is the part of the PMS client the sync units depend on.
type Fetcher interface {
	FetchPage(ctx context.Context, kind pms.EntityKind, skip, limit int, filters []pms.Filter) (*pms.Page, error)
}

// Result describes the outcome of a trigger. When AlreadyRunning is set, Run
// is the in-flight run and no work was started.
type Result struct {
	AlreadyRunning bool
	Run            *store.SyncRun
}

type State string

const (
	StateNeverRun State = "never_run"
	StateRunning  State = "running"
	StateSuccess  State = "success"
	StateFailed   State = "failed"
)

type Status struct {
	State State
	Run   *store.SyncRun
	// Stale marks a run still running past the configured threshold, which
	// usually means the process died mid-run. It is safe to re-trigger.
	Stale bool
}

// DataShapeError reports a remote record that is missing or has a malformed
// required field. It aborts the current unit.
type DataShapeError struct {
	Entity   pms.EntityKind
	RemoteID string
	Field    string
	Reason   string
}

func (e *DataShapeError) Error() string {
	id := e.RemoteID
	if id == "" {
		id = "<no id>"
	}
	if e.Field == "" {
		return fmt.Sprintf("malformed %s record %s: %s", e.Entity, id, e.Reason)
	}
	return fmt.Sprintf("malformed %s record %s: %s: %s", e.Entity, id, e.Field, e.Reason)
}
