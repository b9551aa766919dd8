package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"pms-sync-service/internal/logger"
	"pms-sync-service/internal/normalize"
	"pms-sync-service/internal/pms"
	"pms-sync-service/internal/store"
)

// runEnv carries everything a unit needs for one run.
type runEnv struct {
	store         store.Store
	fetcher       Fetcher
	normalizer    *normalize.Normalizer
	pageSize      int
	lookbackYears int
	now           time.Time
}

// batchFunc transforms and persists one page, returning the records written.
type batchFunc func(ctx context.Context, raw []json.RawMessage) (int, error)

// pageThrough walks kind with skip/limit from zero until a short or empty
// page. Each page is handed to fn, which commits it before the next fetch.
func (e *runEnv) pageThrough(ctx context.Context, kind pms.EntityKind, filters []pms.Filter, fn batchFunc) (int, error) {
	total := 0
	for skip := 0; ; skip += e.pageSize {
		page, err := e.fetcher.FetchPage(ctx, kind, skip, e.pageSize, filters)
		if err != nil {
			return total, fmt.Errorf("fetch %s at skip %d: %w", kind, skip, err)
		}
		if len(page.Results) == 0 {
			return total, nil
		}

		n, err := fn(ctx, page.Results)
		if err != nil {
			return total, err
		}
		total += n
		syncRecordsTotal.WithLabelValues(string(kind)).Add(float64(n))
		logger.Log.Debug("Committed page",
			zap.String("entity", string(kind)),
			zap.Int("skip", skip),
			zap.Int("records", n),
		)

		if len(page.Results) < e.pageSize {
			return total, nil
		}
	}
}

// decodeRecord unmarshals raw into v and checks the remote identity.
func decodeRecord(kind pms.EntityKind, raw json.RawMessage, v any, id func() string) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &DataShapeError{Entity: kind, Reason: "undecodable record: " + err.Error()}
	}
	if strings.TrimSpace(id()) == "" {
		return &DataShapeError{Entity: kind, Field: "_id", Reason: "missing"}
	}
	return nil
}
