package store

import (
	"context"
)

type Store interface {
	// Sync runs
	CreateSyncRun(ctx context.Context, run *SyncRun) error
	UpdateSyncRun(ctx context.Context, run *SyncRun) error
	GetRunningSyncRun(ctx context.Context) (*SyncRun, error)
	GetLatestSyncRun(ctx context.Context) (*SyncRun, error)
	ListSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error)

	// Entities. Each Upsert call is one transaction keyed by remote_id.
	UpsertListings(ctx context.Context, listings []*Listing) (int, error)
	UpsertGuests(ctx context.Context, guests []*Guest) (int, error)
	UpsertReservations(ctx context.Context, reservations []*Reservation) (int, error)
	UpsertConversations(ctx context.Context, conversations []*Conversation) (int, error)

	// Remote -> local identity lookups
	ListingIDs(ctx context.Context) (IDMap, error)
	GuestIDs(ctx context.Context) (IDMap, error)
	ReservationIDs(ctx context.Context) (IDMap, error)

	// Session returns a Store bound to a dedicated connection. Closing the
	// session releases the connection, not the underlying pool.
	Session(ctx context.Context) (Store, error)

	// General
	Close() error
}
