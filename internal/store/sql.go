package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pms-sync-service/internal/database"
)

// querier is satisfied by both *sql.DB and *sql.Conn.
type querier interface {
	database.TxBeginner
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store with portable SQL for MySQL and SQLite.
type SQLStore struct {
	q     querier
	close func() error
	now   func() time.Time
	newID func() string
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		q:     db,
		close: db.Close,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (s *SQLStore) Close() error {
	return s.close()
}

func (s *SQLStore) Session(ctx context.Context) (Store, error) {
	db, ok := s.q.(*sql.DB)
	if !ok {
		return nil, errors.New("store: session already bound to a connection")
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &SQLStore{q: conn, close: conn.Close, now: s.now, newID: s.newID}, nil
}

const runColumns = `id, entity_type, status, started_at, completed_at, records_synced, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*SyncRun, error) {
	var r SyncRun
	err := row.Scan(
		&r.ID,
		&r.EntityType,
		&r.Status,
		&r.StartedAt,
		&r.CompletedAt,
		&r.RecordsSynced,
		&r.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	if run.ID == "" {
		run.ID = s.newID()
	}
	query := `INSERT INTO sync_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.q.ExecContext(ctx, query,
		run.ID,
		run.EntityType,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.RecordsSynced,
		run.ErrorMessage,
	)
	return err
}

func (s *SQLStore) UpdateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `UPDATE sync_runs SET status = ?, completed_at = ?, records_synced = ?, error_message = ? WHERE id = ?`

	_, err := s.q.ExecContext(ctx, query,
		run.Status,
		run.CompletedAt,
		run.RecordsSynced,
		run.ErrorMessage,
		run.ID,
	)
	return err
}

func (s *SQLStore) GetRunningSyncRun(ctx context.Context) (*SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE status = ? ORDER BY started_at DESC LIMIT 1`

	run, err := scanRun(s.q.QueryRowContext(ctx, query, RunStatusRunning))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *SQLStore) GetLatestSyncRun(ctx context.Context) (*SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT 1`

	run, err := scanRun(s.q.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *SQLStore) ListSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.q.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// lookupID finds the local identity for remoteID in table within tx.
func lookupID(ctx context.Context, tx *sql.Tx, table, remoteID string) (string, bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE remote_id = ?`, remoteID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s %s: %w", table, remoteID, err)
	}
	return id, true, nil
}

func (s *SQLStore) UpsertListings(ctx context.Context, listings []*Listing) (int, error) {
	err := database.ExecTx(ctx, s.q, func(tx *sql.Tx) error {
		now := s.now()
		for _, l := range listings {
			id, found, err := lookupID(ctx, tx, "listings", l.RemoteID)
			if err != nil {
				return err
			}
			l.UpdatedAt = now
			if found {
				l.ID = id
				_, err = tx.ExecContext(ctx, `UPDATE listings SET name = ?, bedrooms = ?, bathrooms = ?, property_type = ?, active = ?, address = ?, updated_at = ? WHERE id = ?`,
					l.Name, l.Bedrooms, l.Bathrooms, l.PropertyType, l.Active, l.Address, l.UpdatedAt, l.ID)
			} else {
				l.ID = s.newID()
				l.CreatedAt = now
				_, err = tx.ExecContext(ctx, `INSERT INTO listings (id, remote_id, name, bedrooms, bathrooms, property_type, active, address, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					l.ID, l.RemoteID, l.Name, l.Bedrooms, l.Bathrooms, l.PropertyType, l.Active, l.Address, l.CreatedAt, l.UpdatedAt)
			}
			if err != nil {
				return fmt.Errorf("upsert listing %s: %w", l.RemoteID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(listings), nil
}

func (s *SQLStore) UpsertGuests(ctx context.Context, guests []*Guest) (int, error) {
	err := database.ExecTx(ctx, s.q, func(tx *sql.Tx) error {
		now := s.now()
		for _, g := range guests {
			id, found, err := lookupID(ctx, tx, "guests", g.RemoteID)
			if err != nil {
				return err
			}
			g.UpdatedAt = now
			if found {
				g.ID = id
				_, err = tx.ExecContext(ctx, `UPDATE guests SET email_hash = ?, updated_at = ? WHERE id = ?`,
					g.EmailHash, g.UpdatedAt, g.ID)
			} else {
				g.ID = s.newID()
				g.CreatedAt = now
				_, err = tx.ExecContext(ctx, `INSERT INTO guests (id, remote_id, email_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
					g.ID, g.RemoteID, g.EmailHash, g.CreatedAt, g.UpdatedAt)
			}
			if err != nil {
				return fmt.Errorf("upsert guest %s: %w", g.RemoteID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(guests), nil
}

func (s *SQLStore) UpsertReservations(ctx context.Context, reservations []*Reservation) (int, error) {
	err := database.ExecTx(ctx, s.q, func(tx *sql.Tx) error {
		now := s.now()
		for _, r := range reservations {
			id, found, err := lookupID(ctx, tx, "reservations", r.RemoteID)
			if err != nil {
				return err
			}
			r.UpdatedAt = now
			if found {
				r.ID = id
				_, err = tx.ExecContext(ctx, `UPDATE reservations SET listing_id = ?, guest_id = ?, source = ?, status = ?, check_in = ?, check_out = ?, booked_at = ?, total_price_cents = ?, currency = ?, nights = ?, lead_time_days = ?, cancelled_at = ?, updated_at = ? WHERE id = ?`,
					r.ListingID, r.GuestID, r.Source, r.Status, r.CheckIn, r.CheckOut, r.BookedAt, r.TotalPriceCents, r.Currency, r.Nights, r.LeadTimeDays, r.CancelledAt, r.UpdatedAt, r.ID)
			} else {
				r.ID = s.newID()
				r.CreatedAt = now
				_, err = tx.ExecContext(ctx, `INSERT INTO reservations (id, remote_id, listing_id, guest_id, source, status, check_in, check_out, booked_at, total_price_cents, currency, nights, lead_time_days, cancelled_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					r.ID, r.RemoteID, r.ListingID, r.GuestID, r.Source, r.Status, r.CheckIn, r.CheckOut, r.BookedAt, r.TotalPriceCents, r.Currency, r.Nights, r.LeadTimeDays, r.CancelledAt, r.CreatedAt, r.UpdatedAt)
			}
			if err != nil {
				return fmt.Errorf("upsert reservation %s: %w", r.RemoteID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(reservations), nil
}

func (s *SQLStore) UpsertConversations(ctx context.Context, conversations []*Conversation) (int, error) {
	err := database.ExecTx(ctx, s.q, func(tx *sql.Tx) error {
		now := s.now()
		for _, c := range conversations {
			id, found, err := lookupID(ctx, tx, "conversations", c.RemoteID)
			if err != nil {
				return err
			}
			c.UpdatedAt = now
			if found {
				c.ID = id
				_, err = tx.ExecContext(ctx, `UPDATE conversations SET listing_id = ?, guest_id = ?, reservation_id = ?, source = ?, converted_to_booking = ?, first_message_at = ?, message_count = ?, updated_at = ? WHERE id = ?`,
					c.ListingID, c.GuestID, c.ReservationID, c.Source, c.ConvertedToBooking, c.FirstMessageAt, c.MessageCount, c.UpdatedAt, c.ID)
			} else {
				c.ID = s.newID()
				c.CreatedAt = now
				_, err = tx.ExecContext(ctx, `INSERT INTO conversations (id, remote_id, listing_id, guest_id, reservation_id, source, converted_to_booking, first_message_at, message_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					c.ID, c.RemoteID, c.ListingID, c.GuestID, c.ReservationID, c.Source, c.ConvertedToBooking, c.FirstMessageAt, c.MessageCount, c.CreatedAt, c.UpdatedAt)
			}
			if err != nil {
				return fmt.Errorf("upsert conversation %s: %w", c.RemoteID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(conversations), nil
}

func (s *SQLStore) ListingIDs(ctx context.Context) (IDMap, error) {
	return s.idMap(ctx, "listings")
}

func (s *SQLStore) GuestIDs(ctx context.Context) (IDMap, error) {
	return s.idMap(ctx, "guests")
}

func (s *SQLStore) ReservationIDs(ctx context.Context) (IDMap, error) {
	return s.idMap(ctx, "reservations")
}

func (s *SQLStore) idMap(ctx context.Context, table string) (IDMap, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT remote_id, id FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("load %s ids: %w", table, err)
	}
	defer rows.Close()

	ids := make(IDMap)
	for rows.Next() {
		var remoteID, id string
		if err := rows.Scan(&remoteID, &id); err != nil {
			return nil, err
		}
		ids[remoteID] = id
	}
	return ids, rows.Err()
}
