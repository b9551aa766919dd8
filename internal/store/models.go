package store

import (
	"database/sql"
	"time"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// EntityTypeFull labels a run that covers every entity.
const EntityTypeFull = "full"

type Listing struct {
	ID           string    `db:"id"`
	RemoteID     string    `db:"remote_id"`
	Name         string    `db:"name"`
	Bedrooms     int       `db:"bedrooms"`
	Bathrooms    float64   `db:"bathrooms"`
	PropertyType string    `db:"property_type"`
	Active       bool      `db:"active"`
	Address      string    `db:"address"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Guest holds only a digest of the guest's email, never the address itself.
type Guest struct {
	ID        string         `db:"id"`
	RemoteID  string         `db:"remote_id"`
	EmailHash sql.NullString `db:"email_hash"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

type Reservation struct {
	ID              string         `db:"id"`
	RemoteID        string         `db:"remote_id"`
	ListingID       sql.NullString `db:"listing_id"`
	GuestID         sql.NullString `db:"guest_id"`
	Source          string         `db:"source"`
	Status          string         `db:"status"`
	CheckIn         time.Time      `db:"check_in"`
	CheckOut        time.Time      `db:"check_out"`
	BookedAt        time.Time      `db:"booked_at"`
	TotalPriceCents int64          `db:"total_price_cents"`
	Currency        string         `db:"currency"`
	Nights          int            `db:"nights"`
	LeadTimeDays    int            `db:"lead_time_days"`
	CancelledAt     sql.NullTime   `db:"cancelled_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type Conversation struct {
	ID                 string         `db:"id"`
	RemoteID           string         `db:"remote_id"`
	ListingID          sql.NullString `db:"listing_id"`
	GuestID            sql.NullString `db:"guest_id"`
	ReservationID      sql.NullString `db:"reservation_id"`
	Source             string         `db:"source"`
	ConvertedToBooking bool           `db:"converted_to_booking"`
	FirstMessageAt     sql.NullTime   `db:"first_message_at"`
	MessageCount       int            `db:"message_count"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

type SyncRun struct {
	ID            string         `db:"id"`
	EntityType    string         `db:"entity_type"`
	Status        RunStatus      `db:"status"`
	StartedAt     time.Time      `db:"started_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
	RecordsSynced int64          `db:"records_synced"`
	ErrorMessage  sql.NullString `db:"error_message"`
}

// IDMap resolves remote identities to local identities.
type IDMap map[string]string

// Resolve returns the local identity for remoteID, or an invalid NullString
// when remoteID is empty or has not been synced.
func (m IDMap) Resolve(remoteID string) sql.NullString {
	if remoteID == "" {
		return sql.NullString{}
	}
	id, ok := m[remoteID]
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: id, Valid: true}
}
