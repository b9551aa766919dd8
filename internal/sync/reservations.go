package sync

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"pms-sync-service/internal/pms"
	"pms-sync-service/internal/store"
)

type remoteReservation struct {
	ID         string `json:"_id"`
	ListingID  string `json:"listingId"`
	GuestID    string `json:"guestId"`
	Source     string `json:"source"`
	Status     string `json:"status"`
	CheckIn    string `json:"checkIn"`
	CheckOut   string `json:"checkOut"`
	CreatedAt  string `json:"createdAt"`
	CanceledAt string `json:"canceledAt"`
	Money      struct {
		TotalPrice json.Number `json:"totalPrice"`
		Currency   string      `json:"currency"`
	} `json:"money"`
}

// reservationFilters limits the query to check-ins within the lookback window.
func reservationFilters(env *runEnv) []pms.Filter {
	from := env.now.AddDate(-env.lookbackYears, 0, 0)
	return []pms.Filter{{
		Field:    "checkIn",
		Operator: "$gte",
		Value:    dateOf(from).Format("2006-01-02T00:00:00Z"),
	}}
}

func syncReservations(ctx context.Context, env *runEnv) (int, error) {
	listingIDs, err := env.store.ListingIDs(ctx)
	if err != nil {
		return 0, err
	}
	guestIDs, err := env.store.GuestIDs(ctx)
	if err != nil {
		return 0, err
	}

	return env.pageThrough(ctx, pms.KindReservations, reservationFilters(env), func(ctx context.Context, raw []json.RawMessage) (int, error) {
		batch := make([]*store.Reservation, 0, len(raw))
		for _, r := range raw {
			var rr remoteReservation
			if err := decodeRecord(pms.KindReservations, r, &rr, func() string { return rr.ID }); err != nil {
				return 0, err
			}
			res, err := buildReservation(env, rr, listingIDs, guestIDs)
			if err != nil {
				return 0, err
			}
			batch = append(batch, res)
		}
		return env.store.UpsertReservations(ctx, batch)
	})
}

func buildReservation(env *runEnv, rr remoteReservation, listingIDs, guestIDs store.IDMap) (*store.Reservation, error) {
	shapeErr := func(field string, err error) error {
		return &DataShapeError{Entity: pms.KindReservations, RemoteID: rr.ID, Field: field, Reason: err.Error()}
	}

	checkIn, err := parseTimestamp(rr.CheckIn)
	if err != nil {
		return nil, shapeErr("checkIn", err)
	}
	checkOut, err := parseTimestamp(rr.CheckOut)
	if err != nil {
		return nil, shapeErr("checkOut", err)
	}
	bookedAt, err := parseTimestamp(rr.CreatedAt)
	if err != nil {
		return nil, shapeErr("createdAt", err)
	}
	nights := daysBetween(checkIn, checkOut)
	if nights < 0 {
		return nil, shapeErr("checkOut", fmt.Errorf("%d days before checkIn", -nights))
	}
	cents, err := minorUnits(rr.Money.TotalPrice.String())
	if err != nil {
		return nil, shapeErr("money.totalPrice", err)
	}

	var cancelledAt sql.NullTime
	if isCancelled(rr.Status) && rr.CanceledAt != "" {
		ts, err := parseTimestamp(rr.CanceledAt)
		if err != nil {
			return nil, shapeErr("canceledAt", err)
		}
		cancelledAt = sql.NullTime{Time: ts, Valid: true}
	}

	return &store.Reservation{
		RemoteID:        rr.ID,
		ListingID:       listingIDs.Resolve(rr.ListingID),
		GuestID:         guestIDs.Resolve(rr.GuestID),
		Source:          env.normalizer.Normalize(rr.Source),
		Status:          rr.Status,
		CheckIn:         dateOf(checkIn),
		CheckOut:        dateOf(checkOut),
		BookedAt:        bookedAt,
		TotalPriceCents: cents,
		Currency:        rr.Money.Currency,
		Nights:          nights,
		LeadTimeDays:    daysBetween(bookedAt, checkIn),
		CancelledAt:     cancelledAt,
	}, nil
}
