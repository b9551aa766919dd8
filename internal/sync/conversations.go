package sync

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"

	"pms-sync-service/internal/pms"
	"pms-sync-service/internal/store"
)

type remoteConversation struct {
	ID             string `json:"_id"`
	ListingID      string `json:"listingId"`
	GuestID        string `json:"guestId"`
	ReservationID  string `json:"reservationId"`
	Source         string `json:"source"`
	FirstMessageAt string `json:"firstMessageAt"`
	CreatedAt      string `json:"createdAt"`
	MessageCount   int    `json:"messageCount"`
}

type conversationLookups struct {
	listings     store.IDMap
	guests       store.IDMap
	reservations store.IDMap
}

func syncConversations(ctx context.Context, env *runEnv) (int, error) {
	var (
		lk  conversationLookups
		err error
	)
	if lk.listings, err = env.store.ListingIDs(ctx); err != nil {
		return 0, err
	}
	if lk.guests, err = env.store.GuestIDs(ctx); err != nil {
		return 0, err
	}
	if lk.reservations, err = env.store.ReservationIDs(ctx); err != nil {
		return 0, err
	}

	return env.pageThrough(ctx, pms.KindConversations, nil, func(ctx context.Context, raw []json.RawMessage) (int, error) {
		batch := make([]*store.Conversation, 0, len(raw))
		for _, r := range raw {
			var rc remoteConversation
			if err := decodeRecord(pms.KindConversations, r, &rc, func() string { return rc.ID }); err != nil {
				return 0, err
			}
			c, err := buildConversation(env, rc, lk)
			if err != nil {
				return 0, err
			}
			batch = append(batch, c)
		}
		return env.store.UpsertConversations(ctx, batch)
	})
}

func buildConversation(env *runEnv, rc remoteConversation, lk conversationLookups) (*store.Conversation, error) {
	var firstMessageAt sql.NullTime
	raw := rc.FirstMessageAt
	field := "firstMessageAt"
	if raw == "" {
		raw, field = rc.CreatedAt, "createdAt"
	}
	if raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, &DataShapeError{Entity: pms.KindConversations, RemoteID: rc.ID, Field: field, Reason: err.Error()}
		}
		firstMessageAt = sql.NullTime{Time: ts, Valid: true}
	}

	reservationID := lk.reservations.Resolve(rc.ReservationID)
	return &store.Conversation{
		RemoteID:           rc.ID,
		ListingID:          lk.listings.Resolve(rc.ListingID),
		GuestID:            lk.guests.Resolve(rc.GuestID),
		ReservationID:      reservationID,
		Source:             env.normalizer.Normalize(rc.Source),
		ConvertedToBooking: reservationID.Valid,
		FirstMessageAt:     firstMessageAt,
		MessageCount:       rc.MessageCount,
	}, nil
}
