package sync

import (
	"context"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"pms-sync-service/internal/pms"
	"pms-sync-service/internal/store"
)

type remoteListing struct {
	ID           string  `json:"_id"`
	Title        string  `json:"title"`
	Nickname     string  `json:"nickname"`
	Bedrooms     float64 `json:"bedrooms"`
	Bathrooms    float64 `json:"bathrooms"`
	PropertyType string  `json:"propertyType"`
	Active       *bool   `json:"active"`
	Address      struct {
		Full string `json:"full"`
	} `json:"address"`
}

func syncListings(ctx context.Context, env *runEnv) (int, error) {
	return env.pageThrough(ctx, pms.KindListings, nil, func(ctx context.Context, raw []json.RawMessage) (int, error) {
		batch := make([]*store.Listing, 0, len(raw))
		for _, r := range raw {
			var rl remoteListing
			if err := decodeRecord(pms.KindListings, r, &rl, func() string { return rl.ID }); err != nil {
				return 0, err
			}
			name := strings.TrimSpace(rl.Title)
			if name == "" {
				name = strings.TrimSpace(rl.Nickname)
			}
			// Listings without an active flag are treated as active.
			active := true
			if rl.Active != nil {
				active = *rl.Active
			}
			batch = append(batch, &store.Listing{
				RemoteID:     rl.ID,
				Name:         name,
				Bedrooms:     int(math.Round(rl.Bedrooms)),
				Bathrooms:    rl.Bathrooms,
				PropertyType: rl.PropertyType,
				Active:       active,
				Address:      rl.Address.Full,
			})
		}
		return env.store.UpsertListings(ctx, batch)
	})
}
