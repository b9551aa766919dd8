package sync

import (
	"context"

	"github.com/goccy/go-json"

	"pms-sync-service/internal/pms"
	"pms-sync-service/internal/store"
)

type remoteGuest struct {
	ID     string   `json:"_id"`
	Email  string   `json:"email"`
	Emails []string `json:"emails"`
}

func syncGuests(ctx context.Context, env *runEnv) (int, error) {
	return env.pageThrough(ctx, pms.KindGuests, nil, func(ctx context.Context, raw []json.RawMessage) (int, error) {
		batch := make([]*store.Guest, 0, len(raw))
		for _, r := range raw {
			var rg remoteGuest
			if err := decodeRecord(pms.KindGuests, r, &rg, func() string { return rg.ID }); err != nil {
				return 0, err
			}
			email := rg.Email
			if email == "" && len(rg.Emails) > 0 {
				email = rg.Emails[0]
			}
			batch = append(batch, &store.Guest{
				RemoteID:  rg.ID,
				EmailHash: emailDigest(email),
			})
		}
		return env.store.UpsertGuests(ctx, batch)
	})
}
