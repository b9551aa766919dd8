package sync

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts the PMS's ISO-8601 timestamps (with a trailing Z)
// and bare dates. Results are in UTC.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognised timestamp " + s)
}

// dateOf truncates t to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts calendar days from a to b; negative when b is before a.
func daysBetween(a, b time.Time) int {
	return int(dateOf(b).Sub(dateOf(a)) / (24 * time.Hour))
}

// minorUnits converts a decimal money amount to an integer number of cents,
// rounding half away from zero. An empty amount is zero.
func minorUnits(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, err
	}
	cents := d.Mul(decimal.NewFromInt(100)).Round(0)
	if cents.IsNegative() {
		return 0, errors.New("negative amount " + amount)
	}
	return cents.IntPart(), nil
}

// emailDigest returns the hex SHA-256 of the normalized address. The raw
// address never leaves this function.
func emailDigest(email string) sql.NullString {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return sql.NullString{}
	}
	sum := sha256.Sum256([]byte(email))
	return sql.NullString{String: hex.EncodeToString(sum[:]), Valid: true}
}

func isCancelled(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "canceled", "cancelled":
		return true
	}
	return false
}
