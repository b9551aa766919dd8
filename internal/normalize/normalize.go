// Package normalize maps booking-channel source strings reported by the PMS
// to a canonical vocabulary.
package normalize

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pms-sync-service/internal/logger"
)

// Unknown is the canonical value for an empty source.
const Unknown = "unknown"

// DefaultAliases is the built-in alias -> canonical source table.
var DefaultAliases = map[string]string{
	"airbnb":         "airbnb",
	"Airbnb":         "airbnb",
	"airbnb2":        "airbnb",
	"airbnbOfficial": "airbnb",

	"HomeAway":  "vrbo",
	"homeaway":  "vrbo",
	"homeaway2": "vrbo",
	"VRBO":      "vrbo",
	"vrbo":      "vrbo",

	"Booking.com": "booking",
	"booking.com": "booking",
	"bookingCom":  "booking",
	"bookingcom":  "booking",
	"booking":     "booking",

	"direct":        "direct",
	"Direct":        "direct",
	"manual":        "direct",
	"website":       "direct",
	"owner":         "direct",
	"bookingEngine": "direct",

	"Expedia": "expedia",
	"expedia": "expedia",

	"Google":                "google",
	"google":                "google",
	"googleVacationRentals": "google",

	"TripAdvisor": "tripadvisor",
	"tripadvisor": "tripadvisor",
}

// UnknownSources is a deduplicated set of raw source values that had no alias.
type UnknownSources struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewUnknownSources() *UnknownSources {
	return &UnknownSources{seen: make(map[string]struct{})}
}

// Add records raw and reports whether it was not seen before.
func (u *UnknownSources) Add(raw string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.seen[raw]; ok {
		return false
	}
	u.seen[raw] = struct{}{}
	return true
}

func (u *UnknownSources) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.seen)
}

// Snapshot returns the recorded values in sorted order.
func (u *UnknownSources) Snapshot() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.seen))
	for s := range u.seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type Normalizer struct {
	exact   map[string]string
	folded  map[string]string
	unknown *UnknownSources
}

// New builds a Normalizer from aliases. Unmatched values are recorded in
// unknown, which may be shared across runs.
func New(aliases map[string]string, unknown *UnknownSources) *Normalizer {
	if unknown == nil {
		unknown = NewUnknownSources()
	}
	n := &Normalizer{
		exact:   make(map[string]string, len(aliases)),
		folded:  make(map[string]string, len(aliases)),
		unknown: unknown,
	}
	for alias, canonical := range aliases {
		n.exact[alias] = canonical
		key := strings.ToLower(alias)
		// Keep the first folded mapping deterministic when aliases collide.
		if prev, ok := n.folded[key]; !ok || canonical < prev {
			n.folded[key] = canonical
		}
	}
	return n
}

// Normalize returns the canonical source for raw. It never fails: values with
// no alias are passed through lowercased.
func (n *Normalizer) Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Unknown
	}
	if canonical, ok := n.exact[trimmed]; ok {
		return canonical
	}
	lower := strings.ToLower(trimmed)
	if canonical, ok := n.folded[lower]; ok {
		return canonical
	}
	if n.unknown.Add(trimmed) {
		logger.Log.Warn("Unmapped booking source", zap.String("source", trimmed))
	}
	return lower
}

// Unknown returns the collector shared by this normalizer.
func (n *Normalizer) Unknown() *UnknownSources {
	return n.unknown
}

// MergeAliases returns DefaultAliases overlaid with extra.
func MergeAliases(extra map[string]string) map[string]string {
	out := make(map[string]string, len(DefaultAliases)+len(extra))
	for k, v := range DefaultAliases {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
