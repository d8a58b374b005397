// Package country resolves a two-letter country code (or comma-separated
// list of codes) to one `host:port` proxy-pool entry, either uniformly at
// random or via rendezvous (highest-random-weight) hashing keyed by a
// session-stable id, so repeat requests from the same client tend to land
// on the same pool entry. Grounded on
// original_source/src/lib.rs::tunnel_inner's PROXYKV_PATTERN handling
// (split on comma, pick a country code, then pick a pool entry) with the
// selection itself generalized from its single getrandom-byte scheme.
package country

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/dgryski/go-rendezvous"

	"github.com/hoshiyomiX/Beacon/internal/config"
)

// Table wraps the configured country->pool map with two selection modes.
type Table struct {
	entries map[string][]config.CountryEntry
}

// New builds a Table from the configured country entries.
func New(entries map[string][]config.CountryEntry) Table {
	return Table{entries: entries}
}

// SplitCodes parses a comma-separated code list, upper-casing each entry.
func SplitCodes(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PickUniform chooses a random code from codes, then a uniformly random
// pool entry for that code, matching the source's getrandom-byte scheme.
func (t Table) PickUniform(codes []string) (config.CountryEntry, error) {
	if len(codes) == 0 {
		return config.CountryEntry{}, fmt.Errorf("country: empty code list")
	}
	code := codes[rand.Intn(len(codes))]
	pool, ok := t.entries[code]
	if !ok {
		return config.CountryEntry{}, fmt.Errorf("country: code not found: %s", code)
	}
	if len(pool) == 0 {
		return config.CountryEntry{}, fmt.Errorf("country: no proxies available for: %s", code)
	}
	return pool[rand.Intn(len(pool))], nil
}

// PickRendezvous chooses deterministically among every entry across codes
// by rendezvous hashing on key (e.g. a client IP or session id), so
// repeated lookups with the same key and same candidate set converge on
// the same entry even as codes/pool membership evolve (adding one entry
// doesn't reshuffle the rest, unlike naive hashing).
func (t Table) PickRendezvous(codes []string, key string) (config.CountryEntry, error) {
	type flat struct {
		label string
		entry config.CountryEntry
	}
	var all []flat
	for _, code := range codes {
		for _, e := range t.entries[code] {
			all = append(all, flat{label: fmt.Sprintf("%s|%s:%d", code, e.Host, e.Port), entry: e})
		}
	}
	if len(all) == 0 {
		return config.CountryEntry{}, fmt.Errorf("country: no proxies available for: %v", codes)
	}

	labels := make([]string, len(all))
	for i, f := range all {
		labels[i] = f.label
	}
	hasher := rendezvous.New(labels, hashString)
	winner := hasher.Lookup(key)
	for _, f := range all {
		if f.label == winner {
			return f.entry, nil
		}
	}
	return all[0].entry, nil
}

func hashString(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
