package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CountryTableFromJSON decodes the environment's country table, a JSON
// object mapping two-letter codes to arrays of "host:port" strings, per
// spec.md §6. An empty or absent table is permitted.
func CountryTableFromJSON(raw string) (map[string][]CountryEntry, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string][]CountryEntry{}, nil
	}

	var flat map[string][]string
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, fmt.Errorf("invalid country table: %w", err)
	}

	table := make(map[string][]CountryEntry, len(flat))
	for code, entries := range flat {
		parsed := make([]CountryEntry, 0, len(entries))
		for _, e := range entries {
			host, portStr, ok := strings.Cut(e, ":")
			if !ok {
				return nil, fmt.Errorf("country table entry %q for %q: expected host:port", e, code)
			}
			port, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("country table entry %q for %q: bad port: %w", e, code, err)
			}
			parsed = append(parsed, CountryEntry{Host: host, Port: uint16(port)})
		}
		table[strings.ToUpper(code)] = parsed
	}
	return table, nil
}

// ParseUUID parses the required UUID configuration input, matching the
// original's `Uuid::parse_str(&x.to_string())`.
func ParseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	return id, nil
}
