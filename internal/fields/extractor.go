// Package fields resolves canonical field values from rows whose headers
// vary between exports, driven by per-dataset alias tables.
package fields

import (
	"sort"
	"strings"
)

// Find returns the first non-empty value for aliases using three passes:
// verbatim key, case-insensitive header equality, then substring containment
// in either direction. Alias order is priority order within each pass. When
// headers is nil the row's keys are used in sorted order.
func Find(row map[string]string, headers []string, aliases []string) (string, bool) {
	for _, v := range candidates(row, headers, aliases, true) {
		return v, true
	}
	return "", false
}

// FindAll returns every distinct non-empty candidate in the order Find would
// consider them.
func FindAll(row map[string]string, headers []string, aliases []string) []string {
	return candidates(row, headers, aliases, false)
}

func candidates(row map[string]string, headers []string, aliases []string, firstOnly bool) []string {
	if len(row) == 0 || len(aliases) == 0 {
		return nil
	}
	if headers == nil {
		headers = sortedKeys(row)
	}

	var out []string
	seen := map[string]bool{}
	add := func(header string) bool {
		v := strings.TrimSpace(row[header])
		if v == "" || seen[header] {
			return false
		}
		seen[header] = true
		out = append(out, v)
		return firstOnly
	}

	// Pass 1: verbatim key.
	for _, alias := range aliases {
		if _, ok := row[alias]; ok && add(alias) {
			return out
		}
	}

	// Pass 2: case-insensitive header equality, ignoring spacing and punctuation.
	for _, alias := range aliases {
		key := NormalizeKey(alias)
		if key == "" {
			continue
		}
		for _, header := range headers {
			if NormalizeKey(header) == key && add(header) {
				return out
			}
		}
	}

	// Pass 3: containment either way.
	for _, alias := range aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" {
			continue
		}
		for _, header := range headers {
			h := strings.ToLower(strings.TrimSpace(header))
			if h == "" {
				continue
			}
			if (strings.Contains(h, a) || strings.Contains(a, h)) && add(header) {
				return out
			}
		}
	}
	return dedupe(out)
}

// NormalizeKey lowercases value and keeps only ASCII letters and digits.
func NormalizeKey(value string) string {
	if value == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sortedKeys(row map[string]string) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
