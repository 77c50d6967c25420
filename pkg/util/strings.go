package util

import "strings"

// NormalizeTickers upper-cases, trims and de-duplicates symbols, accepting
// comma separated entries. Order of first appearance is kept.
func NormalizeTickers(in ...string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			t := strings.ToUpper(strings.TrimSpace(part))
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
