package audit

import "github.com/admin-platform/backend/internal/models"

// Diff returns the fields whose normalized values differ between before and
// after. Fields come in union order: before's keys first, then keys only
// present in after. A nil value and an absent key are the same ("missing").
func Diff(before, after *models.Attributes) []string {
	changed := make([]string, 0)
	seen := make(map[string]bool, before.Len()+after.Len())

	check := func(key string) {
		if seen[key] {
			return
		}
		seen[key] = true
		rb, _ := before.Get(key)
		ra, _ := after.Get(key)
		b, a := Normalize(rb), Normalize(ra)
		if b == nil && a == nil {
			return
		}
		if b == nil || a == nil || !Equal(b, a) {
			changed = append(changed, key)
		}
	}

	for _, k := range before.Keys() {
		check(k)
	}
	for _, k := range after.Keys() {
		check(k)
	}
	return changed
}

// unionFields appends the fields of extra missing from base, keeping order.
func unionFields(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}
