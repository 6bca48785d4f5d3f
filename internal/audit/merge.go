package audit

import "github.com/admin-platform/backend/internal/models"

type sideEffect struct {
	before      *models.Attributes
	after       *models.Attributes
	mediaBefore map[string]*models.Asset
	mediaAfter  map[string]*models.Asset
	changed     []string
	meta        map[string]any
}

// mergeInto amends rec with the side effect. Before-values accumulate (the
// earliest value of a field wins), after-values and meta take the latest,
// changed fields are unioned in order.
func (s sideEffect) mergeInto(rec *models.AuditRecord) {
	if rec.Before == nil {
		rec.Before = models.NewAttributes()
	}
	for _, k := range s.before.Keys() {
		if !rec.Before.Has(k) {
			v, _ := s.before.Get(k)
			rec.Before.Set(k, v)
		}
	}

	if rec.After == nil {
		rec.After = models.NewAttributes()
	}
	rec.After.Merge(s.after)

	if len(s.mediaBefore) > 0 {
		if rec.MediaBefore == nil {
			rec.MediaBefore = make(map[string]*models.Asset, len(s.mediaBefore))
		}
		for slot, a := range s.mediaBefore {
			if _, ok := rec.MediaBefore[slot]; !ok {
				rec.MediaBefore[slot] = a
			}
		}
	}
	if len(s.mediaAfter) > 0 {
		if rec.MediaAfter == nil {
			rec.MediaAfter = make(map[string]*models.Asset, len(s.mediaAfter))
		}
		for slot, a := range s.mediaAfter {
			rec.MediaAfter[slot] = a
		}
	}

	rec.ChangedFields = unionFields(rec.ChangedFields, s.changed)

	if rec.Meta == nil {
		rec.Meta = make(map[string]any, len(s.meta))
	}
	for k, v := range s.meta {
		rec.Meta[k] = v
	}
}
