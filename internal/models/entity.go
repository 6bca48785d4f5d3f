package models

import "time"

// Row is the current persisted state of one audited entity.
type Row struct {
	Type       string      `json:"type"`
	ID         string      `json:"id"`
	Attributes *Attributes `json:"attributes"`
	Trashed    bool        `json:"trashed"`
}

// EntityRef identifies an entity independent of its loaded state.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Asset is a stored binary attached to an entity slot (e.g. a user avatar).
type Asset struct {
	ID        string     `json:"id"`
	FileName  string     `json:"file_name"`
	MimeType  string     `json:"mime_type"`
	Size      int64      `json:"size"`
	Disk      string     `json:"disk,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// SameFile reports whether two assets describe the same stored file.
func (a *Asset) SameFile(b *Asset) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.FileName == b.FileName && a.MimeType == b.MimeType && a.Size == b.Size
}
