// Package entities declares the audited entity types of the platform.
package entities

import (
	"github.com/admin-platform/backend/internal/audit"
)

// Entity type names
const (
	Users         = "users"
	Organizations = "organizations"
	Regions       = "regions"
	MetroStations = "metro_stations"
	Children      = "children"
)

// GlobalExcluded attributes never reach any snapshot.
var GlobalExcluded = []string{"updated_at"}

// Signer produces the schema signature function of a table.
type Signer interface {
	Signer(table string) audit.SignatureFunc
}

// Definitions returns every audited entity type. related may be nil, in which
// case users are audited without roles and avatar.
func Definitions(signer Signer, userRelated audit.RelatedState) []*audit.EntityType {
	sig := func(table string) audit.SignatureFunc {
		if signer == nil {
			return nil
		}
		return signer.Signer(table)
	}

	return []*audit.EntityType{
		{
			Name:          Users,
			Table:         "users",
			SoftDelete:    true,
			Timestamps:    true,
			Excluded:      []string{"password_hash", "remember_token"},
			Fillable:      []string{"organization_id", "email", "name", "phone"},
			RelatedFields: []string{"roles"},
			// id is restored too, so a deleted user comes back under the same key.
			RollbackFillable: []string{"id", "organization_id", "email", "name", "phone", "created_at"},
			Rollbackable:     true,
			Signature:        sig("users"),
			Related:          userRelated,
		},
		{
			Name:             Organizations,
			Table:            "organizations",
			SoftDelete:       true,
			Timestamps:       true,
			Fillable:         []string{"name", "inn", "settings"},
			RollbackFillable: []string{"id", "name", "inn", "settings", "created_at"},
			Rollbackable:     true,
			Signature:        sig("organizations"),
		},
		{
			Name:             Regions,
			Table:            "regions",
			SoftDelete:       true,
			Timestamps:       true,
			Fillable:         []string{"parent_id", "name", "code"},
			RollbackFillable: []string{"id", "parent_id", "name", "code", "created_at"},
			Rollbackable:     true,
			Signature:        sig("regions"),
		},
		{
			Name:             MetroStations,
			Table:            "metro_stations",
			Timestamps:       true,
			Fillable:         []string{"region_id", "name", "line", "color"},
			RollbackFillable: []string{"id", "region_id", "name", "line", "color", "created_at"},
			Rollbackable:     true,
			Signature:        sig("metro_stations"),
		},
		{
			Name:       Children,
			Table:      "children",
			SoftDelete: true,
			Timestamps: true,
			Fillable:   []string{"user_id", "metro_station_id", "first_name", "last_name", "birth_date", "notes"},
			// free-text notes are too noisy to keep a history of
			Excluded:     []string{"notes"},
			Rollbackable: false,
			Signature:    sig("children"),
		},
	}
}

// NewRegistry registers every definition. rollbackTypes narrows the rollback
// allow-list when non-empty.
func NewRegistry(signer Signer, userRelated audit.RelatedState, rollbackTypes []string) (*audit.Registry, error) {
	reg := audit.NewRegistry(GlobalExcluded...)
	for _, t := range Definitions(signer, userRelated) {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	reg.Restrict(rollbackTypes)
	return reg, nil
}
