package relations

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/models"
)

const (
	RolesField = "roles"
	AvatarSlot = "avatar"
)

type RoleStore interface {
	RoleCodes(ctx context.Context, userID string) ([]string, error)
	SyncRoles(ctx context.Context, userID string, codes []string) ([]string, error)
}

type AssetStore interface {
	Current(ctx context.Context, ref models.EntityRef, slot string) (*models.Asset, error)
	Find(ctx context.Context, id string) (*models.Asset, error)
	FindByFile(ctx context.Context, fileName, mimeType string, size int64) (*models.Asset, error)
	Attach(ctx context.Context, ref models.EntityRef, slot, assetID string) error
	Detach(ctx context.Context, ref models.EntityRef, slot string) error
}

// UserState captures a user's role memberships and avatar alongside the
// user row.
type UserState struct {
	roles  RoleStore
	assets AssetStore
	log    *zap.Logger
}

func NewUserState(roles RoleStore, assets AssetStore, log *zap.Logger) *UserState {
	return &UserState{roles: roles, assets: assets, log: log}
}

func (s *UserState) Snapshot(ctx context.Context, ref models.EntityRef) (audit.RelatedSnapshot, error) {
	codes, err := s.roles.RoleCodes(ctx, ref.ID)
	if err != nil {
		return audit.RelatedSnapshot{}, fmt.Errorf("roles of %s: %w", ref.ID, err)
	}
	avatar, err := s.assets.Current(ctx, ref, AvatarSlot)
	if err != nil {
		return audit.RelatedSnapshot{}, fmt.Errorf("avatar of %s: %w", ref.ID, err)
	}

	fields := models.NewAttributes()
	fields.Set(RolesField, codes)
	return audit.RelatedSnapshot{
		Fields: fields,
		Media:  map[string]*models.Asset{AvatarSlot: avatar},
	}, nil
}

// Apply syncs roles to target["roles"] and points the avatar slot at the
// recorded asset. Relations absent from the target are left alone; an asset
// that no longer exists clears the slot.
func (s *UserState) Apply(ctx context.Context, ref models.EntityRef, target *models.Attributes, media map[string]*models.Asset) error {
	if raw, ok := target.Get(RolesField); ok {
		codes, err := roleCodes(raw)
		if err != nil {
			return err
		}
		missing, err := s.roles.SyncRoles(ctx, ref.ID, codes)
		if err != nil {
			return fmt.Errorf("sync roles of %s: %w", ref.ID, err)
		}
		if len(missing) > 0 {
			s.log.Warn("roles no longer exist, skipped",
				zap.String("user_id", ref.ID), zap.Strings("roles", missing))
		}
	}

	if media != nil {
		return s.applyAvatar(ctx, ref, media[AvatarSlot])
	}
	return nil
}

func (s *UserState) applyAvatar(ctx context.Context, ref models.EntityRef, want *models.Asset) error {
	current, err := s.assets.Current(ctx, ref, AvatarSlot)
	if err != nil {
		return err
	}
	if want == nil {
		if current == nil {
			return nil
		}
		return s.assets.Detach(ctx, ref, AvatarSlot)
	}
	if current != nil && current.ID == want.ID {
		return nil
	}

	asset, err := s.resolve(ctx, want)
	if err != nil {
		return err
	}
	if asset == nil {
		return s.clearDangling(ctx, ref, want.ID)
	}
	err = s.assets.Attach(ctx, ref, AvatarSlot, asset.ID)
	if errors.Is(err, audit.ErrNotFound) {
		// deleted after it was resolved
		return s.clearDangling(ctx, ref, asset.ID)
	}
	return err
}

func (s *UserState) clearDangling(ctx context.Context, ref models.EntityRef, assetID string) error {
	s.log.Warn("avatar asset is gone, clearing slot",
		zap.String("user_id", ref.ID), zap.String("asset_id", assetID))
	return s.assets.Detach(ctx, ref, AvatarSlot)
}

// resolve finds the recorded asset by id, then by file identity. A nil asset
// with a nil error means it is dangling.
func (s *UserState) resolve(ctx context.Context, want *models.Asset) (*models.Asset, error) {
	if want.ID != "" {
		a, err := s.assets.Find(ctx, want.ID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, audit.ErrNotFound) {
			return nil, err
		}
	}
	a, err := s.assets.FindByFile(ctx, want.FileName, want.MimeType, want.Size)
	if errors.Is(err, audit.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func roleCodes(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, c := range v {
			s, ok := c.(string)
			if !ok {
				return nil, fmt.Errorf("role code %v is not a string", c)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("roles must be a list, got %T", raw)
	}
}
