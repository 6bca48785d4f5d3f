package services

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/config"
	"github.com/admin-platform/backend/internal/db"
	"github.com/admin-platform/backend/internal/entities"
	"github.com/admin-platform/backend/internal/relations"
	"github.com/admin-platform/backend/internal/repositories"
)

// Stack is the audit machinery shared by the API and the operator CLI.
type Stack struct {
	Registry *audit.Registry
	Observer *audit.Observer
	Engine   *audit.Engine
	Tx       *db.TxManager

	Audits   *repositories.AuditRepo
	Entities *repositories.EntityRepo
	Users    *repositories.UserRepo
	Roles    *repositories.RoleRepo
	Media    *repositories.MediaRepo
}

func NewStack(pool *pgxpool.Pool, cfg *config.Config, log *zap.Logger) (*Stack, error) {
	s := &Stack{
		Tx:       db.NewTxManager(pool, log),
		Audits:   repositories.NewAuditRepo(pool),
		Entities: repositories.NewEntityRepo(pool),
		Users:    repositories.NewUserRepo(pool),
		Roles:    repositories.NewRoleRepo(pool),
		Media:    repositories.NewMediaRepo(pool),
	}

	userState := relations.NewUserState(s.Roles, s.Media, log.Named("relations"))
	registry, err := entities.NewRegistry(repositories.NewSchemaRepo(pool), userState, cfg.AuditRollbackTypes)
	if err != nil {
		return nil, err
	}
	s.Registry = registry

	opts := audit.Options{
		VersionRetries:      cfg.AuditVersionRetries,
		RetryDelay:          cfg.AuditRetryDelay,
		RecordSystemCreates: cfg.AuditRecordSystemCreates,
	}
	s.Observer = audit.NewObserver(s.Audits, registry, opts, log.Named("audit"))
	s.Engine = audit.NewEngine(registry, s.Audits, s.Entities, s.Observer, s.Tx, log.Named("rollback"))
	return s, nil
}
