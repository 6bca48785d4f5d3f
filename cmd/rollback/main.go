// Command rollback restores an entity to the state recorded by one audit
// record, acting as the system actor.
//
//	rollback -id <audit-record-uuid> [-dry-run]
//	rollback -watch
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/config"
	"github.com/admin-platform/backend/internal/db"
	"github.com/admin-platform/backend/internal/events"
	"github.com/admin-platform/backend/internal/models"
	"github.com/admin-platform/backend/internal/services"
)

func main() {
	idFlag := flag.String("id", "", "audit record id to roll back")
	dryRun := flag.Bool("dry-run", false, "print the target state without writing")
	watch := flag.Bool("watch", false, "print rollback events as they are published")
	operator := flag.String("operator", "cli", "operator name stored in the record meta")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	if *watch {
		runWatch(ctx, events.NewRedisSubscriber(rdb, log), cfg.AuditEventsChannel, log)
		return
	}

	id, err := uuid.Parse(*idFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: rollback -id <audit-record-uuid> [-dry-run] | -watch")
		os.Exit(2)
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.Pool(cfg.RollbackMaxDBConns), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	stack, err := services.NewStack(pool, cfg, log)
	if err != nil {
		log.Fatal("failed to build audit stack", zap.Error(err))
	}

	if *dryRun {
		rec, err := stack.Audits.Get(ctx, id)
		if err != nil {
			log.Fatal("failed to load audit record", zap.Error(err))
		}
		target, media, version, err := audit.ResolveTarget(rec)
		if err != nil {
			log.Fatal("cannot roll back record", zap.Error(err))
		}
		printJSON(map[string]any{
			"entity_type":    rec.EntityType,
			"entity_id":      rec.EntityID,
			"target_version": version,
			"target":         target,
			"media":          media,
		})
		return
	}

	scope := audit.NewScope(
		audit.WithActor(&models.Actor{Type: models.ActorSystem, ID: *operator}),
		audit.WithEnabled(cfg.AuditEnabled),
	)
	ctx = audit.WithScope(ctx, scope)

	publisher := events.NewRedisPublisher(rdb, log)
	auditService := services.NewAuditService(stack.Audits, stack.Engine, stack.Users, publisher, cfg, log)

	var res *audit.Result
	err = scope.WithMeta(map[string]any{"operator": *operator}, func() error {
		res, err = auditService.Rollback(ctx, id)
		return err
	})
	if err != nil {
		log.Fatal("rollback failed", zap.String("audit_id", id.String()), zap.Error(err))
	}
	printJSON(res)
}

func runWatch(ctx context.Context, sub events.Subscriber, channel string, log *zap.Logger) {
	err := sub.Subscribe(ctx, channel, func(e events.Event) {
		if e.Type == events.EventAuditRolledBack {
			printJSON(e)
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}
	log.Info("watching rollback events", zap.String("channel", channel))
	<-ctx.Done()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
