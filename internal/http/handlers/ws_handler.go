package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/auth"
	"github.com/admin-platform/backend/internal/config"
	"github.com/admin-platform/backend/internal/events"
	"github.com/admin-platform/backend/internal/models"
	"github.com/admin-platform/backend/internal/rbac"
)

const ctxWSActor = "ws_actor"

// WSHub pushes audit events to connected auditors.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[models.Actor][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[models.Actor][]*websocket.Conn),
	}
}

// Start subscribes to the audit events channel until ctx is done.
func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, h.cfg.AuditEventsChannel, func(event events.Event) {
		if event.Type != events.EventAuditRolledBack {
			return
		}
		h.broadcast(event)
	})
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to encode ws event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for actor, conns := range h.connections {
		for _, conn := range conns {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("ws write failed", zap.String("actor_id", actor.ID), zap.Error(err))
			}
		}
	}
}

// Clients returns the number of open connections.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

// Authorize admits websocket upgrades carrying a token (query "token") whose
// roles may view the audit log.
func (h *WSHub) Authorize() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
		}
		claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}
		if !rbac.AnyHasPermission(claims.Roles, rbac.PermViewAudit) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "permission denied"})
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals(ctxWSActor, *claims.Actor())
		return c.Next()
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	actor, _ := conn.Locals(ctxWSActor).(models.Actor)

	h.mu.Lock()
	h.connections[actor] = append(h.connections[actor], conn)
	h.mu.Unlock()
	h.log.Debug("ws client connected", zap.String("actor_id", actor.ID), zap.Int("clients", h.Clients()))

	defer func() {
		h.mu.Lock()
		conns := h.connections[actor]
		for i, c := range conns {
			if c == conn {
				h.connections[actor] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[actor]) == 0 {
			delete(h.connections, actor)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
