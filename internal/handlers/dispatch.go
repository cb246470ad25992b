package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/auth"
	"github.com/sol1corejz/affiliate-ledger/internal/logger"
	"github.com/sol1corejz/affiliate-ledger/internal/middleware"
	"github.com/sol1corejz/affiliate-ledger/internal/points"
	"github.com/sol1corejz/affiliate-ledger/internal/withdrawal"
	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

// Handler serves the points and withdrawal dispatch endpoints.
type Handler struct {
	engine   *points.Engine
	workflow *withdrawal.Workflow
}

func New(engine *points.Engine, workflow *withdrawal.Workflow) *Handler {
	return &Handler{engine: engine, workflow: workflow}
}

// action is one variant of a dispatch body. The envelope's "action" field
// selects the variant; the same body is then decoded into it.
type action interface {
	Validate() error
	run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error)
}

// restricted actions check the caller's role before the body is decoded,
// so a caller without the role gets 403 whatever the parameters are.
type restricted interface {
	authorize(caller auth.Identity) error
}

func requireAdmin(caller auth.Identity) error {
	if !caller.IsAdmin() {
		return apperrors.Forbid("Admin access required")
	}
	return nil
}

func requireOwner(caller auth.Identity) error {
	if !caller.IsOwner() {
		return apperrors.Forbid("Owner access required")
	}
	return nil
}

func (h *Handler) dispatch(c *fiber.Ctx, registry map[string]func() action) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		logger.Log.Warn("Context canceled or timeout exceeded")
		return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{
			"success": false,
			"error":   "Request timed out",
		})
	default:
		caller, ok := middleware.IdentityFrom(c)
		if !ok {
			return writeError(c, apperrors.New(apperrors.Unauthenticated, "unauthenticated", "Unauthorized"))
		}

		act, name, err := decodeAction(c, registry, caller)
		if err != nil {
			return writeError(c, err)
		}

		body, err := act.run(ctx, h, caller)
		if err != nil {
			return writeError(c, err)
		}
		if _, set := body["success"]; !set {
			body["success"] = true
		}

		logger.Log.Debug("Action handled", zap.String("action", name), zap.String("userID", caller.UserID.String()))
		return c.Status(fiber.StatusOK).JSON(body)
	}
}

func decodeAction(c *fiber.Ctx, registry map[string]func() action, caller auth.Identity) (action, string, error) {
	decode := c.App().Config().JSONDecoder

	var envelope struct {
		Action string `json:"action"`
	}
	if err := decode(c.Body(), &envelope); err != nil {
		return nil, "", apperrors.Invalid("Invalid request body")
	}

	newAction, ok := registry[envelope.Action]
	if !ok {
		return nil, envelope.Action, apperrors.New(apperrors.Validation, "unknown_action", fmt.Sprintf("Unknown action %q", envelope.Action))
	}

	act := newAction()
	if r, ok := act.(restricted); ok {
		if err := r.authorize(caller); err != nil {
			return nil, envelope.Action, err
		}
	}
	if err := decode(c.Body(), act); err != nil {
		return nil, envelope.Action, apperrors.Invalid("Invalid request body")
	}
	if err := act.Validate(); err != nil {
		return nil, envelope.Action, err
	}
	return act, envelope.Action, nil
}

func writeError(c *fiber.Ctx, err error) error {
	appErr := apperrors.As(err)

	switch appErr.Kind {
	case apperrors.Unexpected:
		logger.Log.Error("Unexpected error", zap.String("path", c.Path()), zap.Error(err))
	case apperrors.ExternalProvider:
		logger.Log.Warn("External provider error", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	})
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports liveness and, when db is set, database reachability.
func HealthHandler(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logger.Log.Warn("Health check failed", zap.Error(err))
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	}
}
