package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/tangle_account/internal/account"
	"github.com/congo-pay/tangle_account/internal/config"
	"github.com/congo-pay/tangle_account/internal/middleware"
	"github.com/congo-pay/tangle_account/internal/snapshot"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Logger    *slog.Logger
	Account   *account.Account
	Snapshots *snapshot.Snapshotter
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Account == nil {
		return errors.New("account is required")
	}
	if !isDev(d.Cfg.AppEnv) && d.Cfg.AdminTokenHash == "" {
		return fmt.Errorf("ADMIN_TOKEN_HASH is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics())

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1", middleware.AdminAuth(d.Cfg.AdminTokenHash))
	if d.Cache != nil {
		api.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterAccountRoutes(api, NewAccountHandler(d.Account, d.Snapshots, d.Cfg.ShutdownPeriod, d.Logger))

	return nil
}

// ErrorHandler renders errors as JSON with the request id attached.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	msg := err.Error()
	if fe != nil {
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{
		"error":      msg,
		"request_id": middleware.GetRequestID(c),
	})
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
