package routes

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	v1 "github.com/mnuddindev/disasterlink/internal/api/v1"
	"github.com/mnuddindev/disasterlink/internal/config"
	"github.com/mnuddindev/disasterlink/internal/media"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"github.com/spf13/afero"
)

// NewRoutes installs the middleware stack, the v1 API, health and media serving.
func NewRoutes(app *fiber.App, cfg *config.Config, h *v1.Handler, store *media.LocalStorage, log *logger.Logger) {
	app.Use(
		requestid.New(),
		logger.SetupLogger(log),
		recover.New(),
		cors.New(
			cors.Config{
				AllowOrigins: cfg.CORSOrigins,
				// fiber refuses credentials with a wildcard origin
				AllowCredentials: strings.TrimSpace(cfg.CORSOrigins) != "*",
				AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
			},
		),
		compress.New(
			compress.Config{
				Level: compress.LevelBestSpeed,
			},
		),
	)
	if cfg.RateLimitPerMinute > 0 {
		app.Use(limiter.New(
			limiter.Config{
				Expiration: 1 * time.Minute,
				Max:        cfg.RateLimitPerMinute,
				KeyGenerator: func(c *fiber.Ctx) string {
					return c.IP()
				},
				LimitReached: func(c *fiber.Ctx) error {
					return utils.SendError(c, utils.NewError(fiber.StatusTooManyRequests, "Too many requests"))
				},
			},
		))
	}
	app.Use(log.Middleware())

	app.Get("/healthz", health(h))
	if store != nil {
		app.Use("/media", filesystem.New(filesystem.Config{
			Root:   afero.NewHttpFs(store.Fs()).Dir(store.Root()),
			MaxAge: 3600,
		}))
	}
	h.Mount(app.Group("/api/v1"))
}

// Shutdown stops accepting connections and waits up to timeout for in-flight requests.
// The release steps run afterwards in order, even when draining timed out.
func Shutdown(app *fiber.App, timeout time.Duration, release ...func()) error {
	err := app.ShutdownWithTimeout(timeout)
	for _, fn := range release {
		fn()
	}
	return err
}

// health reports the database as required and the verifier as optional.
func health(h *v1.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		checks := fiber.Map{"database": "ok"}
		sqlDB, err := h.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			h.Logger.Error(ctx).WithError(err).Logs("Health check: database unreachable")
			return utils.SendError(c, utils.UpstreamUnavailable("database", err))
		}

		checks["redis"] = "disabled"
		if h.Redis != nil && h.Redis.Client != nil {
			checks["redis"] = "ok"
			if err := h.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unavailable"
			}
		}

		checks["verifier"] = "disabled"
		if h.Verifier.Enabled() {
			checks["verifier"] = "ok"
			if err := h.Verifier.Health(ctx); err != nil {
				checks["verifier"] = "unavailable"
			}
		}
		return utils.SendSuccess(c, checks)
	}
}
