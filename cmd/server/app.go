package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	routes "github.com/mnuddindev/disasterlink/internal/api"
	v1 "github.com/mnuddindev/disasterlink/internal/api/v1"
	"github.com/mnuddindev/disasterlink/internal/auth"
	"github.com/mnuddindev/disasterlink/internal/config"
	"github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/media"
	"github.com/mnuddindev/disasterlink/internal/models"
	"github.com/mnuddindev/disasterlink/internal/models/community"
	"github.com/mnuddindev/disasterlink/internal/models/incident"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/internal/verify"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	log, err := logger.NewLogger(
		logger.WithApp(cfg.App),
		logger.WithOutputDir(cfg.LogDir),
		logger.WithConsole(!cfg.IsProduction()),
	)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Close()

	if cfg.JWTSecret == "" && cfg.IsProduction() {
		log.Error(ctx).Logs("JWT_SECRET must be set in production")
		return
	}
	auth.Configure(cfg.JWTSecret, cfg.AccessTokenTTL)

	gormDB, err := db.NewDB(ctx, db.Dialector(cfg.DBDriver, cfg.DatabaseURL), models.RegisterModels(), db.WithLogger(log))
	if err != nil {
		log.Error(ctx).WithMeta(utils.Map{"driver": cfg.DBDriver}).WithError(err).Logs("Failed to initialize database")
		return
	}
	defer db.CloseDB(log)

	// Redis only backs caches, the token blacklist and live fan-out.
	redisClient, err := db.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPass)
	if err != nil {
		log.Warn(ctx).WithMeta(utils.Map{"addr": cfg.RedisAddr}).WithError(err).Logs("Redis unavailable, continuing without it")
		redisClient = nil
	}

	if applied := utils.SetPasswordCost(cfg.BcryptCost); applied != cfg.BcryptCost {
		log.Warn(ctx).WithMeta(utils.Map{"requested": strconv.Itoa(cfg.BcryptCost), "applied": strconv.Itoa(applied)}).Logs("BCRYPT_COST out of range, clamped")
	}

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		hashed, err := utils.HashPassword(cfg.AdminPassword)
		if err == nil {
			_, err = user.SeedAdmin(ctx, gormDB, cfg.AdminEmail, hashed)
		}
		if err != nil {
			log.Error(ctx).WithError(err).Logs("Failed to seed admin account")
			return
		}
	}

	policy, err := auth.NewPolicy()
	if err != nil {
		log.Error(ctx).WithError(err).Logs("Failed to load access policy")
		return
	}

	store, err := media.NewLocalStorage(cfg.MediaDir)
	if err != nil {
		log.Error(ctx).WithMeta(utils.Map{"dir": cfg.MediaDir}).WithError(err).Logs("Failed to prepare media storage")
		return
	}

	verifier := verify.New(cfg.VerifierURL, verify.WithTimeout(cfg.VerifierTimeout), verify.WithLogger(log))
	validator := intake.NewValidator(
		intake.WithMaxImageBytes(cfg.MaxImageBytes),
		intake.WithMaxAudioBytes(cfg.MaxAudioBytes),
		intake.WithLogger(log),
	)

	inbox := notify.NewStore(gormDB)
	channels := notify.Multi{inbox}
	if redisClient != nil {
		channels = append(channels, notify.NewRedisPublisher(redisClient))
	}
	channels = append(channels, notify.NewMailer(gormDB, utils.EmailConfig{
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUsername: cfg.SMTPUser,
		SMTPPassword: cfg.SMTPPass,
		AppURL:       cfg.AppURL,
		FromEmail:    cfg.MailFrom,
	}, log, nil))
	notifier := notify.NewAsync(channels, log, 15*time.Second)

	incidents := incident.NewService(gormDB,
		incident.WithMedia(store),
		incident.WithNotifier(notifier),
		incident.WithVerifier(verifier),
		incident.WithValidator(validator),
		incident.WithRedis(redisClient),
		incident.WithLogger(log),
	)
	communities := community.NewService(gormDB,
		community.WithRedis(redisClient),
		community.WithMedia(store),
		community.WithNotifier(notifier),
		community.WithImageValidator(validator),
		community.WithLogger(log),
	)

	handler := v1.NewHandler(v1.Handler{
		DB:    gormDB,
		Redis: redisClient,
		Auth: auth.NewOptions(
			auth.WithDB(gormDB),
			auth.WithRedis(redisClient),
			auth.WithLogger(log),
			auth.WithPolicy(policy),
			auth.WithSecureCookies(cfg.IsProduction()),
			auth.WithRefreshTTL(cfg.RefreshTokenTTL),
		),
		Logger:    log,
		Intake:    validator,
		Incidents: incidents,
		Community: communities,
		Inbox:     inbox,
		Verifier:  verifier,
	})

	app := fiber.New(fiber.Config{
		AppName:   cfg.App,
		BodyLimit: 64 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return utils.SendError(c, utils.NewError(fe.Code, fe.Message))
			}
			return utils.SendError(c, err)
		},
	})

	routes.NewRoutes(app, cfg, handler, store, log)

	// Redis goes only after requests and notification deliveries are done with it.
	// The database and the log close through the defers above once main returns.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Info(context.Background()).Logs("Shutting down")
		err := routes.Shutdown(app, 10*time.Second, notifier.Wait, func() {
			if redisClient != nil {
				redisClient.Close(log)
			}
		})
		if err != nil {
			log.Error(context.Background()).WithError(err).Logs("Graceful shutdown failed")
		}
	}()

	log.Info(ctx).WithMeta(utils.Map{"addr": cfg.ServerAddr, "env": cfg.Env}).Logs("Server starting")
	if err := app.Listen(cfg.ServerAddr); err != nil {
		log.Error(ctx).WithError(err).Logs("Server stopped")
		stop()
	}
	<-drained
}
