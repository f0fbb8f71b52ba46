package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"atg_broadcast/internal/accounts"
	"atg_broadcast/internal/accounts_auth"
	"atg_broadcast/internal/app"
	"atg_broadcast/internal/auth"
	"atg_broadcast/internal/bot"
	httpbroadcast "atg_broadcast/internal/broadcast"
	"atg_broadcast/internal/config"
	httpgroups "atg_broadcast/internal/groups"
	"atg_broadcast/internal/logging"
	"atg_broadcast/internal/middleware"
	"atg_broadcast/internal/scheduler"
	"atg_broadcast/pkg/telegram/client"
)

const shutdownTimeout = 15 * time.Second

func main() {
	flags := pflag.NewFlagSet("atg_broadcast", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", os.Getenv("CONFIG"), "path to config.yaml (env: CONFIG)")
	logLevel := flags.String("log-level", "", "override logging.level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.New(config.LoggingConfig{Level: "info", Format: "console"})
		boot.Fatal().Err(err).Str("path", *configPath).Msg("ошибка конфигурации")
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("сервис остановлен с ошибкой")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	dialer := client.NewDialer(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.Telegram.Proxy, log)
	svc, err := app.Build(ctx, cfg, dialer, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("ошибка при остановке сервисов")
		}
	}()

	svc.Auth.Restore(ctx)

	sched, err := scheduler.New(cfg.Scheduler.Timezone, log)
	if err != nil {
		return err
	}
	if err := sched.Add("reap_pending", cfg.Scheduler.ReapPending, svc.ReapPending); err != nil {
		return err
	}
	if err := sched.Add("cleanup_expired", cfg.Scheduler.CleanupExpired, svc.CleanupExpired); err != nil {
		return err
	}
	sched.Start()

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		srv = &http.Server{Addr: cfg.HTTP.Addr, Handler: setupRouter(cfg.HTTP, svc, log)}
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP API запущен")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var b *bot.Bot
	if cfg.Bot.Enabled {
		b, err = bot.New(cfg.Bot, svc, log)
		if err != nil {
			return err
		}
		b.Start()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("не удалось уведомить systemd")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("получен сигнал остановки")
	case err = <-serverErr:
		log.Error().Err(err).Msg("HTTP API упал")
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if b != nil {
		b.Stop()
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("ошибка остановки HTTP API")
		}
	}
	sched.Stop(shutdownCtx)
	return err
}

// Настройка маршрутов
func setupRouter(cfg config.HTTPConfig, svc *app.Services, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log.With().Str("component", "HTTP").Logger()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "accounts": len(svc.Store.Phones())})
	})

	api := r.Group("", middleware.AuthRequired(cfg.Token), middleware.RateLimit(cfg.RateLimit.Window.D(), cfg.RateLimit.MaxCommands))
	auth.SetupRoutes(api.Group("/auth"), svc.Auth, log)

	accountsGroup := api.Group("/accounts")
	accounts.SetupRoutes(accountsGroup, svc, log)
	accounts_auth.SetupCheckRoutes(accountsGroup, svc.Auth, svc.Store, log)

	httpbroadcast.SetupRoutes(api.Group("/broadcast"), svc, log)
	httpgroups.SetupRoutes(api.Group("/groups"), svc, log)
	return r
}
