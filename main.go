package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tierpress/admin"
	"tierpress/analytics"
	"tierpress/backoffice"
	"tierpress/blog"
	"tierpress/cache"
	"tierpress/comments"
	"tierpress/common"
	"tierpress/config"
	"tierpress/database"
	"tierpress/email"
	"tierpress/moderation"
	"tierpress/ratelimit"
	"tierpress/reports"
	"tierpress/site"
	"tierpress/subscriptions"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}
	if cfg == nil {
		os.Exit(0)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := common.ConnectDb(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.RunMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := ratelimit.NewRedisStoreFromURL(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open rate-limit store")
		}
		defer redisStore.Close()
		store = redisStore
		log.Info().Msg("rate limits shared through redis")
	}
	limiter := ratelimit.NewLimiter(store)

	scanner := moderation.NewScanner(moderation.DefaultTaxonomy)
	if cfg.PolicyFile != "" {
		if scanner, err = moderation.NewScannerFromFile(cfg.PolicyFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("failed to load moderation policy")
		}
	}
	sweeper := moderation.NewSweeper(db, scanner, cfg.SweepCap)
	scheduler := moderation.NewScheduler(sweeper, cfg.SweepEvery())
	scheduler.Start()

	renders, err := cache.NewRenderCache(512, 10*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create render cache")
	}
	tracker := analytics.NewTracker(db)
	mailer := email.NewMailer(cfg)

	router := gin.New()
	router.Use(common.Recovery(), common.RequestLogger())

	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions("tierpress-session", sessionStore))

	admin.NewAdminModule(db, scanner, mailer, tracker, cfg).RegisterRoutes(router)
	blog.NewBlogModule(db, renders, tracker).RegisterRoutes(router)
	reports.NewReportsModule(db, limiter, mailer, cfg).RegisterRoutes(router)
	comments.NewCommentsModule(db, limiter, cfg).RegisterRoutes(router)
	subscriptions.NewSubscriptionsModule(db, cfg).RegisterRoutes(router)
	backoffice.NewBackofficeModule(db, sweeper, limiter, renders, cfg).RegisterRoutes(router)
	site.NewSiteModule(db, cfg).RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           common.SubdomainHandler(cfg.Domain, router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
