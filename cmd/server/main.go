// Command server runs the tip platform: the anonymous submission wizard, the
// receipt-scoped whistleblower surface, and the authenticated recipient
// surface, plus the retention sweep and audit trail in the background.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"tipline/internal/audit"
	"tipline/internal/collaboration"
	"tipline/internal/export"
	"tipline/internal/identity"
	"tipline/internal/lifecycle"
	"tipline/internal/platform/config"
	"tipline/internal/platform/httpserver"
	"tipline/internal/platform/logger"
	"tipline/internal/platform/metrics"
	platformredis "tipline/internal/platform/redis"
	"tipline/internal/recipient"
	recipienthandler "tipline/internal/recipient/handler"
	tiphandler "tipline/internal/tip/handler"
	tipservice "tipline/internal/tip/service"
	"tipline/internal/tip/store"
	"tipline/internal/token"
	httptransport "tipline/internal/transport/http"
	"tipline/internal/wizard"
	wizardhandler "tipline/internal/wizard/handler"
	"tipline/pkg/sentinel"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Stores. Postgres when configured, memory otherwise.
	var (
		tips       store.Store
		recipients recipient.Store
		db         *sql.DB
	)
	if cfg.PostgresURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}

		pgTips := store.NewPostgres(db)
		if err := pgTips.Migrate(ctx); err != nil {
			return err
		}
		pgRecipients := recipient.NewPostgresStore(db)
		if err := pgRecipients.Migrate(ctx); err != nil {
			return err
		}
		tips, recipients = pgTips, pgRecipients
		log.Info("using postgres store")
	} else {
		tips, recipients = store.NewInMemory(), recipient.NewInMemoryStore()
		log.Info("using in-memory store")
	}

	// Wizard sessions live in Redis when configured so submissions survive a
	// restart of one instance.
	var sessions wizard.SessionStore = wizard.NewInMemorySessionStore(cfg.WizardSessionTTL)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		sessions = wizard.NewRedisSessionStore(redisClient.Client, cfg.WizardSessionTTL)
		log.Info("using redis wizard session store")
	}

	// Domain services.
	issuer := identity.NewIssuer(tips)
	tipSvc := tipservice.New(tips, issuer)
	channel := collaboration.NewChannel(tips)
	wizardSvc := wizard.NewService(wizard.Config{
		MaxAttachments:   cfg.MaxAttachments,
		RequiredFieldIDs: cfg.RequiredFieldIDs,
		RetentionWindow:  cfg.RetentionWindow,
	}, sessions, tips, issuer)
	exportSvc := export.New(tipSvc)

	tokenSvc := token.NewService(cfg.JWTSigningKey, "tipline", "tipline")
	accountSvc := recipient.NewService(recipients, tokenSvc, cfg.TokenTTL)

	if cfg.SeedRecipientUsername != "" && cfg.SeedRecipientPassword != "" {
		if err := seedRecipient(ctx, accountSvc, recipients, cfg, log); err != nil {
			return err
		}
	}

	auditPublisher := audit.NewPublisher(1024, log)
	auditWorker := audit.NewWorker(audit.NewInMemoryStore(), auditPublisher, log)

	lifecycleMgr := lifecycle.NewManager(lifecycle.Config{
		PostponeWindow: cfg.PostponeWindow,
	}, tips, auditPublisher, log).WithMetrics(m)

	// HTTP surface.
	checks := map[string]httptransport.HealthChecker{}
	if db != nil {
		checks["postgres"] = pingChecker{db}
	}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	router := httptransport.NewRouter(checks,
		wizardhandler.New(wizardSvc, log, m),
		tiphandler.New(tipSvc, channel, log, m),
		recipienthandler.New(accountSvc, tipSvc, channel, lifecycleMgr, exportSvc, log, m, tokenSvc),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return auditWorker.Run(gctx)
	})
	g.Go(func() error {
		return lifecycleMgr.Run(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		log.Info("starting tipline server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}

func seedRecipient(ctx context.Context, accounts *recipient.Service, store recipient.Store, cfg config.Server, log *slog.Logger) error {
	if _, err := store.FindByUsername(ctx, cfg.SeedRecipientUsername); err == nil {
		return nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	if _, err := accounts.Register(ctx, cfg.SeedRecipientUsername, cfg.SeedRecipientPassword, nil); err != nil {
		return err
	}
	log.Info("seeded recipient account", "username", cfg.SeedRecipientUsername)
	return nil
}

// pingChecker adapts a sql.DB to the router's health check.
type pingChecker struct {
	db *sql.DB
}

func (p pingChecker) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
