package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MRC-CLIMB/bryn/internal/app/migrate"
	httpx "github.com/MRC-CLIMB/bryn/internal/http"
	"github.com/MRC-CLIMB/bryn/internal/jobs"
	"github.com/MRC-CLIMB/bryn/internal/mail"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository/postgres"
	"github.com/MRC-CLIMB/bryn/internal/service/admin"
	"github.com/MRC-CLIMB/bryn/internal/service/auth"
	"github.com/MRC-CLIMB/bryn/internal/service/cloud"
	"github.com/MRC-CLIMB/bryn/internal/service/invitation"
	"github.com/MRC-CLIMB/bryn/internal/service/keypair"
	"github.com/MRC-CLIMB/bryn/internal/service/lease"
	"github.com/MRC-CLIMB/bryn/internal/service/licence"
	"github.com/MRC-CLIMB/bryn/internal/service/region"
	"github.com/MRC-CLIMB/bryn/internal/service/registration"
	"github.com/MRC-CLIMB/bryn/internal/service/stats"
	"github.com/MRC-CLIMB/bryn/internal/service/team"
	"github.com/MRC-CLIMB/bryn/internal/service/tenant"
	"github.com/MRC-CLIMB/bryn/internal/service/user"
	"github.com/MRC-CLIMB/bryn/internal/web"
	"github.com/MRC-CLIMB/bryn/internal/ws"
	"github.com/MRC-CLIMB/bryn/pkg/config"
	"github.com/MRC-CLIMB/bryn/pkg/crypto"
	"github.com/MRC-CLIMB/bryn/pkg/logger"
)

func main() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("bryn-api", logger.LevelFor(cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clouds, err := config.LoadRegions(cfg.RegionsFile)
	if err != nil {
		log.Error("failed to load regions", "file", cfg.RegionsFile, "error", err)
		os.Exit(1)
	}
	sealer, err := crypto.NewSealer(cfg.SecretSealingKey)
	if err != nil {
		log.Error("invalid sealing key", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	notifier, err := mail.NewNotifier(newMailSender(cfg, log), mail.Config{BaseURL: cfg.BaseURL, SupportEmail: cfg.SupportEmail}, log)
	if err != nil {
		log.Error("failed to configure mail", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	defer hub.Close()

	regionSvc := region.New(repo, clouds, log)
	if err := regionSvc.Sync(ctx); err != nil {
		log.Error("region sync failed", "error", err)
		os.Exit(1)
	}

	authSvc := auth.New(repo, notifier, log, cfg)
	userSvc := user.New(repo, notifier, log, cfg)
	registrationSvc := registration.New(repo, repo, repo, repo, notifier, log, cfg)
	teamSvc := team.New(repo, log, cfg.PhoneDefaultRegion)
	invitationSvc := invitation.New(repo, repo, repo, repo, teamSvc, notifier, log)
	licenceSvc := licence.New(repo, repo, teamSvc, log)
	tenantSvc := tenant.New(tenant.Deps{
		Tenants:   repo,
		Teams:     repo,
		Users:     repo,
		Regions:   regionSvc,
		Access:    teamSvc,
		Sealer:    sealer,
		Connector: openstack.GophercloudConnector{Timeout: cfg.CloudRequestTimeout},
		Logger:    log,
	})
	cloudSvc := cloud.New(tenantSvc, repo, log)
	leaseSvc := lease.New(repo, repo, repo, tenantSvc, notifier, log, lease.Config{
		DefaultDays:  cfg.ServerLeaseDefaultDays,
		ReminderDays: cfg.ServerLeaseReminderDays,
	})
	keypairSvc := keypair.New(repo, repo, tenantSvc, log)
	statsSvc := stats.New(repo, regionSvc, tenantSvc, hub, log)
	adminSvc := admin.New(admin.Deps{
		Users:       repo,
		Teams:       repo,
		Provisioner: tenantSvc,
		Invitations: invitationSvc,
		Validations: registrationSvc,
		Mailer:      notifier,
		Logger:      log,
	})
	statsSvc.Publish(ctx)

	var schedulerDone <-chan struct{}
	if cfg.JobsEnabled {
		scheduler := jobs.New(log, cfg.JobTimeout)
		reminders := licence.NewReminders(repo, notifier, log, cfg.LicenceRenewalReminderDays)
		for _, job := range jobs.Standard(cfg, statsSvc, leaseSvc, reminders, log) {
			if err := scheduler.Add(ctx, job); err != nil {
				log.Error("failed to schedule job", "job", job.Name, "error", err)
				os.Exit(1)
			}
		}
		schedulerDone = scheduler.Start(ctx)
	}

	pages, err := web.New(web.Deps{
		Logger:       log,
		Auth:         authSvc,
		Registration: registrationSvc,
		Invitations:  invitationSvc,
		Users:        userSvc,
		Teams:        teamSvc,
		CookieName:   cfg.SessionCookieName,
		CookieSecure: cfg.SessionCookieSecure,
		SupportEmail: cfg.SupportEmail,
	})
	if err != nil {
		log.Error("failed to load web templates", "error", err)
		os.Exit(1)
	}

	proxies, err := httpx.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Error("invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Logger:      log,
		Auth:        authSvc,
		Users:       userSvc,
		Teams:       teamSvc,
		Invitations: invitationSvc,
		Licences:    licenceSvc,
		Regions:     regionSvc,
		Tenants:     tenantSvc,
		Cloud:       cloudSvc,
		Leases:      leaseSvc,
		Keypairs:    keypairSvc,
		Stats:       statsSvc,
		Admin:       adminSvc,
		Hub:         hub,
		Web:         pages,
		Limiter:     limiter,
		Cookie:      httpx.CookieConfig{Name: cfg.SessionCookieName, Secure: cfg.SessionCookieSecure},
		DBHealth:    pool.Ping,

		TrustedProxies: proxies,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "regions", len(clouds))
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if schedulerDone != nil {
			<-schedulerDone
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func newMailSender(cfg config.APIConfig, log *slog.Logger) mail.Sender {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		log.Warn("SMTP_HOST not set, emails will be logged")
		return mail.NewLogSender(log)
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		TLS:      cfg.SMTPTLS,
		From:     cfg.DefaultFromEmail,
	})
	if err != nil {
		log.Warn("smtp sender unavailable, emails will be logged", "error", err)
		return mail.NewLogSender(log)
	}
	return sender
}
