package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outboundly/campaigns/internal/api"
	"github.com/outboundly/campaigns/internal/api/middleware"
	"github.com/outboundly/campaigns/internal/billing"
	"github.com/outboundly/campaigns/internal/clock"
	"github.com/outboundly/campaigns/internal/config"
	"github.com/outboundly/campaigns/internal/contacts"
	"github.com/outboundly/campaigns/internal/heartbeat"
	"github.com/outboundly/campaigns/internal/metrics"
	"github.com/outboundly/campaigns/internal/notify"
	"github.com/outboundly/campaigns/internal/provider"
	"github.com/outboundly/campaigns/internal/provider/plivo"
	"github.com/outboundly/campaigns/internal/provider/twilio"
	"github.com/outboundly/campaigns/internal/registry"
	"github.com/outboundly/campaigns/internal/runner"
	"github.com/outboundly/campaigns/internal/store"
	"github.com/outboundly/campaigns/internal/store/models"
	"github.com/outboundly/campaigns/internal/webhook"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting campaignd",
		"http_port", cfg.HTTPPort,
		"tls", cfg.TLSEnabled(),
		"default_provider", cfg.DefaultProvider,
	)

	db, err := store.New(cfg.DatabaseURL, logger)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	webhookSecret, err := cfg.WebhookSecretBytes()
	if err != nil {
		slog.Error("failed to load webhook secret", "error", err)
		os.Exit(1)
	}
	signer := provider.NewTokenSigner(webhookSecret)

	resolver := provider.NewResolver(provider.NoTenantCredentials{}, cfg.DefaultCredentials())
	vendors := map[provider.Name]provider.VendorAdapter{
		provider.Twilio: twilio.New(signer),
		provider.Plivo:  plivo.New(signer),
	}
	providerPort := provider.NewRouter(resolver, vendors)

	ledger := billing.New(db.Billing(), logger, billing.Config{
		LowBalanceThreshold: cfg.LowBalanceThreshold,
		OnLowBalance:        lowBalanceAlert(logger),
	})

	warmer := registry.NewHTTPWarmer(nil, cfg.ProviderRetryMax, cfg.BackpressureSleep, clock.Real())
	reg := registry.New(db.ActiveCalls(), ledger, warmer, registry.Limits{
		MaxGlobal:    cfg.MaxGlobalConcurrency,
		MaxPerTenant: cfg.MaxPerTenantConcurrency,
	}, logger)

	reaper, err := registry.NewReaper(db.ActiveCalls(), ledger, registry.ReaperConfig{
		Timeouts: cfg.CallStateTimeouts(),
		Interval: cfg.ReapInterval,
	}, clock.Real(), logger)
	if err != nil {
		slog.Error("failed to create reaper", "error", err)
		os.Exit(1)
	}
	if err := reaper.Start(cfg.ReapInterval); err != nil {
		slog.Error("failed to start reaper", "error", err)
		os.Exit(1)
	}
	defer reaper.Stop()

	// Contact list ownership (CSV ingestion, list CRUD) is an external
	// collaborator; campaignd only needs a typed port to page through
	// contacts, so an empty in-memory source is wired here and populated
	// by whatever system owns contact lists in a real deployment.
	contactSource := contacts.NewMemorySource(nil)
	mailer := notify.NewSender(logger)

	runnerID := runnerIdentity()
	rnr := runner.New(db.Campaigns(), contactSource, reg, providerPort, ledger, signer, mailer, clock.Real(), runner.Config{
		RunnerID:          runnerID,
		DefaultProvider:   provider.Name(cfg.DefaultProvider),
		OrphanThreshold:   cfg.OrphanThreshold,
		HeartbeatInterval: cfg.HeartbeatInterval,
		BackpressureSleep: cfg.BackpressureSleep,
		InterCallPacing:   cfg.InterCallPacing,
		ProviderRetryMax:  cfg.ProviderRetryMax,
		ContactPageSize:   cfg.ContactPageSize,
		WebhookBaseURL:    cfg.WebhookBaseURL,
		SMTP:              cfg.SMTPConfig(),
	}, logger)
	mgr := runner.NewManager(appCtx, rnr, logger)

	sweeper, err := heartbeat.NewSweeper(db.Campaigns(), mgr, heartbeat.Config{
		RunnerID:        runnerID,
		OrphanThreshold: cfg.OrphanThreshold,
		SweepInterval:   cfg.SweepInterval,
	}, logger)
	if err != nil {
		slog.Error("failed to create heartbeat sweeper", "error", err)
		os.Exit(1)
	}
	if err := sweeper.Start(cfg.SweepInterval); err != nil {
		slog.Error("failed to start heartbeat sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	resumeRunningCampaigns(appCtx, db.Campaigns(), mgr, runnerID, cfg.OrphanThreshold, logger)

	ingress := webhook.New(providerPort, reg, logger)

	apiServer := api.NewServer(db.Campaigns(), db.APIKeys(), reg, ledger, mgr, providerPort, signer, api.Config{
		OrphanThreshold: cfg.OrphanThreshold,
		DefaultProvider: provider.Name(cfg.DefaultProvider),
		WebhookBaseURL:  cfg.WebhookBaseURL,
		CORSOrigins:     cfg.CORSOrigins,
		TLSEnabled:      cfg.TLSEnabled(),
	}, logger)

	collector := metrics.NewCollector(reg, db.Campaigns(), db.Campaigns(), cfg.OrphanThreshold, startTime)
	prometheus.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/webhooks/", http.StripPrefix("/webhooks", ingress))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiServer)

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var redirectSrv *http.Server
	errCh := make(chan error, 1)

	switch {
	case cfg.ACMEDomain != "":
		cacheDir := filepath.Join(os.TempDir(), "campaignd-acme-certs")
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.ACMEDomain),
			Cache:      autocert.DirCache(cacheDir),
			Email:      cfg.ACMEEmail,
		}
		srv.Addr = ":443"
		srv.TLSConfig = m.TLSConfig()

		redirectSrv = &http.Server{
			Addr:         ":80",
			Handler:      m.HTTPHandler(middleware.HTTPSRedirectHandler()),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		}

		go func() {
			slog.Info("https server listening (acme)", "addr", srv.Addr, "domain", cfg.ACMEDomain)
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		go func() {
			slog.Info("http redirect server listening", "addr", redirectSrv.Addr)
			if err := redirectSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http redirect server error", "error", err)
			}
		}()

	case cfg.TLSCert != "":
		srv.Addr = fmt.Sprintf(":%d", cfg.HTTPPort)
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}

		if cfg.HTTPPort != 80 {
			redirectSrv = &http.Server{
				Addr:         ":80",
				Handler:      middleware.HTTPSRedirectHandler(),
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 5 * time.Second,
				IdleTimeout:  30 * time.Second,
			}
			go func() {
				slog.Info("http redirect server listening", "addr", redirectSrv.Addr)
				if err := redirectSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("http redirect server error", "error", err)
				}
			}()
		}

		go func() {
			slog.Info("https server listening", "addr", srv.Addr)
			if err := srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

	default:
		srv.Addr = fmt.Sprintf(":%d", cfg.HTTPPort)
		go func() {
			slog.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(ctx); err != nil {
			slog.Error("http redirect server shutdown error", "error", err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("campaignd stopped")
}

// runnerIdentity derives a stable-enough runner id for ownership claims
// from the process hostname and pid, so two campaignd processes on
// different hosts never collide and a restarted process on the same host
// can still take over its own orphaned campaigns after the orphan
// threshold elapses.
func runnerIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// resumeRunningCampaigns tries, at startup, to claim every campaign marked
// running, without waiting for the sweeper's first tick. The claim only
// succeeds for a campaign with no runner or with a heartbeat older than the
// orphan threshold; since runner ids include the pid, campaigns a previous
// process owned are taken over only once their heartbeat has gone stale.
func resumeRunningCampaigns(ctx context.Context, campaigns *store.CampaignStore, mgr *runner.Manager, runnerID string, orphanThreshold time.Duration, log *slog.Logger) {
	candidates, err := campaigns.ListOrphanCandidates(ctx, 0)
	if err != nil {
		log.Error("failed to list campaigns for startup resume", "error", err)
		return
	}
	for _, c := range candidates {
		claimed, err := campaigns.ClaimRunnership(ctx, c.ID, runnerID, models.CampaignRunning, orphanThreshold)
		if err != nil {
			if err != store.ErrConflict {
				log.Error("failed to claim campaign at startup", "campaign_id", c.ID, "error", err)
			}
			continue
		}
		log.Info("resuming campaign claimed at startup", "campaign_id", claimed.ID)
		mgr.Resume(claimed)
	}
}

// lowBalanceAlert logs a warning; tenant email alerting on low balance is
// driven by the runner's own auto-pause notification, not this callback,
// since the ledger has no SMTP config of its own to address a tenant.
func lowBalanceAlert(log *slog.Logger) billing.LowBalanceFunc {
	return func(tenantID string, balanceAfter int64) {
		log.Warn("tenant balance low", "tenant_id", tenantID, "balance", balanceAfter)
	}
}
