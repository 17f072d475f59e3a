package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calyxmail/calyx/internal/account"
	"github.com/calyxmail/calyx/internal/cache"
	"github.com/calyxmail/calyx/internal/config"
	"github.com/calyxmail/calyx/internal/correlation"
	"github.com/calyxmail/calyx/internal/crypto"
	"github.com/calyxmail/calyx/internal/logging"
	"github.com/calyxmail/calyx/internal/store"
	"github.com/calyxmail/calyx/internal/token"
	"github.com/calyxmail/calyx/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Starting calyx core", "version", version.Get().Version, "commit", version.Get().Commit)

	clock := clockwork.NewRealClock()

	sealer, err := crypto.NewAesGcmSealer(cfg.CredentialSecret)
	if err != nil {
		slog.Error("Failed to initialize credential sealer", "error", err)
		os.Exit(1)
	}

	accountsPath := filepath.Join(cfg.DataDir, cfg.AccountsFile)
	backupDir := filepath.Join(cfg.DataDir, cfg.BackupDir)
	credStore := store.New(sealer, accountsPath, backupDir, cfg.MaxBackups, clock)

	ctx := correlation.WithID(context.Background(), correlation.NewID())
	report := credStore.VerifyIntegrity(ctx)
	if !report.Valid {
		for _, diag := range report.Diagnostics {
			slog.Warn("Account store integrity issue", "diagnostic", diag)
		}
	}

	registry := account.NewRegistry(credStore, clock)

	manager := token.NewManager(registry, token.Config{
		ClientID:      cfg.OAuthClientID,
		ClientSecret:  cfg.OAuthClientSecret,
		TokenURL:      cfg.OAuthTokenURL,
		RevokeURL:     cfg.OAuthRevokeURL,
		RefreshWindow: cfg.RefreshWindow,
	}, clock)

	responseCache := cache.New(cache.Options{
		MaxEntries:       cfg.CacheMaxEntries,
		MaxValueBytes:    cfg.CacheMaxValueBytes,
		CompressionBytes: cfg.CacheCompressionBytes,
	}, clock)

	snapshotPath := cfg.CacheSnapshotFile
	if snapshotPath != "" {
		if err := responseCache.LoadSnapshot(snapshotPath); err != nil {
			slog.Warn("Failed to restore cache snapshot", "path", snapshotPath, "error", err)
		} else {
			slog.Info("Restored cache snapshot", "path", snapshotPath, "entries", responseCache.Size())
		}
	}

	stopJanitor := responseCache.StartEvictionTimer(cfg.CacheJanitorInterval)
	defer stopJanitor()

	stopSweep := startRefreshSweep(registry, manager, clock, cfg.RefreshSweep)
	defer stopSweep()

	metricsSrv := startMetricsServer(cfg.MetricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	slog.Info("Shutdown signal received, cleaning up...")

	if snapshotPath != "" {
		if err := responseCache.SaveSnapshot(snapshotPath); err != nil {
			slog.Error("Failed to save cache snapshot", "path", snapshotPath, "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// startRefreshSweep periodically touches every account with stored tokens so
// access tokens inside the safety window are refreshed before the mail and
// calendar wrappers need them.
func startRefreshSweep(registry *account.Registry, manager *token.Manager, clock clockwork.Clock, interval time.Duration) func() {
	ticker := clock.NewTicker(interval)
	done := make(chan bool)

	go func() {
		for {
			select {
			case <-ticker.Chan():
				sweep(registry, manager)

			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}

func sweep(registry *account.Registry, manager *token.Manager) {
	ctx := correlation.WithID(context.Background(), correlation.NewID())

	accounts, err := registry.List(ctx)
	if err != nil {
		slog.Error("Refresh sweep failed to list accounts", "error", err)
		return
	}

	for _, acc := range accounts {
		if acc.Tokens == nil || acc.Status != account.StatusActive {
			continue
		}
		if _, err := manager.Client(ctx, acc.ID); err != nil {
			slog.Warn("Refresh sweep failed for account", "account_id", acc.ID, "error", err)
		}
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
