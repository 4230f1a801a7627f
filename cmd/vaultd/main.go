package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vaultd/internal/auditor"
	"vaultd/internal/blob"
	"vaultd/internal/config"
	"vaultd/internal/cryptobox"
	"vaultd/internal/ledger"
	"vaultd/internal/observability/logging"
	"vaultd/internal/observability/metrics"
	"vaultd/internal/retention"
	"vaultd/internal/store"
	"vaultd/internal/vault"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "vaultd",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	slog.SetDefault(logger)

	logger.Info("starting service")

	cfg := config.Load()
	metrics.MustRegister("vaultd")

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(gdb)
	if err := st.AutoMigrate(ctx); err != nil {
		logger.Error("automigrate", "error", err)
		os.Exit(1)
	}

	box, err := cryptobox.New(cfg.MasterKey)
	if err != nil {
		logger.Error("encryption key rejected", "error", err)
		os.Exit(1)
	}

	blobs, err := blob.NewLocal(filepath.Join(cfg.DataDir, "objects"))
	if err != nil {
		logger.Error("blob store", "error", err)
		os.Exit(1)
	}

	policy, err := retention.LoadPolicy(cfg.PolicyFile, cfg.GraceDays)
	if err != nil {
		logger.Error("retention policy", "error", err)
		os.Exit(1)
	}

	var ledgerOpts []ledger.Option
	if len(cfg.KafkaBrokers) > 0 {
		pub := ledger.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer pub.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(pub))
		logger.Info("audit event publishing enabled", "topic", cfg.KafkaTopic)
	}
	lg := ledger.New(st, ledgerOpts...)

	vlt := vault.New(st, blobs, box, lg, policy)
	eng := retention.New(st, blobs, lg, policy)

	attestationKey, err := box.TenantKey("auditor-attestation")
	if err != nil {
		logger.Error("derive attestation key", "error", err)
		os.Exit(1)
	}
	aud := auditor.New(st, lg, vlt, eng, auditor.Config{
		AttestationKey: attestationKey[:],
		ExportDir:      filepath.Join(cfg.DataDir, "exports"),
	})
	_ = aud // invoked in-process by the platform's HTTP layer

	go retentionSweep(ctx, eng, st, cfg.SweepInterval)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("vaultd listening", "addr", srv.Addr, "dataDir", cfg.DataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// retentionSweep periodically marks expired documents for review. It never
// deletes: physical deletion requires the explicit confirmation list supplied
// through ProcessExpired by an operator.
func retentionSweep(ctx context.Context, eng *retention.Engine, st *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tenants, err := tenantIDs(ctx, st)
		if err != nil {
			slog.Warn("retention sweep: list tenants", "error", err)
			continue
		}
		for _, tenant := range tenants {
			result, err := eng.ProcessExpired(ctx, tenant, retention.ProcessOptions{
				ProcessedBy: "retention-sweeper",
			})
			if err != nil {
				slog.Warn("retention sweep failed", "tenant", tenant, "error", err)
				continue
			}
			if result.MarkedForReview > 0 || len(result.Errors) > 0 {
				slog.Info("retention sweep",
					"tenant", tenant,
					"markedForReview", result.MarkedForReview,
					"skipped", result.Skipped,
					"errors", len(result.Errors))
			}
		}
	}
}

func tenantIDs(ctx context.Context, st *store.Store) ([]string, error) {
	var tenants []string
	err := st.DB.WithContext(ctx).
		Table("archived_documents").
		Distinct("tenant_id").
		Pluck("tenant_id", &tenants).Error
	return tenants, err
}
