// Command normalize-status rewrites legacy invoice status spellings in the
// database to their canonical values and prints what changed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/config"
	"github.com/garyjia/invoice-approval/internal/container"
	"github.com/garyjia/invoice-approval/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	dryRun := flag.Bool("dry-run", false, "Report rewrites without applying them")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	logger := utils.MustBootstrapLogger("normalize-status")
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := normalize(ctx, cfg, *dryRun, logger)
	if err != nil {
		logger.Fatal("Normalization failed", zap.Error(err))
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if report.DryRun {
		fmt.Fprintf(os.Stderr, "%d invoice(s) would be rewritten\n", report.Total())
	} else {
		fmt.Fprintf(os.Stderr, "%d invoice(s) rewritten\n", report.Total())
	}
}

func normalize(ctx context.Context, cfg *config.Config, dryRun bool, logger *zap.Logger) (*service.NormalizationReport, error) {
	dbCfg := container.DatabaseConfig{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		BusyTimeout:     cfg.Database.BusyTimeout,
	}

	db, err := container.ProvideDatabase(&dbCfg, logger)
	if err != nil {
		return nil, err
	}
	defer db.DB.Close()

	repos, err := container.ProvideRepositories(db.DB, logger)
	if err != nil {
		return nil, err
	}

	adapter := container.ZapAdapter(logger)
	audit := service.NewAuditService(repos.Audit, adapter)
	normalizer := service.NewStatusNormalizer(repos.Invoice, db.TransactionMgr, audit, adapter)

	return normalizer.Normalize(ctx, dryRun)
}
