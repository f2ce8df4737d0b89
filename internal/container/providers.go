package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/delegation"
	"github.com/garyjia/invoice-approval/internal/application/dispatcher"
	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/authz"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/reconcile"
	"github.com/garyjia/invoice-approval/internal/infrastructure/document"
	infraLark "github.com/garyjia/invoice-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/invoice-approval/internal/infrastructure/external/openai"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-approval/internal/infrastructure/storage"
	"github.com/garyjia/invoice-approval/internal/infrastructure/worker"
	"github.com/garyjia/invoice-approval/migrations"
	"github.com/garyjia/invoice-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ExtractionBundle holds the extraction collaborator. Both fields are nil
// when extraction is disabled.
type ExtractionBundle struct {
	Text   port.TextExtractor
	Fields port.FieldExtractor
}

// StorageBundle holds storage-related components.
type StorageBundle struct {
	FileStorage port.FileStorage
	Validator   port.SpreadsheetValidator
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrationsFS(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Invoice:     repository.NewInvoiceRepository(db.DB, logger),
		Actor:       repository.NewActorRepository(db.DB, logger),
		Audit:       repository.NewAuditRepository(db.DB, logger),
		Delegation:  repository.NewDelegationRepository(db.DB, logger),
		Document:    repository.NewDocumentRepository(db.DB, logger),
		Procurement: repository.NewProcurementRepository(db.DB, logger),
	}, nil
}

// SeedReferenceData upserts actors, purchase orders and goods receipts in one transaction.
func SeedReferenceData(ctx context.Context, tx port.TransactionManager, repos *RepositoryBundle, seed *SeedData) error {
	if seed == nil {
		return nil
	}
	return tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, a := range seed.Actors {
			if err := repos.Actor.Upsert(ctx, a); err != nil {
				return fmt.Errorf("seed actor %s: %w", a.ID, err)
			}
		}
		for _, po := range seed.PurchaseOrders {
			if err := repos.Procurement.SavePurchaseOrder(ctx, po); err != nil {
				return fmt.Errorf("seed purchase order %s: %w", po.Number, err)
			}
		}
		for _, gr := range seed.GoodsReceipts {
			if err := repos.Procurement.SaveGoodsReceipt(ctx, gr); err != nil {
				return fmt.Errorf("seed goods receipt for %s: %w", gr.PONumber, err)
			}
		}
		return nil
	})
}

// ProvideMessageSender returns the Lark messenger, or nil when Lark is not
// configured so that notifications are only logged.
func ProvideMessageSender(cfg *LarkConfig, logger *zap.Logger) port.MessageSender {
	larkCfg := infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		BaseURL:   cfg.BaseURL,
	}
	if !larkCfg.Enabled() {
		logger.Info("Lark credentials not configured, notifications will be logged only")
		return nil
	}
	return infraLark.NewMessenger(infraLark.NewSDKClient(larkCfg, logger), logger)
}

// ProvideExtraction creates the PDF text reader and the OpenAI field
// extractor. It returns an empty bundle when no API key is configured.
func ProvideExtraction(cfg *OpenAIConfig, logger *zap.Logger) (*ExtractionBundle, error) {
	if cfg.APIKey == "" {
		logger.Info("OpenAI API key not configured, extraction worker disabled")
		return &ExtractionBundle{}, nil
	}

	prompts := openai.DefaultPrompts()
	if cfg.PromptsPath != "" {
		loaded, err := openai.LoadPrompts(cfg.PromptsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		prompts = loaded
	}

	return &ExtractionBundle{
		Text: document.NewPDFTextExtractor(cfg.MaxPDFPages, logger),
		Fields: openai.NewFieldExtractor(openai.Config{
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			BaseURL:       cfg.BaseURL,
			MaxInputChars: cfg.MaxInputChars,
		}, prompts, logger),
	}, nil
}

// ProvideStorage creates file storage and the spreadsheet validator.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}

	return &StorageBundle{
		FileStorage: storage.NewLocalFileStorage(cfg.BaseDir, logger),
		Validator:   document.NewSpreadsheetValidator(logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}),
	), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Storage    *StorageBundle
	Dispatcher dispatcher.Dispatcher
	Workflow   *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Workflow == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}

	audit := service.NewAuditService(deps.Repos.Audit, serviceLogger)
	directory := delegation.NewDirectory(deps.Repos.Delegation, deps.Repos.Actor, audit, serviceLogger,
		delegation.WithMaxDurationDays(deps.Workflow.MaxDelegationDays))
	filter := authz.NewFilter(directory, deps.Repos.Actor)

	opts := []service.InvoiceOption{
		service.WithFileStorage(deps.Storage.FileStorage),
		service.WithOverrideJustification(deps.Workflow.RequireOverrideJustification),
	}
	if deps.Dispatcher != nil {
		opts = append(opts, service.WithDispatcher(deps.Dispatcher))
	}

	invoices := service.NewInvoiceService(
		deps.Repos.Invoice,
		deps.Repos.Procurement,
		deps.Repos.Actor,
		filter,
		reconcile.NewEngine(reconcile.WithPriceTolerance(deps.Workflow.PriceTolerance)),
		audit,
		serviceLogger,
		opts...,
	)

	return &ServiceBundle{
		Invoice: invoices,
		Audit:   audit,
		Document: service.NewDocumentService(
			invoices,
			deps.Repos.Document,
			deps.Storage.FileStorage,
			deps.Storage.Validator,
			audit,
			serviceLogger,
		),
		Normalizer: service.NewStatusNormalizer(deps.Repos.Invoice, deps.TxManager, audit, serviceLogger),
		Directory:  directory,
		Filter:     filter,
	}, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Repos      *RepositoryBundle
	Invoices   service.InvoiceService
	Storage    *StorageBundle
	Extraction *ExtractionBundle
	WorkerCfg  *WorkerConfig
	Logger     *zap.Logger
}

// ProvideWorkers creates the worker manager. The extraction worker is only
// registered when an extraction collaborator is configured.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	if deps.Extraction != nil && deps.Extraction.Fields != nil {
		manager.Register(worker.NewExtractionWorker(
			worker.ExtractionWorkerConfig{
				PollInterval:   deps.WorkerCfg.PollInterval,
				BatchSize:      deps.WorkerCfg.BatchSize,
				ProcessTimeout: deps.WorkerCfg.ProcessTimeout,
				MaxAttempts:    deps.WorkerCfg.MaxAttempts,
			},
			deps.Repos.Invoice,
			deps.Invoices,
			deps.Storage.FileStorage,
			deps.Extraction.Text,
			deps.Extraction.Fields,
			deps.Logger,
		))
	}

	return manager, nil
}

// visibilityFor builds the live feed filter on top of the invoice read path
func visibilityFor(invoices service.InvoiceService) func(ctx context.Context, actor *entity.Actor, invoiceID string) bool {
	return func(ctx context.Context, actor *entity.Actor, invoiceID string) bool {
		_, err := invoices.GetInvoice(ctx, actor, invoiceID)
		return err == nil
	}
}
