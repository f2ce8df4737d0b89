// Package container provides dependency injection and lifecycle management
// for the invoice approval service.
package container

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-approval/internal/application/delegation"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/reconcile"
)

// Config holds all configuration for the Container.
type Config struct {
	Database DatabaseConfig
	Lark     LarkConfig
	OpenAI   OpenAIConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Workflow WorkflowConfig
	Feed     FeedConfig

	// Seed is upserted on every start
	Seed SeedData
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to the SQLite database file, or ":memory:"
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// How long a connection waits on a locked database before SQLITE_BUSY
	BusyTimeout time.Duration
}

// LarkConfig holds Lark API settings. Empty credentials select the logging notifier.
type LarkConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
}

// OpenAIConfig holds extraction settings. An empty APIKey disables the extraction worker.
type OpenAIConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	PromptsPath   string
	MaxInputChars int
	MaxPDFPages   int
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// BaseDir is the root of stored source invoices and documents
	BaseDir string
}

// WorkerConfig holds extraction worker settings.
type WorkerConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	ProcessTimeout time.Duration
	MaxAttempts    int
}

// WorkflowConfig holds lifecycle policy.
type WorkflowConfig struct {
	PriceTolerance               decimal.Decimal
	RequireOverrideJustification bool
	// Longest delegation a project manager may set
	MaxDelegationDays int
}

// FeedConfig holds live feed settings.
type FeedConfig struct {
	AllowedOrigins []string
}

// SeedData is reference data loaded at startup
type SeedData struct {
	Actors         []*entity.Actor
	PurchaseOrders []*entity.PurchaseOrder
	GoodsReceipts  []*entity.GoodsReceipt
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/invoices.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		OpenAI: OpenAIConfig{
			Model:         "gpt-4o-mini",
			MaxInputChars: 12000,
			MaxPDFPages:   5,
		},
		Storage: StorageConfig{
			BaseDir: "data/documents",
		},
		Worker: WorkerConfig{
			PollInterval:   15 * time.Second,
			BatchSize:      5,
			ProcessTimeout: 2 * time.Minute,
			MaxAttempts:    3,
		},
		Workflow: WorkflowConfig{
			PriceTolerance:               reconcile.DefaultPriceTolerance,
			RequireOverrideJustification: true,
			MaxDelegationDays:            delegation.DefaultMaxDurationDays,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Workflow.PriceTolerance.IsNegative() {
		return fmt.Errorf("price tolerance must not be negative")
	}
	if c.Workflow.MaxDelegationDays < 0 {
		return fmt.Errorf("max delegation days must not be negative")
	}
	for _, a := range c.Seed.Actors {
		if a == nil || a.ID == "" || !a.Role.IsValid() {
			return fmt.Errorf("seed actor %v is invalid", a)
		}
	}
	return nil
}
