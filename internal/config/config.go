package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Lark           LarkConfig           `mapstructure:"lark"`
	OpenAI         OpenAIConfig         `mapstructure:"openai"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Workflow       WorkflowConfig       `mapstructure:"workflow"`
	Logger         LoggerConfig         `mapstructure:"logger"`
	Bootstrap      BootstrapConfig      `mapstructure:"bootstrap"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	Mode            string        `mapstructure:"mode"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ExtractionToken string        `mapstructure:"extraction_token"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LarkConfig holds Lark API configuration. Notifications are only logged
// when the credentials are empty.
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API configuration. The extraction worker only
// runs when APIKey is set.
type OpenAIConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	BaseURL       string `mapstructure:"base_url"`
	PromptsPath   string `mapstructure:"prompts_path"`
	MaxInputChars int    `mapstructure:"max_input_chars"`
	MaxPDFPages   int    `mapstructure:"max_pdf_pages"`
}

// StorageConfig holds file storage configuration
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// WorkerConfig holds extraction worker configuration
type WorkerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// ReconciliationConfig holds three-way match settings
type ReconciliationConfig struct {
	// PriceTolerance is relative, 0.05 accepts a 5% deviation
	PriceTolerance string `mapstructure:"price_tolerance"`
}

// WorkflowConfig holds lifecycle policy switches
type WorkflowConfig struct {
	RequireOverrideJustification bool `mapstructure:"require_override_justification"`
	MaxDelegationDays            int  `mapstructure:"max_delegation_days"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// BootstrapConfig lists reference data upserted at startup
type BootstrapConfig struct {
	Actors         []ActorSeed         `mapstructure:"actors"`
	PurchaseOrders []PurchaseOrderSeed `mapstructure:"purchase_orders"`
	GoodsReceipts  []GoodsReceiptSeed  `mapstructure:"goods_receipts"`
}

// ActorSeed is one actor entry under bootstrap.actors
type ActorSeed struct {
	ID               string   `mapstructure:"id"`
	Name             string   `mapstructure:"name"`
	Role             string   `mapstructure:"role"`
	AssignedProjects []string `mapstructure:"assigned_projects"`
	VendorID         string   `mapstructure:"vendor_id"`
	LarkOpenID       string   `mapstructure:"lark_open_id"`
}

// LineSeed is one PO or GR line; numbers are strings to keep them exact
type LineSeed struct {
	Description string `mapstructure:"description"`
	Quantity    string `mapstructure:"quantity"`
	UnitPrice   string `mapstructure:"unit_price"`
}

// PurchaseOrderSeed is one entry under bootstrap.purchase_orders
type PurchaseOrderSeed struct {
	Number   string     `mapstructure:"number"`
	VendorID string     `mapstructure:"vendor_id"`
	Lines    []LineSeed `mapstructure:"lines"`
}

// GoodsReceiptSeed is one entry under bootstrap.goods_receipts
type GoodsReceiptSeed struct {
	ID         string     `mapstructure:"id"`
	PONumber   string     `mapstructure:"po_number"`
	ReceivedAt string     `mapstructure:"received_at"`
	Lines      []LineSeed `mapstructure:"lines"`
}

// Load loads configuration from file and environment variables. A .env
// file in the working directory is applied to the environment first.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv applies path to the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})

	// Database defaults
	v.SetDefault("database.path", "data/invoices.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Auth defaults
	v.SetDefault("auth.issuer", "invoice-approval")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_input_chars", 12000)
	v.SetDefault("openai.max_pdf_pages", 5)

	v.SetDefault("storage.base_dir", "data/documents")

	// Worker defaults
	v.SetDefault("worker.poll_interval", 15*time.Second)
	v.SetDefault("worker.batch_size", 5)
	v.SetDefault("worker.process_timeout", 2*time.Minute)
	v.SetDefault("worker.max_attempts", 3)

	v.SetDefault("reconciliation.price_tolerance", "0.05")
	v.SetDefault("workflow.require_override_justification", true)
	v.SetDefault("workflow.max_delegation_days", 365)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the secrets to their conventional variable names
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"auth.jwt_secret":         "JWT_SECRET",
		"lark.app_id":             "LARK_APP_ID",
		"lark.app_secret":         "LARK_APP_SECRET",
		"openai.api_key":          "OPENAI_API_KEY",
		"server.extraction_token": "EXTRACTION_CALLBACK_TOKEN",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Lark credentials come as a pair
	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	tolerance, err := c.Reconciliation.Tolerance()
	if err != nil {
		return err
	}
	if tolerance.IsNegative() {
		return fmt.Errorf("reconciliation.price_tolerance must not be negative")
	}

	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}

	for i, a := range c.Bootstrap.Actors {
		if a.ID == "" {
			return fmt.Errorf("bootstrap.actors[%d]: id is required", i)
		}
		if !entity.Role(a.Role).IsValid() {
			return fmt.Errorf("bootstrap.actors[%d]: unknown role %q", i, a.Role)
		}
	}
	for i, po := range c.Bootstrap.PurchaseOrders {
		if po.Number == "" {
			return fmt.Errorf("bootstrap.purchase_orders[%d]: number is required", i)
		}
		if _, err := ParseLines(po.Lines); err != nil {
			return fmt.Errorf("bootstrap.purchase_orders[%d]: %w", i, err)
		}
	}
	for i, gr := range c.Bootstrap.GoodsReceipts {
		if gr.PONumber == "" {
			return fmt.Errorf("bootstrap.goods_receipts[%d]: po_number is required", i)
		}
		if _, err := ParseLines(gr.Lines); err != nil {
			return fmt.Errorf("bootstrap.goods_receipts[%d]: %w", i, err)
		}
		if _, err := gr.ReceivedTime(); err != nil {
			return fmt.Errorf("bootstrap.goods_receipts[%d]: %w", i, err)
		}
	}

	return nil
}

// Tolerance parses the configured price tolerance
func (r ReconciliationConfig) Tolerance() (decimal.Decimal, error) {
	if r.PriceTolerance == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.PriceTolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reconciliation.price_tolerance %q: %w", r.PriceTolerance, err)
	}
	return d, nil
}

// ReceivedTime parses received_at as RFC 3339 or YYYY-MM-DD; empty means zero
func (g GoodsReceiptSeed) ReceivedTime() (time.Time, error) {
	if g.ReceivedAt == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, g.ReceivedAt); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", g.ReceivedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("received_at %q is not a date", g.ReceivedAt)
	}
	return t, nil
}

// ParseLines converts seed lines into line items
func ParseLines(seeds []LineSeed) ([]entity.LineItem, error) {
	lines := make([]entity.LineItem, 0, len(seeds))
	for i, s := range seeds {
		qty, err := decimal.NewFromString(s.Quantity)
		if err != nil {
			return nil, fmt.Errorf("line %d: quantity %q: %w", i+1, s.Quantity, err)
		}
		price, err := decimal.NewFromString(s.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("line %d: unit_price %q: %w", i+1, s.UnitPrice, err)
		}
		lines = append(lines, entity.LineItem{Description: s.Description, Quantity: qty, UnitPrice: price})
	}
	return lines, nil
}
