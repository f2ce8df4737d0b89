package config

import (
	"fmt"

	"github.com/garyjia/invoice-approval/internal/container"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	tolerance, err := c.Reconciliation.Tolerance()
	if err != nil {
		return nil, err
	}

	seed, err := c.Bootstrap.toSeed()
	if err != nil {
		return nil, err
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Lark: container.LarkConfig{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			BaseURL:   c.Lark.BaseURL,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:        c.OpenAI.APIKey,
			Model:         c.OpenAI.Model,
			BaseURL:       c.OpenAI.BaseURL,
			PromptsPath:   c.OpenAI.PromptsPath,
			MaxInputChars: c.OpenAI.MaxInputChars,
			MaxPDFPages:   c.OpenAI.MaxPDFPages,
		},
		Storage: container.StorageConfig{
			BaseDir: c.Storage.BaseDir,
		},
		Worker: container.WorkerConfig{
			PollInterval:   c.Worker.PollInterval,
			BatchSize:      c.Worker.BatchSize,
			ProcessTimeout: c.Worker.ProcessTimeout,
			MaxAttempts:    c.Worker.MaxAttempts,
		},
		Workflow: container.WorkflowConfig{
			PriceTolerance:               tolerance,
			RequireOverrideJustification: c.Workflow.RequireOverrideJustification,
			MaxDelegationDays:            c.Workflow.MaxDelegationDays,
		},
		Feed: container.FeedConfig{
			AllowedOrigins: c.Server.AllowedOrigins,
		},
		Seed: *seed,
	}, nil
}

func (b BootstrapConfig) toSeed() (*container.SeedData, error) {
	seed := &container.SeedData{}

	for _, a := range b.Actors {
		seed.Actors = append(seed.Actors, &entity.Actor{
			ID:               a.ID,
			Name:             a.Name,
			Role:             entity.Role(a.Role),
			AssignedProjects: a.AssignedProjects,
			VendorID:         a.VendorID,
			LarkOpenID:       a.LarkOpenID,
		})
	}

	for _, po := range b.PurchaseOrders {
		lines, err := ParseLines(po.Lines)
		if err != nil {
			return nil, fmt.Errorf("purchase order %s: %w", po.Number, err)
		}
		seed.PurchaseOrders = append(seed.PurchaseOrders, &entity.PurchaseOrder{
			Number:   po.Number,
			VendorID: po.VendorID,
			Lines:    lines,
		})
	}

	for _, gr := range b.GoodsReceipts {
		lines, err := ParseLines(gr.Lines)
		if err != nil {
			return nil, fmt.Errorf("goods receipt for %s: %w", gr.PONumber, err)
		}
		received, err := gr.ReceivedTime()
		if err != nil {
			return nil, fmt.Errorf("goods receipt for %s: %w", gr.PONumber, err)
		}
		id := gr.ID
		if id == "" {
			id = "GR-" + gr.PONumber
		}
		seed.GoodsReceipts = append(seed.GoodsReceipts, &entity.GoodsReceipt{
			ID:         id,
			PONumber:   gr.PONumber,
			Lines:      lines,
			ReceivedAt: received,
		})
	}

	return seed, nil
}
