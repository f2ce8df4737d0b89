package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/config"
	"github.com/garyjia/invoice-approval/internal/container"
	infraLark "github.com/garyjia/invoice-approval/internal/infrastructure/external/lark"
)

// Sends one Lark IM message through the same messenger the notifier uses.
// The recipient is either an open_id (ou_...) or an actor ID whose
// lark_open_id is looked up in the database.

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	message := flag.String("message", "Test notification from the invoice approval service", "Message text")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Usage: test-notification [--config path] [--message text] <open_id or actor_id>")
	}
	recipient := flag.Arg(0)

	fmt.Println("=== Lark IM Notification Test ===")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	larkCfg := infraLark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		BaseURL:   cfg.Lark.BaseURL,
	}
	if !larkCfg.Enabled() {
		log.Fatal("lark.app_id and lark.app_secret are not configured")
	}
	fmt.Printf("App ID: %s\n", maskID(cfg.Lark.AppID))

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	openID := recipient
	if !strings.HasPrefix(recipient, "ou_") {
		fmt.Printf("\n[Step 1] Looking up actor %s...\n", recipient)
		openID, err = lookupOpenID(ctx, cfg, recipient, logger)
		if err != nil {
			log.Fatalf("Failed to resolve open_id: %v", err)
		}
		fmt.Printf("✓ Resolved open_id: %s\n", openID)
	}

	fmt.Println("\n[Step 2] Sending text message...")
	messenger := infraLark.NewMessenger(infraLark.NewSDKClient(larkCfg, logger), logger)
	if err := messenger.SendMessage(ctx, openID, *message); err != nil {
		log.Fatalf("✗ Failed to send message: %v", err)
	}
	fmt.Println("✓ Message sent")

	fmt.Println("\n=== Test Complete ===")
}

func lookupOpenID(ctx context.Context, cfg *config.Config, actorID string, logger *zap.Logger) (string, error) {
	db, err := container.ProvideDatabase(&container.DatabaseConfig{Path: cfg.Database.Path}, logger)
	if err != nil {
		return "", err
	}
	defer db.DB.Close()

	repos, err := container.ProvideRepositories(db.DB, logger)
	if err != nil {
		return "", err
	}

	actor, err := repos.Actor.GetByID(ctx, actorID)
	if err != nil {
		return "", err
	}
	if actor == nil {
		return "", fmt.Errorf("actor %s not found", actorID)
	}
	if actor.LarkOpenID == "" {
		return "", fmt.Errorf("actor %s has no lark_open_id", actorID)
	}
	return actor.LarkOpenID, nil
}

func maskID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}
