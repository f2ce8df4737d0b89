// Command issue-token prints a bearer token for an actor, for local use and
// for wiring internal clients.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/garyjia/invoice-approval/internal/config"
	apihttp "github.com/garyjia/invoice-approval/internal/interfaces/http"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	actorID := flag.String("actor", "", "Actor ID to use as the token subject")
	ttl := flag.Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	flag.Parse()

	if *actorID == "" {
		fmt.Fprintln(os.Stderr, "Usage: issue-token --actor <actor_id> [--ttl 24h] [--config path]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := apihttp.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, *actorID, lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(lifetime).UTC().Format(time.RFC3339))
}
