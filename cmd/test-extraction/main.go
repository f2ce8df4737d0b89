package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/infrastructure/document"
	"github.com/garyjia/invoice-approval/internal/infrastructure/external/openai"
)

// Runs the extraction pipeline against one PDF without the rest of the system

func main() {
	// Parse command line flags
	apiKey := flag.String("key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	model := flag.String("model", "gpt-4o-mini", "Chat model")
	promptsPath := flag.String("prompts", "", "Optional prompts.yaml overriding the built-in prompts")
	maxPages := flag.Int("pages", 5, "Maximum PDF pages to read")
	timeout := flag.Duration("timeout", 60*time.Second, "API call timeout")
	textOnly := flag.Bool("text-only", false, "Print extracted text and skip the model call")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: test-extraction [--key sk-...] [--prompts <path>] [--text-only] invoice.pdf\n")
		os.Exit(2)
	}
	pdfPath := flag.Arg(0)

	// Initialize logger
	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var text port.TextExtractor = document.NewPDFTextExtractor(*maxPages, logger)
	content, err := text.ExtractText(ctx, pdfPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to read %s: %v\n", pdfPath, err)
		os.Exit(1)
	}
	fmt.Printf("Extracted %d characters from %s\n\n", len(content), pdfPath)

	if *textOnly {
		fmt.Println(content)
		return
	}

	// Get API key from flag or environment
	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "ERROR: OPENAI_API_KEY not set and no --key flag provided\n")
		os.Exit(1)
	}

	prompts := openai.DefaultPrompts()
	if *promptsPath != "" {
		prompts, err = openai.LoadPrompts(*promptsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: failed to load prompts: %v\n", err)
			os.Exit(1)
		}
	}

	var fields port.FieldExtractor = openai.NewFieldExtractor(openai.Config{
		APIKey: *apiKey,
		Model:  *model,
	}, prompts, logger)

	fmt.Printf("Sending %s request...\n", *model)
	start := time.Now()
	result, err := fields.ExtractFields(ctx, content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: extraction failed after %v: %v\n", time.Since(start), err)
		os.Exit(1)
	}
	fmt.Printf("Response time: %v\n\n", time.Since(start))

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
