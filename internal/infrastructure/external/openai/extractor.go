package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/port"
)

// defaultMaxInputChars caps the invoice text sent in one request
const defaultMaxInputChars = 12000

// extractedKeys are the fields kept from the model's reply
var extractedKeys = []string{"amount", "currency", "invoice_date", "po_number", "project_id", "line_items"}

// ErrEmptyText is returned when there is no text to extract fields from
var ErrEmptyText = errors.New("invoice text is empty")

// Config holds OpenAI client settings
type Config struct {
	APIKey        string
	Model         string
	BaseURL       string
	MaxInputChars int
}

// FieldExtractor implements port.FieldExtractor using chat completions
type FieldExtractor struct {
	client        *openai.Client
	model         string
	prompts       *PromptConfig
	maxInputChars int
	logger        *zap.Logger
}

// NewFieldExtractor creates a new OpenAI field extractor. A nil prompts
// value uses DefaultPrompts.
func NewFieldExtractor(cfg Config, prompts *PromptConfig, logger *zap.Logger) *FieldExtractor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	maxChars := cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = defaultMaxInputChars
	}

	return &FieldExtractor{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         cfg.Model,
		prompts:       prompts,
		maxInputChars: maxChars,
		logger:        logger,
	}
}

// ExtractFields asks the model for the invoice header and line items
func (e *FieldExtractor) ExtractFields(ctx context.Context, text string) (map[string]interface{}, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if r := []rune(text); len(r) > e.maxInputChars {
		text = string(r[:e.maxInputChars])
	}

	p := e.prompts.InvoiceExtraction
	userPrompt, err := renderTemplate(p.UserTemplate, struct{ Text string }{Text: text})
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		e.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	raw, err := decodeObject(content)
	if err != nil {
		// Fallback: the object may be wrapped in prose or a code fence
		if jsonStr := extractJSON(content); jsonStr != "" {
			raw, err = decodeObject(jsonStr)
		}
	}
	if err != nil {
		e.logger.Error("Failed to parse OpenAI response", zap.Error(err), zap.String("content", content))
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	fields := make(map[string]interface{}, len(extractedKeys))
	for _, key := range extractedKeys {
		if v, ok := raw[key]; ok && v != nil && v != "" {
			fields[key] = v
		}
	}

	e.logger.Info("Invoice fields extracted",
		zap.Int("fields", len(fields)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return fields, nil
}

// decodeObject keeps numbers as json.Number so amounts stay exact
func decodeObject(s string) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	return out, nil
}

// Verify interface compliance
var _ port.FieldExtractor = (*FieldExtractor)(nil)
