package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the prompts and model parameters used by the extractor
type PromptConfig struct {
	InvoiceExtraction struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"invoice_extraction"`
}

const defaultPrompts = `
invoice_extraction:
  temperature: 0
  max_tokens: 1200
  system: >-
    You read vendor invoices for an accounts payable team. Reply with one JSON
    object and nothing else. Use null for anything the document does not state.
  user_template: |-
    Extract these fields from the invoice text below:
    - amount: invoice total as a string with a dot decimal separator
    - currency: ISO 4217 code
    - invoice_date: YYYY-MM-DD
    - po_number: purchase order number referenced by the invoice
    - project_id: project code, if printed
    - line_items: array of {"description", "quantity", "unit_price"}

    Invoice text:
    {{.Text}}
`

// DefaultPrompts returns the built-in prompt configuration
func DefaultPrompts() *PromptConfig {
	prompts, err := parsePrompts([]byte(defaultPrompts))
	if err != nil {
		panic(fmt.Sprintf("built-in prompts: %v", err))
	}
	return prompts
}

// LoadPrompts loads prompt configuration from a YAML file. Sections the
// file leaves empty keep the built-in text.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts, err := parsePrompts(data)
	if err != nil {
		return nil, err
	}

	defaults := DefaultPrompts()
	if prompts.InvoiceExtraction.System == "" {
		prompts.InvoiceExtraction.System = defaults.InvoiceExtraction.System
	}
	if prompts.InvoiceExtraction.UserTemplate == "" {
		prompts.InvoiceExtraction.UserTemplate = defaults.InvoiceExtraction.UserTemplate
	}
	if prompts.InvoiceExtraction.MaxTokens == 0 {
		prompts.InvoiceExtraction.MaxTokens = defaults.InvoiceExtraction.MaxTokens
	}
	return prompts, nil
}

func parsePrompts(data []byte) (*PromptConfig, error) {
	var prompts PromptConfig
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	return &prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
