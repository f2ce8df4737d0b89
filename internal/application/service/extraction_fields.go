package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// Extracted field names understood by the lifecycle
const (
	FieldAmount      = "amount"
	FieldCurrency    = "currency"
	FieldInvoiceDate = "invoice_date"
	FieldPONumber    = "po_number"
	FieldProjectID   = "project_id"
	FieldLineItems   = "line_items"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006/01/02", "02.01.2006"}

// mergeExtractedFields copies the recognised extracted fields onto the
// invoice. Fields that are absent or empty keep the submitted value.
func mergeExtractedFields(inv *entity.Invoice, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	if raw, ok := fields[FieldAmount]; ok && raw != nil {
		amount, err := toDecimal(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", FieldAmount, err)
		}
		if amount.IsNegative() {
			return fmt.Errorf("%s must not be negative", FieldAmount)
		}
		inv.Amount = amount
	}

	if s := stringField(fields, FieldCurrency); s != "" {
		inv.Currency = strings.ToUpper(s)
	}
	if s := stringField(fields, FieldPONumber); s != "" {
		inv.PONumber = s
	}
	if s := stringField(fields, FieldProjectID); s != "" {
		inv.ProjectID = s
	}

	if s := stringField(fields, FieldInvoiceDate); s != "" {
		date, err := parseDate(s)
		if err != nil {
			return fmt.Errorf("%s: %w", FieldInvoiceDate, err)
		}
		inv.InvoiceDate = date
	}

	if raw, ok := fields[FieldLineItems]; ok && raw != nil {
		lines, err := toLineItems(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", FieldLineItems, err)
		}
		if len(lines) > 0 {
			inv.LineItems = lines
		}
	}

	if inv.ExtractedFields == nil {
		inv.ExtractedFields = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		inv.ExtractedFields[k] = v
	}
	return nil
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// toDecimal accepts the shapes produced by JSON decoding
func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		return decimal.NewFromString(cleaned)
	default:
		return decimal.Zero, fmt.Errorf("unsupported number %v (%T)", v, v)
	}
}

func toLineItems(v interface{}) ([]entity.LineItem, error) {
	switch items := v.(type) {
	case []entity.LineItem:
		return append([]entity.LineItem(nil), items...), nil
	case []interface{}:
		lines := make([]entity.LineItem, 0, len(items))
		for i, raw := range items {
			m, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("line %d is not an object", i+1)
			}
			line := entity.LineItem{Quantity: decimal.NewFromInt(1)}
			if d, ok := m["description"].(string); ok {
				line.Description = d
			}
			if q, ok := m["quantity"]; ok && q != nil {
				qty, err := toDecimal(q)
				if err != nil {
					return nil, fmt.Errorf("line %d quantity: %w", i+1, err)
				}
				line.Quantity = qty
			}
			price, ok := m["unit_price"]
			if !ok || price == nil {
				return nil, fmt.Errorf("line %d has no unit_price", i+1)
			}
			p, err := toDecimal(price)
			if err != nil {
				return nil, fmt.Errorf("line %d unit_price: %w", i+1, err)
			}
			line.UnitPrice = p
			lines = append(lines, line)
		}
		return lines, nil
	default:
		return nil, fmt.Errorf("unsupported line items %T", v)
	}
}

// validateLines rejects negative quantities and prices
func validateLines(lines []entity.LineItem) error {
	for i, l := range lines {
		if l.Quantity.IsNegative() {
			return fmt.Errorf("line %d quantity must not be negative", i+1)
		}
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("line %d unit price must not be negative", i+1)
		}
	}
	return nil
}
