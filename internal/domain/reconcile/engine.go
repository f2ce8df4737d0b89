// Package reconcile implements the three-way match of an invoice against its
// purchase order and goods receipt.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// DefaultPriceTolerance is the accepted relative deviation of the invoiced
// unit price from the PO unit price
var DefaultPriceTolerance = decimal.RequireFromString("0.05")

var hundred = decimal.NewFromInt(100)

// Engine compares invoice lines against PO and GR lines by position
type Engine struct {
	tolerance decimal.Decimal
	now       func() time.Time
}

// Option configures the engine
type Option func(*Engine)

// WithPriceTolerance overrides the relative price tolerance (0.05 = 5%)
func WithPriceTolerance(tolerance decimal.Decimal) Option {
	return func(e *Engine) {
		e.tolerance = tolerance
	}
}

// WithClock sets the clock used to stamp results
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a reconciliation engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		tolerance: DefaultPriceTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tolerance returns the configured price tolerance
func (e *Engine) Tolerance() decimal.Decimal {
	return e.tolerance
}

// Reconcile produces the match verdict for an invoice.
// A nil PO or GR means the reference could not be resolved.
func (e *Engine) Reconcile(inv *entity.Invoice, po *entity.PurchaseOrder, gr *entity.GoodsReceipt) (*entity.MatchResult, error) {
	if inv == nil {
		return nil, fmt.Errorf("invoice is required")
	}
	if po == nil {
		return nil, workflow.NewError(workflow.KindMissingReferenceData, inv.ID, workflow.CommandRunReconciliation,
			"purchase order %q not found", inv.PONumber)
	}
	if gr == nil {
		return nil, workflow.NewError(workflow.KindMissingReferenceData, inv.ID, workflow.CommandRunReconciliation,
			"goods receipt for purchase order %q not found", inv.PONumber)
	}

	lineCount := max(len(inv.LineItems), len(po.Lines), len(gr.Lines))
	discrepancies := make([]string, 0)

	for i := 0; i < lineCount; i++ {
		if msg, ok := e.compareLine(i, lineAt(inv.LineItems, i), lineAt(po.Lines, i), lineAt(gr.Lines, i)); !ok {
			discrepancies = append(discrepancies, msg)
		}
	}

	verdict := entity.VerdictMatched
	if len(discrepancies) > 0 {
		verdict = entity.VerdictDiscrepant
	}

	return &entity.MatchResult{
		Verdict:       verdict,
		Discrepancies: discrepancies,
		POSnapshot:    append([]entity.LineItem(nil), po.Lines...),
		GRSnapshot:    append([]entity.LineItem(nil), gr.Lines...),
		ReconciledAt:  e.now(),
	}, nil
}

// compareLine returns a discrepancy message and false when the line fails
func (e *Engine) compareLine(index int, inv, po, gr *entity.LineItem) (string, bool) {
	label := fmt.Sprintf("line %d %q", index+1, describe(inv, po, gr))

	var missing []string
	if inv == nil {
		missing = append(missing, "invoice")
	}
	if po == nil {
		missing = append(missing, "purchase order")
	}
	if gr == nil {
		missing = append(missing, "goods receipt")
	}
	if len(missing) > 0 {
		return fmt.Sprintf("%s: missing from %s", label, strings.Join(missing, ", ")), false
	}

	var problems []string

	if !inv.Quantity.Equal(po.Quantity) || !inv.Quantity.Equal(gr.Quantity) {
		problems = append(problems, fmt.Sprintf("quantity invoice %s, PO %s, GR %s (%s)",
			inv.Quantity.String(), po.Quantity.String(), gr.Quantity.String(),
			quantityDeviations(inv.Quantity, po.Quantity, gr.Quantity)))
	}

	if !e.priceMatches(inv.UnitPrice, po.UnitPrice) {
		problems = append(problems, fmt.Sprintf("price expected %s, got %s (%s)",
			po.UnitPrice.StringFixed(2), inv.UnitPrice.StringFixed(2),
			deviation(inv.UnitPrice, po.UnitPrice)))
	}

	if len(problems) == 0 {
		return "", true
	}
	return fmt.Sprintf("%s: %s", label, strings.Join(problems, "; ")), false
}

// priceMatches applies the tolerance; a zero PO price only matches a zero invoice price
func (e *Engine) priceMatches(invoicePrice, poPrice decimal.Decimal) bool {
	if poPrice.IsZero() {
		return invoicePrice.IsZero()
	}
	allowed := e.tolerance.Mul(poPrice.Abs())
	return invoicePrice.Sub(poPrice).Abs().LessThanOrEqual(allowed)
}

// quantityDeviations names the invoice deviation against each document it disagrees with
func quantityDeviations(invoiced, ordered, received decimal.Decimal) string {
	var parts []string
	if !invoiced.Equal(ordered) {
		parts = append(parts, "vs PO "+deviation(invoiced, ordered))
	}
	if !invoiced.Equal(received) {
		parts = append(parts, "vs GR "+deviation(invoiced, received))
	}
	return strings.Join(parts, ", ")
}

// deviation formats (actual-expected)/expected as a signed percentage
func deviation(actual, expected decimal.Decimal) string {
	if expected.IsZero() {
		return "n/a"
	}
	pct := actual.Sub(expected).Div(expected.Abs()).Mul(hundred)
	sign := ""
	if pct.IsPositive() {
		sign = "+"
	}
	return sign + pct.StringFixed(2) + "%"
}

func describe(lines ...*entity.LineItem) string {
	for _, l := range lines {
		if l != nil && l.Description != "" {
			return l.Description
		}
	}
	return ""
}

func lineAt(lines []entity.LineItem, i int) *entity.LineItem {
	if i < len(lines) {
		return &lines[i]
	}
	return nil
}
