package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

const (
	maxListLimit  = 100
	maxUploadSize = 20 << 20
)

// DelegationDirectory is the delegation surface exposed over HTTP
type DelegationDirectory interface {
	SetDelegation(ctx context.Context, actor *entity.Actor, toActorID string, durationDays int) (*entity.Delegation, error)
	Revoke(ctx context.Context, actor *entity.Actor, fromActorID string) error
	Get(ctx context.Context, fromActorID string) (*entity.Delegation, error)
	GetActiveDelegatesFor(ctx context.Context, actorID string) ([]string, error)
}

// HealthFunc reports overall health and per-component details
type HealthFunc func() (healthy bool, details interface{})

// Handlers contains all HTTP request handlers
type Handlers struct {
	invoices    service.InvoiceService
	documents   service.DocumentService
	delegations DelegationDirectory
	health      HealthFunc
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	invoices service.InvoiceService,
	documents service.DocumentService,
	delegations DelegationDirectory,
	health HealthFunc,
	logger Logger,
) *Handlers {
	return &Handlers{
		invoices:    invoices,
		documents:   documents,
		delegations: delegations,
		health:      health,
		logger:      logger,
	}
}

// LineItemRequest is one line of a submitted invoice
type LineItemRequest struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// SubmitInvoiceRequest is the body of POST /api/invoices
type SubmitInvoiceRequest struct {
	SubmittedByUserID string            `json:"submitted_by_user_id"`
	VendorID          string            `json:"vendor_id"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	InvoiceDate       string            `json:"invoice_date"`
	PONumber          string            `json:"po_number"`
	ProjectID         string            `json:"project_id"`
	LineItems         []LineItemRequest `json:"line_items"`
}

// DecisionRequest is the body of the finance and PM decision endpoints
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

// AssignPMRequest is the body of POST /api/invoices/:id/assign-pm
type AssignPMRequest struct {
	PMID string `json:"pm_id" binding:"required"`
}

// ReopenRequest is the body of POST /api/invoices/:id/reopen
type ReopenRequest struct {
	Reason string `json:"reason"`
}

// DelegationRequest is the body of PUT /api/delegations/mine
type DelegationRequest struct {
	ToActorID    string `json:"to_actor_id" binding:"required"`
	DurationDays int    `json:"duration_days" binding:"required"`
}

// ListInvoicesRequest represents query parameters for listing invoices
type ListInvoicesRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.health != nil {
		healthy, details = h.health()
	}

	code, status := http.StatusOK, "healthy"
	if !healthy {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, Response{
		Success: healthy,
		Data: gin.H{
			"status":     status,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"components": details,
		},
	})
}

// SubmitInvoice handles POST /api/invoices. A multipart request carries the
// JSON body in the "invoice" field and an optional "source" PDF.
func (h *Handlers) SubmitInvoice(c *gin.Context) {
	var (
		req     SubmitInvoiceRequest
		input   service.SubmitInvoiceInput
		decoded bool
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := json.Unmarshal([]byte(c.PostForm("invoice")), &req); err != nil {
			badRequest(c, "invalid invoice field: "+err.Error())
			return
		}
		decoded = true

		if fh, err := c.FormFile("source"); err == nil {
			content, err := readFormFile(fh)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			input.SourceFileName = fh.Filename
			input.SourceContent = content
		}
	}
	if !decoded {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	input.SubmittedByUserID = req.SubmittedByUserID
	input.VendorID = req.VendorID
	input.Amount = req.Amount
	input.Currency = req.Currency
	input.PONumber = req.PONumber
	input.ProjectID = req.ProjectID
	if req.InvoiceDate != "" {
		date, err := time.Parse("2006-01-02", req.InvoiceDate)
		if err != nil {
			badRequest(c, "invoice_date must be YYYY-MM-DD")
			return
		}
		input.InvoiceDate = date
	}
	for _, l := range req.LineItems {
		input.LineItems = append(input.LineItems, entity.LineItem{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}

	inv, err := h.invoices.SubmitInvoice(c.Request.Context(), currentActor(c), input)
	if err != nil {
		h.respondError(c, "submit invoice", err)
		return
	}
	respond(c, http.StatusCreated, inv)
}

// ListInvoices handles GET /api/invoices
func (h *Handlers) ListInvoices(c *gin.Context) {
	var req ListInvoicesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	opts := service.ListOptions{Limit: req.Limit, Offset: req.Offset}
	if opts.Limit <= 0 || opts.Limit > maxListLimit {
		opts.Limit = 20
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if req.Status != "" {
		status, err := workflow.ParseStatus(req.Status)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		opts.Status = status
	}

	invoices, err := h.invoices.ListInvoices(c.Request.Context(), currentActor(c), opts)
	if err != nil {
		h.respondError(c, "list invoices", err)
		return
	}
	respond(c, http.StatusOK, invoices)
}

// GetInvoice handles GET /api/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	inv, err := h.invoices.GetInvoice(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "get invoice", err)
		return
	}
	respond(c, http.StatusOK, inv)
}

// AuditTrail handles GET /api/invoices/:id/audit
func (h *Handlers) AuditTrail(c *gin.Context) {
	entries, err := h.invoices.AuditTrail(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "get audit trail", err)
		return
	}
	respond(c, http.StatusOK, entries)
}

// RunReconciliation handles POST /api/invoices/:id/reconcile
func (h *Handlers) RunReconciliation(c *gin.Context) {
	inv, err := h.invoices.RunReconciliation(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "run reconciliation", err)
		return
	}
	respond(c, http.StatusOK, inv)
}

// AssignProjectManager handles POST /api/invoices/:id/assign-pm
func (h *Handlers) AssignProjectManager(c *gin.Context) {
	var req AssignPMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "pm_id is required")
		return
	}

	inv, err := h.invoices.AssignProjectManager(c.Request.Context(), currentActor(c), c.Param("id"), req.PMID)
	if err != nil {
		h.respondError(c, "assign project manager", err)
		return
	}
	respond(c, http.StatusOK, inv)
}

// FinanceDecision handles POST /api/invoices/:id/finance-decision
func (h *Handlers) FinanceDecision(c *gin.Context) {
	decision, notes, valid := bindDecision(c)
	if !valid {
		return
	}

	inv, err := h.invoices.RecordFinanceDecision(c.Request.Context(), currentActor(c), c.Param("id"), decision, notes)
	if err != nil {
		h.respondError(c, "record finance decision", err)
		return
	}
	respond(c, http.StatusOK, inv)
}

// PMDecision handles POST /api/invoices/:id/pm-decision
func (h *Handlers) PMDecision(c *gin.Context) {
	decision, notes, valid := bindDecision(c)
	if !valid {
		return
	}

	inv, err := h.invoices.RecordPMDecision(c.Request.Context(), currentActor(c), c.Param("id"), decision, notes)
	if err != nil {
		h.respondError(c, "record PM decision", err)
		return
	}
	respond(c, http.StatusOK, inv)
}

// MarkPaid handles POST /api/invoices/:id/pay
func (h *Handlers) MarkPaid(c *gin.Context) {
	inv, err := h.invoices.MarkPaid(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "mark invoice paid", err)
		return
	}
	respond(c, http.StatusOK, inv)
}

// Reopen handles POST /api/invoices/:id/reopen
func (h *Handlers) Reopen(c *gin.Context) {
	var req ReopenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	inv, err := h.invoices.Reopen(c.Request.Context(), currentActor(c), c.Param("id"), req.Reason)
	if err != nil {
		h.respondError(c, "reopen invoice", err)
		return
	}
	respond(c, http.StatusOK, inv)
}

// UploadDocument handles POST /api/invoices/:id/documents (multipart
// fields "kind" and "file")
func (h *Handlers) UploadDocument(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	content, err := readFormFile(fh)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	doc, err := h.documents.ValidateSpreadsheet(c.Request.Context(), currentActor(c), c.Param("id"), service.UploadDocumentInput{
		Kind:     entity.DocumentKind(strings.ToUpper(c.PostForm("kind"))),
		FileName: fh.Filename,
		Content:  content,
	})
	if err != nil {
		h.respondError(c, "upload document", err)
		return
	}
	respond(c, http.StatusCreated, doc)
}

// ListDocuments handles GET /api/invoices/:id/documents
func (h *Handlers) ListDocuments(c *gin.Context) {
	docs, err := h.documents.ListDocuments(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "list documents", err)
		return
	}
	respond(c, http.StatusOK, docs)
}

// GetMyDelegation handles GET /api/delegations/mine
func (h *Handlers) GetMyDelegation(c *gin.Context) {
	rec, err := h.delegations.Get(c.Request.Context(), currentActor(c).ID)
	if err != nil {
		h.respondError(c, "get delegation", err)
		return
	}
	respond(c, http.StatusOK, rec)
}

// SetMyDelegation handles PUT /api/delegations/mine
func (h *Handlers) SetMyDelegation(c *gin.Context) {
	var req DelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "to_actor_id and duration_days are required")
		return
	}

	rec, err := h.delegations.SetDelegation(c.Request.Context(), currentActor(c), req.ToActorID, req.DurationDays)
	if err != nil {
		h.respondError(c, "set delegation", err)
		return
	}
	respond(c, http.StatusOK, rec)
}

// RevokeMyDelegation handles DELETE /api/delegations/mine
func (h *Handlers) RevokeMyDelegation(c *gin.Context) {
	actor := currentActor(c)
	if err := h.delegations.Revoke(c.Request.Context(), actor, actor.ID); err != nil {
		h.respondError(c, "revoke delegation", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// IncomingDelegations handles GET /api/delegations/incoming
func (h *Handlers) IncomingDelegations(c *gin.Context) {
	ids, err := h.delegations.GetActiveDelegatesFor(c.Request.Context(), currentActor(c).ID)
	if err != nil {
		h.respondError(c, "list incoming delegations", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respond(c, http.StatusOK, gin.H{"delegators": ids})
}

// ExtractionEvent handles POST /internal/extraction-events
func (h *Handlers) ExtractionEvent(c *gin.Context) {
	var evt service.ExtractionEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		badRequest(c, "invalid extraction event: "+err.Error())
		return
	}
	if evt.InvoiceID == "" {
		badRequest(c, "invoiceId is required")
		return
	}

	inv, err := h.invoices.ApplyExtractionEvent(c.Request.Context(), evt)
	if err != nil {
		h.respondError(c, "apply extraction event", err)
		return
	}
	respond(c, http.StatusOK, inv)
}

func bindDecision(c *gin.Context) (workflow.Decision, string, bool) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "decision is required")
		return "", "", false
	}
	decision, err := workflow.ParseDecision(strings.ToUpper(strings.TrimSpace(req.Decision)))
	if err != nil {
		badRequest(c, err.Error())
		return "", "", false
	}
	return decision, strings.TrimSpace(req.Notes), true
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxUploadSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxUploadSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(content) > maxUploadSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxUploadSize)
	}
	return content, nil
}
