package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/garyjia/invoice-approval/internal/application/dispatcher"
	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/event"
	"github.com/garyjia/invoice-approval/internal/domain/workflow"
)

// memInvoiceRepo is an in-memory InvoiceRepository with version checks
type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*entity.Invoice
	order    []string
	updates  int
	// limits passed to ListByStatus, in call order
	statusLimits []int

	// getHook runs after a read, outside the lock
	getHook   func()
	updateErr error
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{invoices: make(map[string]*entity.Invoice)}
}

func (m *memInvoiceRepo) put(inv *entity.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; !ok {
		m.order = append(m.order, inv.ID)
	}
	m.invoices[inv.ID] = inv.Clone()
}

func (m *memInvoiceRepo) stored(id string) *entity.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id].Clone()
}

func (m *memInvoiceRepo) Create(_ context.Context, inv *entity.Invoice) error {
	m.put(inv)
	return nil
}

func (m *memInvoiceRepo) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	m.mu.Lock()
	inv := m.invoices[id].Clone()
	hook := m.getHook
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return inv, nil
}

func (m *memInvoiceRepo) Update(_ context.Context, inv *entity.Invoice, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	current, ok := m.invoices[inv.ID]
	if !ok || current.Version != expected {
		return port.ErrVersionConflict
	}
	inv.Version = expected + 1
	m.invoices[inv.ID] = inv.Clone()
	m.updates++
	return nil
}

func (m *memInvoiceRepo) List(_ context.Context, limit, offset int) ([]*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Invoice
	for i := offset; i < len(m.order) && len(out) < limit; i++ {
		out = append(out, m.invoices[m.order[i]].Clone())
	}
	return out, nil
}

func (m *memInvoiceRepo) ListByStatus(_ context.Context, status workflow.Status, limit, offset int) ([]*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusLimits = append(m.statusLimits, limit)
	var out []*entity.Invoice
	skipped := 0
	for _, id := range m.order {
		if m.invoices[id].Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m.invoices[id].Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memInvoiceRepo) DistinctStatuses(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, inv := range m.invoices {
		if !seen[string(inv.Status)] {
			seen[string(inv.Status)] = true
			out = append(out, string(inv.Status))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memInvoiceRepo) RewriteStatus(_ context.Context, from string, to workflow.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, inv := range m.invoices {
		if string(inv.Status) == from {
			inv.Status = to
			inv.Version++
			n++
		}
	}
	return n, nil
}

type memProcurement struct {
	pos map[string]*entity.PurchaseOrder
	grs map[string]*entity.GoodsReceipt
}

func (m *memProcurement) GetPurchaseOrder(_ context.Context, number string) (*entity.PurchaseOrder, error) {
	return m.pos[number], nil
}

func (m *memProcurement) GetGoodsReceipt(_ context.Context, poNumber string) (*entity.GoodsReceipt, error) {
	return m.grs[poNumber], nil
}

type memActors struct {
	mu     sync.Mutex
	actors map[string]*entity.Actor
}

func (m *memActors) GetByID(_ context.Context, id string) (*entity.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actors[id], nil
}

func (m *memActors) Upsert(_ context.Context, actor *entity.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[actor.ID] = actor
	return nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*entity.AuditEntry
	err     error
}

func (m *memAuditRepo) Append(_ context.Context, e *entity.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAuditRepo) ListByInvoice(_ context.Context, id string) ([]*entity.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.AuditEntry
	for _, e := range m.entries {
		if e.InvoiceID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAuditRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type memDelegationRepo struct {
	mu      sync.Mutex
	records map[string]entity.Delegation
}

func (m *memDelegationRepo) Get(_ context.Context, from string) (*entity.Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[from]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memDelegationRepo) Save(_ context.Context, rec *entity.Delegation, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[rec.FromActorID]
	if (expected == 0 && ok) || (expected != 0 && (!ok || current.Version != expected)) {
		return port.ErrVersionConflict
	}
	rec.Version = expected + 1
	m.records[rec.FromActorID] = *rec
	return nil
}

func (m *memDelegationRepo) ListActiveTo(_ context.Context, to string) ([]*entity.Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Delegation
	for _, rec := range m.records {
		if rec.Active && rec.ToActorID == to {
			r := rec
			out = append(out, &r)
		}
	}
	return out, nil
}

// recordingDispatcher captures events synchronously
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

var _ dispatcher.Dispatcher = (*recordingDispatcher)(nil)

func (r *recordingDispatcher) Subscribe(event.Type, string, dispatcher.Handler)       {}
func (r *recordingDispatcher) SubscribeAll([]event.Type, string, dispatcher.Handler) {}
func (r *recordingDispatcher) ListHandlers(event.Type) []dispatcher.HandlerInfo      { return nil }
func (r *recordingDispatcher) Close() error                                          { return nil }

func (r *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	r.DispatchAsync(ctx, evt)
	return nil
}

func (r *recordingDispatcher) DispatchAsync(_ context.Context, evt *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingDispatcher) ofType(t event.Type) []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

var errBoom = errors.New("boom")
