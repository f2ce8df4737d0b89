package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/invoice-approval/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, fmt.Sprint(append([]interface{}{msg}, keysAndValues...)...))
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "inv-1", map[string]interface{}{})
}

func TestSubscribe(t *testing.T) {
	t.Run("auto-generates a name when empty", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeInvoiceStatusChanged, "", func(ctx context.Context, evt *event.Event) error { return nil })
		d.Subscribe(event.TypeInvoiceStatusChanged, "", func(ctx context.Context, evt *event.Event) error { return nil })

		handlers := d.ListHandlers(event.TypeInvoiceStatusChanged)
		if len(handlers) != 2 {
			t.Fatalf("expected 2 handlers, got %d", len(handlers))
		}
		if handlers[0].Name != "handler-0" || handlers[1].Name != "handler-1" {
			t.Errorf("unexpected names %q, %q", handlers[0].Name, handlers[1].Name)
		}
	})

	t.Run("subscribes to several types at once", func(t *testing.T) {
		d := NewDispatcher(WithLogger(&mockLogger{}))
		d.SubscribeAll(event.NotificationTypes(), "notifier", func(ctx context.Context, evt *event.Event) error { return nil })

		for _, typ := range event.NotificationTypes() {
			handlers := d.ListHandlers(typ)
			if len(handlers) != 1 || handlers[0].Name != "notifier" {
				t.Errorf("%s: handlers = %+v", typ, handlers)
			}
		}
		if len(d.ListHandlers(event.TypeInvoiceStatusChanged)) != 0 {
			t.Error("status_changed should have no handlers")
		}
	})

	t.Run("list does not expose handler functions", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeInvoicePMApproved, "h", func(ctx context.Context, evt *event.Event) error { return nil })

		if d.ListHandlers(event.TypeInvoicePMApproved)[0].Handler != nil {
			t.Error("Handler should not be exposed")
		}
	})
}

func TestDispatch(t *testing.T) {
	t.Run("runs handlers in order", func(t *testing.T) {
		d := NewDispatcher()
		var order []string
		d.Subscribe(event.TypeInvoicePMRejected, "first", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "first")
			return nil
		})
		d.Subscribe(event.TypeInvoicePMRejected, "second", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "second")
			return nil
		})

		if err := d.Dispatch(context.Background(), newEvent(event.TypeInvoicePMRejected)); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
		if len(order) != 2 || order[0] != "first" || order[1] != "second" {
			t.Errorf("order = %v", order)
		}
	})

	t.Run("stops at first error", func(t *testing.T) {
		d := NewDispatcher(WithLogger(&mockLogger{}))
		sentinel := errors.New("boom")
		called := false
		d.Subscribe(event.TypeInvoicePMRejected, "fails", func(ctx context.Context, evt *event.Event) error { return sentinel })
		d.Subscribe(event.TypeInvoicePMRejected, "never", func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeInvoicePMRejected))
		if !errors.Is(err, sentinel) {
			t.Errorf("Dispatch() error = %v, want %v", err, sentinel)
		}
		if called {
			t.Error("second handler should not run")
		}
	})

	t.Run("recovers from panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeInvoicePMApproved, "panics", func(ctx context.Context, evt *event.Event) error {
			panic("bad handler")
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeInvoicePMApproved))
		if err == nil {
			t.Fatal("expected error from panicking handler")
		}
		if logger.ErrorCount() == 0 {
			t.Error("panic should be logged")
		}
	})

	t.Run("fails when closed", func(t *testing.T) {
		d := NewDispatcher()
		_ = d.Close()

		if err := d.Dispatch(context.Background(), newEvent(event.TypeInvoicePMApproved)); err == nil {
			t.Error("expected error after Close")
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("close waits for handlers", func(t *testing.T) {
		d := NewDispatcher()
		var done atomic.Int32
		for i := 0; i < 3; i++ {
			d.Subscribe(event.TypeInvoiceFinanceRejected, "", func(ctx context.Context, evt *event.Event) error {
				time.Sleep(10 * time.Millisecond)
				done.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), newEvent(event.TypeInvoiceFinanceRejected))
		if err := d.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if done.Load() != 3 {
			t.Errorf("completed handlers = %d, want 3", done.Load())
		}
	})

	t.Run("handlers outlive the caller's context", func(t *testing.T) {
		d := NewDispatcher()
		release := make(chan struct{})
		var ctxErr atomic.Value
		d.Subscribe(event.TypeInvoicePMApproved, "slow", func(ctx context.Context, evt *event.Event) error {
			<-release
			ctxErr.Store(fmt.Sprint(ctx.Err()))
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, newEvent(event.TypeInvoicePMApproved))
		cancel()
		close(release)
		_ = d.Close()

		if got := ctxErr.Load(); got != "<nil>" {
			t.Errorf("handler context error = %v, want <nil>", got)
		}
	})

	t.Run("applies handler timeout", func(t *testing.T) {
		d := NewDispatcher(WithHandlerTimeout(5 * time.Millisecond))
		var sawDeadline atomic.Bool
		d.Subscribe(event.TypeInvoicePMApproved, "deadline", func(ctx context.Context, evt *event.Event) error {
			_, ok := ctx.Deadline()
			sawDeadline.Store(ok)
			return nil
		})

		d.DispatchAsync(context.Background(), newEvent(event.TypeInvoicePMApproved))
		_ = d.Close()

		if !sawDeadline.Load() {
			t.Error("handler context should carry a deadline")
		}
	})

	t.Run("errors are logged not returned", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeInvoicePMRejected, "fails", func(ctx context.Context, evt *event.Event) error {
			return errors.New("lark down")
		})

		d.DispatchAsync(context.Background(), newEvent(event.TypeInvoicePMRejected))
		_ = d.Close()

		if logger.ErrorCount() != 1 {
			t.Errorf("error count = %d, want 1", logger.ErrorCount())
		}
	})

	t.Run("ignored after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Bool
		d.Subscribe(event.TypeInvoicePMRejected, "h", func(ctx context.Context, evt *event.Event) error {
			called.Store(true)
			return nil
		})
		_ = d.Close()

		d.DispatchAsync(context.Background(), newEvent(event.TypeInvoicePMRejected))
		time.Sleep(10 * time.Millisecond)

		if called.Load() {
			t.Error("handler should not run after close")
		}
		if err := d.Close(); err == nil {
			t.Error("double close should fail")
		}
	})
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Subscribe(event.TypeInvoiceStatusChanged, "", func(ctx context.Context, evt *event.Event) error {
				count.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.DispatchAsync(context.Background(), newEvent(event.TypeInvoiceStatusChanged))
		}()
	}
	wg.Wait()
	_ = d.Close()

	if count.Load() != 50 {
		t.Errorf("handler runs = %d, want 50", count.Load())
	}
}
