package shutdown

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vidrender/internal/pkg/logger"
)

func newTestLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Config{
		Level:  "debug",
		Format: "json",
		Output: buf,
	})
}

func TestNewManagerDefaults(t *testing.T) {
	mgr := NewManager(nil, 0)
	if mgr.timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", mgr.timeout)
	}
}

func TestRegister(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	mgr.Register("test", func(ctx context.Context) error { return nil })

	if len(mgr.handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(mgr.handlers))
	}
	if mgr.handlers[0].Name != "test" {
		t.Errorf("expected handler name 'test', got %s", mgr.handlers[0].Name)
	}
}

func TestRegisterSimple(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var called bool
	mgr.RegisterSimple("simple", func() { called = true })

	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected simple handler to be called")
	}
}

func TestShutdownRunsHandlersInReverseOrder(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var order []string
	for _, name := range []string{"storage", "renderer", "http-server"} {
		mgr.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "http-server,renderer,storage"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected order %s, got %s", want, got)
	}
}

func TestShutdownJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	mgr := NewManager(newTestLogger(&buf), 5*time.Second)

	boom := errors.New("boom")
	ran := false
	mgr.Register("after", func(ctx context.Context) error {
		ran = true
		return nil
	})
	mgr.Register("failing", func(ctx context.Context) error { return boom })

	err := mgr.Shutdown()
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "failing") {
		t.Errorf("expected handler name in error, got %v", err)
	}
	if !ran {
		t.Error("a failing handler must not stop the remaining handlers")
	}
	if !strings.Contains(buf.String(), "shutdown handler failed") {
		t.Errorf("expected failure to be logged, got: %s", buf.String())
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	calls := 0
	mgr.RegisterSimple("count", func() { calls++ })

	_ = mgr.Shutdown()
	_ = mgr.Shutdown()

	if calls != 1 {
		t.Errorf("expected handler to run once, ran %d times", calls)
	}
}

func TestDoneAndContext(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)
	ctx := mgr.Context()

	select {
	case <-mgr.Done():
		t.Fatal("expected done channel to be open initially")
	case <-ctx.Done():
		t.Fatal("expected context to be live initially")
	default:
	}

	_ = mgr.Shutdown()

	select {
	case <-mgr.Done():
	case <-time.After(time.Second):
		t.Error("expected done channel to be closed after shutdown")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("expected context to be canceled after shutdown")
	}
}

func TestShutdownTimeoutIsShared(t *testing.T) {
	mgr := NewManager(logger.Discard(), 100*time.Millisecond)

	mgr.Register("slow", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	start := time.Now()
	err := mgr.Shutdown()

	if time.Since(start) > time.Second {
		t.Errorf("shutdown took too long: %v", time.Since(start))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestWaitReturnsWhenContextEnds(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	called := make(chan struct{})
	mgr.RegisterSimple("http-server", func() { close(called) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := mgr.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-called:
	default:
		t.Error("expected handler to run")
	}
}
