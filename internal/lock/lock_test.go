package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, "cb_incremental")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := m.Acquire(ctx, time.Second); err != nil {
		t.Fatal(err)
	}
	if !m.IsHeld() {
		t.Error("IsHeld = false after Acquire")
	}
	if err := m.Release(); err != nil {
		t.Fatal(err)
	}
	if m.IsHeld() {
		t.Error("IsHeld = true after Release")
	}
	// Release of an unheld mutex is a no-op.
	if err := m.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestContention(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, "cb_incremental")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(dir, "cb_incremental")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := a.Acquire(ctx, time.Second); err != nil {
		t.Fatal(err)
	}
	defer a.Release()

	// A short timeout while A holds the lock must surface ErrTimeout.
	err = b.Acquire(ctx, 150*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Acquire while held = %v, want ErrTimeout", err)
	}
	if b.IsHeld() {
		t.Error("B claims to hold the lock after timeout")
	}

	// After A releases, B can acquire.
	if err := a.Release(); err != nil {
		t.Fatal(err)
	}
	if err := b.Acquire(ctx, time.Second); err != nil {
		t.Fatalf("Acquire after release = %v", err)
	}
	_ = b.Release()
}

func TestAcquireCancelled(t *testing.T) {
	dir := t.TempDir()
	a, _ := New(dir, "cb_incremental")
	b, _ := New(dir, "cb_incremental")
	ctx := context.Background()

	if err := a.Acquire(ctx, time.Second); err != nil {
		t.Fatal(err)
	}
	defer a.Release()

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	err := b.Acquire(cctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestDifferentNamesDoNotContend(t *testing.T) {
	dir := t.TempDir()
	a, _ := New(dir, "one")
	b, _ := New(dir, "two")
	ctx := context.Background()

	if err := a.Acquire(ctx, time.Second); err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	if err := b.Acquire(ctx, time.Second); err != nil {
		t.Fatalf("different lock names contended: %v", err)
	}
	_ = b.Release()
}
