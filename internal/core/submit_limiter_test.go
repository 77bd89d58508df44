package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSubmitLimiter_AcquireRelease(t *testing.T) {
	limiter := NewSubmitLimiter(2, time.Second)
	ctx := context.Background()

	release1, err := limiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	release2, err := limiter.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if got := limiter.Status(); got.Active != 2 || got.Available != 0 {
		t.Errorf("Status() = %+v, want 2 active, 0 available", got)
	}

	release1()
	release1() // second call is a no-op

	if got := limiter.Active(); got != 1 {
		t.Errorf("after release, Active = %d, want 1", got)
	}

	release2()
	if got := limiter.Status(); got.Active != 0 || got.Available != 2 {
		t.Errorf("Status() = %+v, want all slots free", got)
	}
}

func TestSubmitLimiter_TimesOutWhenFull(t *testing.T) {
	limiter := NewSubmitLimiter(1, 50*time.Millisecond)

	release, err := limiter.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = limiter.Acquire(context.Background())
	if err != ErrTooManySubmissions {
		t.Errorf("expected ErrTooManySubmissions, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("timeout too fast: %v", elapsed)
	}
}

func TestSubmitLimiter_ContextCancellation(t *testing.T) {
	limiter := NewSubmitLimiter(1, 5*time.Second)

	release, err := limiter.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := limiter.Acquire(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after context cancellation")
	}
}

func TestSubmitLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewSubmitLimiter(maxConcurrent, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := limiter.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			mu.Lock()
			if n := limiter.Active(); n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("exceeded max concurrent: observed %d, max %d", maxObserved, maxConcurrent)
	}
	if got := limiter.Active(); got != 0 {
		t.Errorf("final Active = %d, want 0", got)
	}
}

func TestSubmitLimiter_WaitForDrain(t *testing.T) {
	limiter := NewSubmitLimiter(2, time.Second)
	release, _ := limiter.Acquire(context.Background())

	done := make(chan error, 1)
	go func() { done <- limiter.WaitForDrain(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitForDrain returned with an active submission")
	case <-time.After(30 * time.Millisecond):
	}

	release()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForDrain error = %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not return after release")
	}
}

func TestSubmitLimiter_Defaults(t *testing.T) {
	limiter := NewSubmitLimiter(0, 0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentSubmissions {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentSubmissions)
	}
}
