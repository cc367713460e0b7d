package lane

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcher_SameLaneIsSerial(t *testing.T) {
	d := NewDispatcher()
	var order []int32
	var mu sync.Mutex

	mk := func(n int32) Task {
		return func(ctx context.Context) (any, error) {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return n, nil
		}
	}

	f1 := d.EnqueueInLane(Main, mk(1))
	f2 := d.EnqueueInLane(Main, mk(2))
	f3 := d.EnqueueInLane(Main, mk(3))

	ctx := context.Background()
	_, _ = f1.Wait(ctx)
	_, _ = f2.Wait(ctx)
	_, _ = f3.Wait(ctx)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected strict FIFO completion order, got %v", order)
	}
}

func TestDispatcher_DifferentLanesRunInParallel(t *testing.T) {
	d := NewDispatcher()
	start := time.Now()

	f1 := d.EnqueueInLane(SessionLane("agent:main:slack:direct:u1"), sleepTask(100*time.Millisecond))
	f2 := d.EnqueueInLane(SessionLane("agent:main:slack:direct:u1"), sleepTask(100*time.Millisecond))
	f3 := d.EnqueueInLane(SessionLane("agent:main:slack:direct:u2"), sleepTask(100*time.Millisecond))

	ctx := context.Background()
	_, _ = f1.Wait(ctx)
	_, _ = f2.Wait(ctx)
	_, _ = f3.Wait(ctx)

	elapsed := time.Since(start)
	if elapsed > 280*time.Millisecond {
		t.Fatalf("expected ~200ms wall time (two serial + one parallel), got %v", elapsed)
	}
}

func sleepTask(d time.Duration) Task {
	return func(ctx context.Context) (any, error) {
		time.Sleep(d)
		return nil, nil
	}
}

func TestDispatcher_ClearLaneDropsPendingOnly(t *testing.T) {
	d := NewDispatcher()
	d.SetMaxConcurrent(Main, 1)

	block := make(chan struct{})
	var started atomic.Bool
	first := d.EnqueueInLane(Main, func(ctx context.Context) (any, error) {
		started.Store(true)
		<-block
		return nil, nil
	})

	for !started.Load() {
		time.Sleep(time.Millisecond)
	}

	second := d.EnqueueInLane(Main, sleepTask(0))
	third := d.EnqueueInLane(Main, sleepTask(0))

	dropped := d.ClearLane(Main)
	if dropped != 2 {
		t.Fatalf("expected 2 dropped pending tasks, got %d", dropped)
	}

	close(block)
	ctx := context.Background()
	if _, err := first.Wait(ctx); err != nil {
		t.Fatalf("in-flight task should not be cancelled: %v", err)
	}
	if _, err := second.Wait(ctx); err == nil {
		t.Fatal("expected cleared future to resolve with an error")
	}
	if _, err := third.Wait(ctx); err == nil {
		t.Fatal("expected cleared future to resolve with an error")
	}
}

func TestDispatcher_PanicIsReportedNotFatal(t *testing.T) {
	d := NewDispatcher()
	f := d.EnqueueInLane(Main, func(ctx context.Context) (any, error) {
		panic("boom")
	})

	_, err := f.Wait(context.Background())
	if err == nil {
		t.Fatal("expected panic to surface as a future error")
	}

	// The lane must not be wedged: a follow-up task still completes.
	f2 := d.EnqueueInLane(Main, sleepTask(0))
	if _, err := f2.Wait(context.Background()); err != nil {
		t.Fatalf("lane should still drain after a panic: %v", err)
	}
}

func TestDispatcher_QueueSizeCountsActiveAndPending(t *testing.T) {
	d := NewDispatcher()
	d.SetMaxConcurrent(Main, 1)
	block := make(chan struct{})

	d.EnqueueInLane(Main, func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})
	d.EnqueueInLane(Main, sleepTask(0))

	time.Sleep(10 * time.Millisecond)
	if size := d.QueueSize(Main); size != 2 {
		t.Fatalf("expected queueSize 2 (1 active + 1 pending), got %d", size)
	}
	close(block)
}
