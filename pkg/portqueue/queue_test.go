package portqueue_test

import (
	"testing"
	"time"

	"github.com/flowpathio/flowpath/pkg/portqueue"
)

func TestPushPopFIFO(t *testing.T) {
	q := portqueue.New[int](4)
	for i := 0; i < 3; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		v, err := q.Pop()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != i {
			t.Fatalf("got %d, want %d", v, i)
		}
	}
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := portqueue.New[int](1)
	if err := q.Push(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = q.Push(2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected Push to block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := q.Pop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the blocked Push to unblock after a Pop freed capacity")
	}
}

func TestCloseUnblocksPendingPushAndDrainsPop(t *testing.T) {
	q := portqueue.New[int](1)
	if err := q.Push(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Push(2)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	if err := <-done; err != portqueue.ErrQueueClosed {
		t.Fatalf("got %v, want ErrQueueClosed", err)
	}

	v, err := q.Pop()
	if err != nil {
		t.Fatalf("expected the queued item to still drain: %v", err)
	}
	if v != 1 {
		t.Fatalf("got %d, want 1", v)
	}

	if _, err := q.Pop(); err != portqueue.ErrQueueClosed {
		t.Fatalf("got %v, want ErrQueueClosed once drained", err)
	}
}

func TestLenReflectsPendingItems(t *testing.T) {
	q := portqueue.New[int](4)
	if q.Len() != 0 {
		t.Fatalf("got %d, want 0", q.Len())
	}
	_ = q.Push(1)
	_ = q.Push(2)
	if q.Len() != 2 {
		t.Fatalf("got %d, want 2", q.Len())
	}
}
