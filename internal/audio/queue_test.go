package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTransmissionQueueDropsWhenFull(t *testing.T) {
	q := NewTransmissionQueue(3)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			q.Enqueue([]byte{byte(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	if q.Dropped() != 7 {
		t.Fatalf("dropped = %d, want 7", q.Dropped())
	}
}

func TestTransmissionQueueStopAfterItems(t *testing.T) {
	q := NewTransmissionQueue(5)
	for i := 0; i < 4; i++ {
		if !q.Enqueue([]byte{byte(i)}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	q.Stop()
	q.Stop()

	if q.Enqueue([]byte{99}) {
		t.Fatal("enqueue after stop must be rejected")
	}

	ctx := context.Background()
	var got []byte
	for {
		item, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if item.Stop {
			break
		}
		got = append(got, item.Frame[0])
	}

	if len(got) != 4 {
		t.Fatalf("drained %d items before stop, want 4", len(got))
	}
	for i, b := range got {
		if int(b) != i {
			t.Fatalf("item %d = %d, out of order", i, b)
		}
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrQueueStopped) {
		t.Fatalf("expected ErrQueueStopped, got %v", err)
	}
}

func TestTransmissionQueueDequeueBlocksUntilItem(t *testing.T) {
	q := NewTransmissionQueue(2)
	result := make(chan QueueItem, 1)
	go func() {
		item, _ := q.Dequeue(context.Background())
		result <- item
	}()

	select {
	case <-result:
		t.Fatal("Dequeue returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Enqueue([]byte{7})
	select {
	case item := <-result:
		if item.Stop || item.Frame[0] != 7 {
			t.Fatalf("unexpected item %+v", item)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up")
	}
}

func TestTransmissionQueueStopWakesConsumer(t *testing.T) {
	q := NewTransmissionQueue(2)
	result := make(chan QueueItem, 1)
	go func() {
		item, _ := q.Dequeue(context.Background())
		result <- item
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case item := <-result:
		if !item.Stop {
			t.Fatalf("expected stop item, got %+v", item)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not wake consumer")
	}
}

func TestTransmissionQueueDequeueCanceled(t *testing.T) {
	q := NewTransmissionQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTransmissionQueueConcurrentProducer(t *testing.T) {
	q := NewTransmissionQueue(8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			q.Enqueue([]byte{byte(i)})
		}
		q.Stop()
	}()

	received := 0
	for {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if item.Stop {
			break
		}
		received++
	}
	wg.Wait()

	if int64(received)+q.Dropped() != 1000 {
		t.Fatalf("received %d + dropped %d != 1000", received, q.Dropped())
	}
}
