package staging

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/yeti47/crop-exporter/frames"
	"github.com/yeti47/crop-exporter/metrics"
)

func record(name string) *frames.Record {
	return &frames.Record{DestinationPath: name, Format: frames.FormatPNG}
}

func paths(records []*frames.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.DestinationPath
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueue_DropOldest(t *testing.T) {
	m := metrics.NewPipeline(prometheus.NewRegistry(), "c1")
	q := NewQueue(3, m)

	for _, name := range []string{"A", "B", "C", "D"} {
		q.Enqueue(record(name))
	}

	got := paths(q.Snapshot())
	if !equalStrings(got, []string{"B", "C", "D"}) {
		t.Errorf("Expected [B C D], got %v", got)
	}
	if q.Dropped() != 1 {
		t.Errorf("Expected 1 dropped record, got %d", q.Dropped())
	}
	if v := testutil.ToFloat64(m.Dropped); v != 1 {
		t.Errorf("Expected dropped metric 1, got %v", v)
	}
	if v := testutil.ToFloat64(m.QueueDepth); v != 3 {
		t.Errorf("Expected queue depth 3, got %v", v)
	}
}

func TestQueue_RetainsMostRecentInOrder(t *testing.T) {
	for _, n := range []int{1, 5, 10, 11, 37} {
		q := NewQueue(10, nil)
		var want []string
		for i := 0; i < n; i++ {
			name := string(rune('a' + i%26))
			if i >= 26 {
				name += "2"
			}
			q.Enqueue(record(name))
			want = append(want, name)
		}
		if len(want) > 10 {
			want = want[len(want)-10:]
		}

		got := paths(q.Snapshot())
		if !equalStrings(got, want) {
			t.Errorf("n=%d: expected %v, got %v", n, want, got)
		}
		if q.Len() > q.Capacity() {
			t.Errorf("n=%d: length %d exceeds capacity %d", n, q.Len(), q.Capacity())
		}
	}
}

func TestQueue_DefaultCapacity(t *testing.T) {
	q := NewQueue(0, nil)
	if q.Capacity() != DefaultQueueCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultQueueCapacity, q.Capacity())
	}
}

func TestQueue_DequeueFIFO(t *testing.T) {
	q := NewQueue(3, nil)
	q.Enqueue(record("A"))
	q.Enqueue(record("B"))

	for _, want := range []string{"A", "B"} {
		r, ok := q.Dequeue()
		if !ok {
			t.Fatal("Expected a record")
		}
		if r.DestinationPath != want {
			t.Errorf("Expected %s, got %s", want, r.DestinationPath)
		}
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue(3, nil)
	got := make(chan string, 1)

	go func() {
		r, ok := q.Dequeue()
		if ok {
			got <- r.DestinationPath
		}
	}()

	select {
	case <-got:
		t.Fatal("Dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(record("A"))

	select {
	case name := <-got:
		if name != "A" {
			t.Errorf("Expected A, got %s", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Dequeue")
	}
}

func TestQueue_CloseWakesConsumers(t *testing.T) {
	q := NewQueue(3, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.Dequeue(); ok {
				t.Error("Expected Dequeue to report shutdown")
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for consumers to wake")
	}
}

func TestQueue_CloseAndDiscard(t *testing.T) {
	q := NewQueue(5, nil)
	q.Enqueue(record("A"))
	q.Enqueue(record("B"))
	q.Close()

	if _, ok := q.Dequeue(); ok {
		t.Error("Expected closed queue to stop handing out records")
	}

	q.Enqueue(record("C"))
	if n := q.Discard(); n != 2 {
		t.Errorf("Expected 2 discarded resident records, got %d", n)
	}
	if q.Discarded() != 3 {
		t.Errorf("Expected 3 discarded records in total, got %d", q.Discarded())
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Len())
	}

	q.Reopen()
	q.Enqueue(record("D"))
	r, ok := q.Dequeue()
	if !ok || r.DestinationPath != "D" {
		t.Error("Expected reopened queue to accept and hand out records")
	}
}
