package queue

import (
	"context"
	"testing"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/log"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	l, err := log.New(log.Config{Level: "error", Format: "text"})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	return New(l, nil)
}

func mkAlert(name string) alert.Alert {
	return alert.Alert{Labels: map[string]string{"alertname": name, "instance": "host-01"}}
}

func TestEnqueueDrainFIFO(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(mkAlert("A"))
	q.Enqueue(mkAlert("B"))
	q.Enqueue(mkAlert("C"))

	var order []string
	q.Drain(context.Background(), func(_ context.Context, qa QueuedAlert) error {
		order = append(order, qa.Alert.Name())
		return nil
	})

	want := []string{"A", "B", "C"}
	if len(order) != len(want) {
		t.Fatalf("drained %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if q.Depth() != 0 {
		t.Errorf("Depth() = %d, want 0 after full drain", q.Depth())
	}
}

func TestEnqueueOverflowDropsOldest(t *testing.T) {
	q := newTestQueue(t)
	q.capacity = 2

	q.Enqueue(mkAlert("A"))
	q.Enqueue(mkAlert("B"))
	q.Enqueue(mkAlert("C"))

	if q.Depth() != 2 {
		t.Fatalf("Depth() = %d, want 2", q.Depth())
	}

	var order []string
	q.Drain(context.Background(), func(_ context.Context, qa QueuedAlert) error {
		order = append(order, qa.Alert.Name())
		return nil
	})

	want := []string{"B", "C"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("drained %v, want %v", order, want)
	}
}

func TestDrainStopsOnError(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(mkAlert("A"))
	q.Enqueue(mkAlert("B"))

	calls := 0
	q.Drain(context.Background(), func(_ context.Context, qa QueuedAlert) error {
		calls++
		return errBoom
	})

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if q.Depth() != 2 {
		t.Errorf("Depth() = %d, want 2 (nothing removed on failure)", q.Depth())
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
