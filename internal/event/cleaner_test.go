package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCleanerRunsCallablesInOrder(t *testing.T) {
	exited := make(chan int, 1)
	c := &Cleaner{
		timeout: time.Second,
		exit:    func(code int) { exited <- code },
		done:    make(chan struct{}),
	}

	var mu sync.Mutex
	var order []string
	record := func(name string, err error) Callable {
		return CallableFunc(func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("cleaner %s invoked without deadline", name)
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		})
	}

	c.Add(record("server", nil))
	c.Add(record("directory", errors.New("boom")))
	c.Init(record("logger", nil))
	c.Shutdown()

	select {
	case code := <-exited:
		if code != 0 {
			t.Errorf("expected exit code 0, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cleaner did not finish")
	}
	<-c.Done()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "server" || order[1] != "directory" || order[2] != "logger" {
		t.Errorf("unexpected cleanup order %v", order)
	}

	c.Add(record("late", nil))
	if len(c.cleaners) != 2 {
		t.Error("cleaner accepted a callable after shutdown started")
	}
}
