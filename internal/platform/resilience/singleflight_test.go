package resilience

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSingleFlightCollapsesConcurrentCalls(t *testing.T) {
	var g SingleFlight
	var executions int32

	const callers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(callers)

	var shared int32
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			val, err, wasShared := g.Do("bootstrap", func() (any, error) {
				atomic.AddInt32(&executions, 1)
				time.Sleep(20 * time.Millisecond)
				return 42, nil
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
			if val != 42 {
				t.Errorf("unexpected value: %v", val)
			}
			if wasShared {
				atomic.AddInt32(&shared, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&executions); got != 1 {
		t.Fatalf("expected one execution, got %d", got)
	}
	if got := atomic.LoadInt32(&shared); got != callers-1 {
		t.Fatalf("expected %d shared results, got %d", callers-1, got)
	}
}

func TestSingleFlightKeysAreIndependent(t *testing.T) {
	var g SingleFlight
	var executions int32

	for _, key := range []string{"fixtures", "bootstrap"} {
		if _, err, _ := g.Do(key, func() (any, error) {
			atomic.AddInt32(&executions, 1)
			return nil, nil
		}); err != nil {
			t.Fatalf("do %s: %v", key, err)
		}
	}

	if got := atomic.LoadInt32(&executions); got != 2 {
		t.Fatalf("expected independent execution per key, got %d", got)
	}
}
