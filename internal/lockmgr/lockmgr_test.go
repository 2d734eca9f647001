package lockmgr

import (
	"sync"
	"testing"
	"time"
)

func TestSortKeysIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	a := []Key{PortfolioSymbolKey("p1", "ETHUSDT"), PortfolioKey("p1"), OrderKey("o1")}
	b := []Key{OrderKey("o1"), PortfolioKey("p1"), PortfolioSymbolKey("p1", "ETHUSDT")}

	sortedA := sortKeys(a)
	sortedB := sortKeys(b)

	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			t.Fatalf("sort order differs by input order at index %d: %v vs %v", i, sortedA[i], sortedB[i])
		}
	}
}

func TestWithLocksExcludesConcurrentHolders(t *testing.T) {
	m := New(2 * time.Second)
	key := PortfolioKey("p1")

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLocks([]Key{key}, func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected mutual exclusion (max concurrent = 1), saw %d", maxInside)
	}
}

func TestWithLocksForceReleasesOnTimeout(t *testing.T) {
	m := New(20 * time.Millisecond)
	key := PortfolioKey("p1")

	blocker := make(chan struct{})
	go func() {
		_ = m.WithLocks([]Key{key}, func() error {
			<-blocker
			return nil
		})
	}()

	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = m.WithLocks([]Key{key}, func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("second WithLocks never returned; timeout force-release did not happen")
	}
	close(blocker)
}

func TestClearAllWakesWaiters(t *testing.T) {
	m := New(5 * time.Second)
	key := PortfolioKey("p1")

	blocker := make(chan struct{})
	go func() {
		_ = m.WithLocks([]Key{key}, func() error {
			<-blocker
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = m.WithLocks([]Key{key}, func() error { return nil })
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	m.ClearAll()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("ClearAll did not wake the waiting goroutine")
	}
	close(blocker)
}
