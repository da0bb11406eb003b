package router

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestKeyedLock_SerialisesSameKey(t *testing.T) {
	var k keyedLock
	var (
		running atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("whatsapp:628111")
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			running.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("holders of the same key overlapped")
	}
	if n := k.len(); n != 0 {
		t.Errorf("expected empty lock table, got %d", n)
	}
}

func TestKeyedLock_DistinctKeysDoNotBlock(t *testing.T) {
	var k keyedLock
	unlockA := k.lock("a")
	unlockB := k.lock("b")
	if n := k.len(); n != 2 {
		t.Errorf("expected 2 held keys, got %d", n)
	}
	unlockA()
	unlockB()
	if n := k.len(); n != 0 {
		t.Errorf("expected empty lock table, got %d", n)
	}
}
