package reactive

import (
	"sync"
	"testing"
)

func TestValue_GetSet(t *testing.T) {
	v := NewValue(3)
	if got := v.Get(); got != 3 {
		t.Fatalf("Get: got %d, want 3", got)
	}
	v.Set(7)
	if got := v.Get(); got != 7 {
		t.Errorf("Get after Set: got %d, want 7", got)
	}
}

func TestValue_Subscribe(t *testing.T) {
	v := NewValue("a")
	var seen []string
	cancel := v.Subscribe(func(s string) { seen = append(seen, s) })

	v.Set("b")
	v.Set("c")
	cancel()
	v.Set("d")
	cancel() // second cancel is a no-op

	if len(seen) != 2 || seen[0] != "b" || seen[1] != "c" {
		t.Errorf("notifications: got %v, want [b c]", seen)
	}
}

func TestValue_Update(t *testing.T) {
	v := NewValue(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Update(func(n int) int { return n + 1 })
		}()
	}
	wg.Wait()

	if got := v.Get(); got != 100 {
		t.Errorf("concurrent Update: got %d, want 100", got)
	}
}

func TestValue_SubscriberMaySet(t *testing.T) {
	v := NewValue(0)
	other := NewValue(0)
	v.Subscribe(func(n int) { other.Set(n * 2) })

	v.Set(21)
	if got := other.Get(); got != 42 {
		t.Errorf("chained value: got %d, want 42", got)
	}
}
