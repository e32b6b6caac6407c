package lifecycle

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestTeardownRunsInReverseOrderOnce(t *testing.T) {
	td := NewTeardown(nil)
	var order []string
	for _, name := range []string{"disconnect", "remove temp", "stop server", "stop media"} {
		td.Push(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	td.Run()
	td.Run()

	want := []string{"stop media", "stop server", "remove temp", "disconnect"}
	if !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestTeardownSwallowsFailuresAndPanics(t *testing.T) {
	td := NewTeardown(nil)
	var ran []string
	td.Push("first", func() error {
		ran = append(ran, "first")
		return nil
	})
	td.Push("panics", func() error {
		panic("boom")
	})
	td.Push("fails", func() error {
		ran = append(ran, "fails")
		return errors.New("stop failed")
	})

	td.Run()

	if !slices.Equal(ran, []string{"fails", "first"}) {
		t.Fatalf("ran = %v", ran)
	}
}

func TestTeardownConcurrentRunIsExactlyOnce(t *testing.T) {
	td := NewTeardown(nil)
	var mu sync.Mutex
	calls := 0
	td.Push("count", func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			td.Run()
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestTeardownIgnoresStepsPushedAfterRun(t *testing.T) {
	td := NewTeardown(nil)
	td.Run()

	called := false
	td.Push("late", func() error {
		called = true
		return nil
	})
	td.Run()

	if called {
		t.Fatal("late step ran")
	}
}
