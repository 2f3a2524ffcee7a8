package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/sketchbridge/idgen"
)

func fixedRegistry(ids ...string) *Registry {
	return New(WithGenerator(idgen.Fixed(idgen.Default, ids...)))
}

func TestRegister_FreshIDs(t *testing.T) {
	r := New()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		f, err := r.Register()
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if seen[f.ID()] {
			t.Fatalf("duplicate id %q", f.ID())
		}
		seen[f.ID()] = true
	}
	if r.Len() != 50 {
		t.Fatalf("len: got %d, want 50", r.Len())
	}
}

func TestRegister_CollidingGenerator(t *testing.T) {
	r := New(WithGenerator(func() string { return "same" }))
	if _, err := r.Register(); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := r.Register(); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("second register: got %v, want ErrDuplicateID", err)
	}
	if r.Len() != 1 {
		t.Fatalf("len: got %d, want 1", r.Len())
	}
}

func TestComplete_ResolvesAndRemoves(t *testing.T) {
	r := fixedRegistry("abc")
	f, err := r.Register()
	if err != nil {
		t.Fatal(err)
	}
	if f.ID() != "abc" {
		t.Fatalf("id: got %q, want abc", f.ID())
	}
	if _, err := f.Peek(); !errors.Is(err, ErrPending) {
		t.Fatalf("peek before resolve: got %v, want ErrPending", err)
	}
	if err := r.Complete("abc", []byte("<svg/>"), nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Pending("abc") {
		t.Fatal("entry still pending after complete")
	}
	val, err := f.Wait(context.Background())
	if err != nil || string(val) != "<svg/>" {
		t.Fatalf("wait: got (%q, %v)", val, err)
	}
}

func TestComplete_UnknownID(t *testing.T) {
	r := fixedRegistry("abc")
	f, _ := r.Register()
	if err := r.Complete("xyz", []byte("late"), nil); !errors.Is(err, ErrCorrelationMismatch) {
		t.Fatalf("got %v, want ErrCorrelationMismatch", err)
	}
	if !r.Pending("abc") {
		t.Fatal("unrelated entry was touched")
	}
	if _, err := f.Peek(); !errors.Is(err, ErrPending) {
		t.Fatalf("future resolved by mismatched id: %v", err)
	}
}

func TestComplete_AtMostOnce(t *testing.T) {
	r := fixedRegistry("abc")
	f, _ := r.Register()
	if err := r.Complete("abc", []byte("first"), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete("abc", []byte("second"), nil); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second complete: got %v, want ErrAlreadyResolved", err)
	}
	val, _ := f.Peek()
	if string(val) != "first" {
		t.Fatalf("value: got %q, want first", val)
	}
}

func TestComplete_ForgetsOldResolutions(t *testing.T) {
	r := New(WithGenerator(idgen.Fixed(idgen.Default, "a", "b", "c")), WithResolvedMemory(2))
	for i := 0; i < 3; i++ {
		f, _ := r.Register()
		r.Complete(f.ID(), nil, nil)
	}
	if err := r.Complete("a", nil, nil); !errors.Is(err, ErrCorrelationMismatch) {
		t.Fatalf("oldest id: got %v, want ErrCorrelationMismatch", err)
	}
	if err := r.Complete("c", nil, nil); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("recent id: got %v, want ErrAlreadyResolved", err)
	}
}

func TestCancelAll(t *testing.T) {
	r := New()
	var futures []*Future
	for i := 0; i < 3; i++ {
		f, _ := r.Register()
		futures = append(futures, f)
	}
	reason := errors.New("panel closed")
	if n := r.CancelAll(reason); n != 3 {
		t.Fatalf("cancelled: got %d, want 3", n)
	}
	if r.Len() != 0 {
		t.Fatalf("len after cancel: %d", r.Len())
	}
	for _, f := range futures {
		_, err := f.Peek()
		if !errors.Is(err, ErrCancelled) || !errors.Is(err, reason) {
			t.Fatalf("future %s: got %v, want ErrCancelled wrapping reason", f.ID(), err)
		}
		if err := r.Complete(f.ID(), []byte("late"), nil); !errors.Is(err, ErrAlreadyResolved) {
			t.Fatalf("late response: got %v, want ErrAlreadyResolved", err)
		}
	}
}

func TestFuture_ConcurrentWaiters(t *testing.T) {
	r := New()
	f, _ := r.Register()

	var wg sync.WaitGroup
	results := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := f.Wait(context.Background())
			results <- fmt.Sprintf("%s/%v", val, err)
		}()
	}
	r.Complete(f.ID(), []byte("ok"), nil)
	wg.Wait()
	close(results)
	for got := range results {
		if got != "ok/<nil>" {
			t.Fatalf("waiter: got %q", got)
		}
	}
}

func TestFuture_WaitContext(t *testing.T) {
	r := New()
	f, _ := r.Register()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if !r.Pending(f.ID()) {
		t.Fatal("caller timeout must not resolve the entry")
	}
}
