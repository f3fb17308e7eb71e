package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type countingSource struct {
	inner Source

	mu        sync.Mutex
	watches   int
	cancelled int
	failFirst int
}

func (c *countingSource) Watch(ctx context.Context, emit func(Value)) error {
	c.mu.Lock()
	c.watches++
	fail := c.failFirst > 0
	if fail {
		c.failFirst--
	}
	c.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	err := c.inner.Watch(ctx, emit)
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
	return err
}

func (c *countingSource) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watches, c.cancelled
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func newTestStream(t *testing.T, src Source, grace time.Duration) *Stream {
	t.Helper()
	stream, err := NewStream(src, WithGracePeriod(grace), WithBackOff(fastBackOff))
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	t.Cleanup(stream.Stop)
	return stream
}

func waitValue(t *testing.T, obs *Observer, want Value) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-obs.Values():
			if !ok {
				t.Fatalf("observer closed while waiting for %v", want)
			}
			if v == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %+v, current %+v", want, obs.Current())
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestNewStreamRejectsNilSource(t *testing.T) {
	if _, err := NewStream(nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestStreamInitialValueIsAbsent(t *testing.T) {
	stream := newTestStream(t, &countingSource{inner: NewMemoryStore()}, time.Second)
	obs := stream.Subscribe()
	defer obs.Close()

	if got := obs.Current(); got != Absent() {
		t.Fatalf("expected absent, got %+v", got)
	}
	select {
	case v := <-obs.Values():
		if v.Present {
			t.Fatalf("expected absent first, got %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("no initial value delivered")
	}
}

func TestStreamObserversConvergeOnLastWrite(t *testing.T) {
	store := NewMemoryStore()
	src := &countingSource{inner: store}
	stream := newTestStream(t, src, time.Second)

	a := stream.Subscribe()
	b := stream.Subscribe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	for _, token := range []string{"t1", "t2", "t3"} {
		if err := store.Set(ctx, token); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	waitValue(t, a, Present("t3"))
	waitValue(t, b, Present("t3"))

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	waitValue(t, a, Absent())
	waitValue(t, b, Absent())

	if watches, _ := src.counts(); watches != 1 {
		t.Fatalf("expected one shared upstream watch, got %d", watches)
	}
}

func TestStreamResubscribeWithinGraceReusesUpstream(t *testing.T) {
	store := NewMemoryStore()
	src := &countingSource{inner: store}
	stream := newTestStream(t, src, time.Minute)

	first := stream.Subscribe()
	eventually(t, func() bool { w, _ := src.counts(); return w == 1 })
	first.Close()

	second := stream.Subscribe()
	defer second.Close()
	time.Sleep(20 * time.Millisecond)

	watches, cancelled := src.counts()
	if watches != 1 || cancelled != 0 {
		t.Fatalf("expected reused upstream, watches=%d cancelled=%d", watches, cancelled)
	}

	if err := store.Set(context.Background(), "fresh"); err != nil {
		t.Fatalf("set: %v", err)
	}
	waitValue(t, second, Present("fresh"))
}

func TestStreamTearsDownAfterGrace(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Set(context.Background(), "kept"); err != nil {
		t.Fatalf("set: %v", err)
	}
	src := &countingSource{inner: store}
	stream := newTestStream(t, src, 10*time.Millisecond)

	first := stream.Subscribe()
	waitValue(t, first, Present("kept"))
	first.Close()

	eventually(t, func() bool { _, c := src.counts(); return c == 1 })

	second := stream.Subscribe()
	defer second.Close()
	if got := second.Current(); got != Present("kept") {
		t.Fatalf("expected replay of last value, got %+v", got)
	}
	eventually(t, func() bool { w, _ := src.counts(); return w == 2 })
}

func TestStreamRetriesUpstreamWithoutSurfacingErrors(t *testing.T) {
	store := NewMemoryStore()
	src := &countingSource{inner: store, failFirst: 2}
	stream := newTestStream(t, src, time.Second)

	obs := stream.Subscribe()
	defer obs.Close()

	if err := store.Set(context.Background(), "after-retry"); err != nil {
		t.Fatalf("set: %v", err)
	}
	waitValue(t, obs, Present("after-retry"))
	if watches, _ := src.counts(); watches < 3 {
		t.Fatalf("expected retries, got %d watches", watches)
	}
}

func TestStreamSuppressesDuplicates(t *testing.T) {
	store := NewMemoryStore()
	stream := newTestStream(t, &countingSource{inner: store}, time.Second)
	obs := stream.Subscribe()
	defer obs.Close()

	ctx := context.Background()
	_ = store.Set(ctx, "same")
	waitValue(t, obs, Present("same"))
	_ = store.Set(ctx, "same")

	select {
	case v := <-obs.Values():
		t.Fatalf("unexpected duplicate delivery %+v", v)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestObserverCloseIsIdempotent(t *testing.T) {
	stream := newTestStream(t, NewMemoryStore(), time.Second)
	obs := stream.Subscribe()
	obs.Close()
	obs.Close()

	for range obs.Values() {
	}
}

func TestStreamStopClosesObservers(t *testing.T) {
	stream, err := NewStream(NewMemoryStore())
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	obs := stream.Subscribe()
	stream.Stop()

	eventually(t, func() bool {
		select {
		case _, ok := <-obs.Values():
			return !ok
		default:
			return false
		}
	})

	late := stream.Subscribe()
	if _, ok := <-late.Values(); ok {
		t.Fatalf("expected closed observer after stop")
	}
}
