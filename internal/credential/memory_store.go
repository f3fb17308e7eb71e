package credential

import (
	"context"
	"sync"
)

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	value    Value
	watchers map[chan Value]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{value: Absent(), watchers: make(map[chan Value]struct{})}
}

func (s *MemoryStore) Get(ctx context.Context) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.put(Present(token))
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.put(Absent())
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, emit func(Value)) error {
	ch := make(chan Value, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	ch <- s.value
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-ch:
			emit(v)
		}
	}
}

func (s *MemoryStore) put(v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
