package plancache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Tier is a distributed plan store shared across gateway instances. Values
// are serialized plans. Any error is treated as a miss by the Cache.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ErrMiss is wrapped by tier errors that only mean "not stored".
var ErrMiss = errors.New("plancache: tier miss")

// MemoryTier is a process-local Tier with per-entry expiry. It stands in for
// a shared store in single-instance deployments and tests.
type MemoryTier struct {
	mu    sync.RWMutex
	store map[string]tierItem
	ttl   time.Duration

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type tierItem struct {
	value      []byte
	expiration int64
}

// NewMemoryTier creates a tier whose entries default to ttl and starts a
// janitor removing expired entries every cleanup interval. Call Close to stop
// the janitor.
func NewMemoryTier(ttl, cleanup time.Duration) *MemoryTier {
	t := &MemoryTier{
		store: make(map[string]tierItem),
		ttl:   ttl,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	go t.cleanupLoop(cleanup)
	return t
}

func (t *MemoryTier) Get(ctx context.Context, key string) ([]byte, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}
	t.mu.RLock()
	item, found := t.store[key]
	t.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %w", ErrMiss, errbuilder.NotFoundErr(errbuilder.GenericErr("plan not found", nil)))
	}
	if time.Now().UnixNano() > item.expiration {
		return nil, fmt.Errorf("%w: %w", ErrMiss, errbuilder.NotFoundErr(errbuilder.GenericErr("plan expired", nil)))
	}
	return item.value, nil
}

// Set stores value for ttl, or for the tier default when ttl is zero.
func (t *MemoryTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = t.ttl
	}
	t.mu.Lock()
	t.store[key] = tierItem{value: value, expiration: time.Now().Add(ttl).UnixNano()}
	t.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired or not.
func (t *MemoryTier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.store)
}

// Close stops the janitor. It is safe to call more than once.
func (t *MemoryTier) Close() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

func (t *MemoryTier) cleanupLoop(interval time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.removeExpired()
		}
	}
}

func (t *MemoryTier) removeExpired() {
	now := time.Now().UnixNano()
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, item := range t.store {
		if now > item.expiration {
			delete(t.store, key)
		}
	}
}
