package scheduler

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// ResourceLockManager provides mutual exclusion per resource key, so nodes
// declaring the same Exclusive key never execute at the same time while
// unrelated nodes stay concurrent. Entries are dropped once no holder or
// waiter references them.
type ResourceLockManager struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewResourceLockManager returns a manager with no keys held.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free.
func (r *ResourceLockManager) Lock(key string) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases key. Unknown keys are ignored.
func (r *ResourceLockManager) Unlock(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok {
		return
	}
	l.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, key)
	}
}

// LockAll acquires every key in sorted order, which rules out lock-order
// deadlocks between nodes, and returns the function releasing them.
// Duplicate keys are acquired once.
func (r *ResourceLockManager) LockAll(keys []string) (unlock func()) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for _, k := range sorted {
		r.Lock(k)
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			r.Unlock(sorted[i])
		}
	}
}

type heldLocksKey struct{}

// heldLocks maps each manager to the lock names held for each key by the
// callers up a context chain.
type heldLocks map[*ResourceLockManager]map[string]string

// Acquire locks keys on behalf of the caller owning ctx and returns a
// context recording them as held, plus the function releasing them.
//
// A key already held further up the context chain is not locked again.
// Work nested inside the holder, such as the nodes of an orchestrator run
// by a node declaring the key, contends for a lock scoped to that hold
// instead: nested nodes stay exclusive among themselves and never wait on
// their own ancestor.
func (r *ResourceLockManager) Acquire(ctx context.Context, keys []string) (context.Context, func()) {
	if len(keys) == 0 {
		return ctx, func() {}
	}

	prev, _ := ctx.Value(heldLocksKey{}).(heldLocks)
	outer := prev[r]
	names := maps.Clone(outer)
	if names == nil {
		names = make(map[string]string, len(keys))
	}

	lockNames := make([]string, 0, len(keys))
	for _, k := range keys {
		name := k
		if held, ok := outer[k]; ok {
			name = held + "\x00"
		}
		names[k] = name
		lockNames = append(lockNames, name)
	}
	unlock := r.LockAll(lockNames)

	next := make(heldLocks, len(prev)+1)
	maps.Copy(next, prev)
	next[r] = names
	return context.WithValue(ctx, heldLocksKey{}, next), unlock
}

// Held returns the number of keys currently locked or awaited.
func (r *ResourceLockManager) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
