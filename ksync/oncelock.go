package ksync

import "sync/atomic"

// OnceLock holds a single value written exactly once; readers after
// the first write observe it monotonically. Unlike sync.Once, Set
// exposes whether it was the one that won the race,
// which callers use to decide whether to free a redundant value
// (e.g. a loser's freshly-allocated frame-info array during
// pmm.Resize-style races).
type OnceLock[T any] struct {
	done  uint32
	value T
}

// Set stores v if no value has been stored yet. It reports whether v
// was the value accepted.
func (o *OnceLock[T]) Set(v T) bool {
	if !atomic.CompareAndSwapUint32(&o.done, 0, 1) {
		return false
	}
	o.value = v
	return true
}

// Get returns the stored value and whether one has been set.
func (o *OnceLock[T]) Get() (T, bool) {
	if atomic.LoadUint32(&o.done) == 0 {
		var zero T
		return zero, false
	}
	return o.value, true
}

// MustGet returns the stored value, panicking if none has been set.
func (o *OnceLock[T]) MustGet() T {
	v, ok := o.Get()
	if !ok {
		panic("ksync: OnceLock read before Set")
	}
	return v
}
