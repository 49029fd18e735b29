package ksync

import (
	"runtime"
	"sync/atomic"
)

// SeqLock guards a small, rarely-written record — process info and
// fault-handler correlation timestamps are the intended use — with
// even/odd sequence numbers so
// readers can detect a torn write and retry without ever blocking the
// writer. There is exactly one writer at a time by convention (callers
// serialize writers themselves, e.g. under a FastSpinlock); SeqLock
// itself only arbitrates reader/writer overlap.
type SeqLock struct {
	seq uint64
}

// WriteBegin marks the start of a write: the sequence number becomes
// odd, signalling in-progress readers to retry.
func (s *SeqLock) WriteBegin() {
	atomic.AddUint64(&s.seq, 1)
}

// WriteEnd marks the end of a write: the sequence number becomes even
// again.
func (s *SeqLock) WriteEnd() {
	atomic.AddUint64(&s.seq, 1)
}

// ReadBegin returns a sequence snapshot to pass to ReadRetry. Readers
// must not trust any data read between ReadBegin and a successful
// ReadRetry.
func (s *SeqLock) ReadBegin() uint64 {
	for {
		v := atomic.LoadUint64(&s.seq)
		if v&1 == 0 {
			return v
		}
		runtime.Gosched()
	}
}

// ReadRetry reports whether the data read since the matching
// ReadBegin may have been torn by a concurrent write, in which case
// the caller must retry the whole read.
func (s *SeqLock) ReadRetry(start uint64) bool {
	return atomic.LoadUint64(&s.seq) != start
}

// Write runs fn while the sequence lock is held for writing.
func (s *SeqLock) Write(fn func()) {
	s.WriteBegin()
	fn()
	s.WriteEnd()
}

// Read runs fn (which must only read, never mutate, the guarded
// record) until it completes without an intervening write, returning
// fn's result.
func Read[T any](s *SeqLock, fn func() T) T {
	for {
		start := s.ReadBegin()
		v := fn()
		if !s.ReadRetry(start) {
			return v
		}
	}
}
