// Package ksync provides the kernel's concurrency primitives:
// spinlock variants, a sequence lock, a once-lock, and a generic
// bitflag type. biscuit protects shared kernel state with plain
// sync.Mutex throughout (mem.Physmem_t embeds sync.Mutex, vm.Vm_t
// embeds sync.Mutex); these types generalize that same embedding
// idiom to the IRQ-safe and lock-free cases a preemptible kernel
// needs to distinguish.
package ksync

import "sync/atomic"

// FastSpinlock is a busy-wait lock for data touched from a single
// execution context (task context only, never from an interrupt
// handler). It is a thin spin loop rather than sync.Mutex so it never
// parks the calling goroutine,
// mirroring the non-blocking discipline kernel code run under a
// spinlock must observe.
type FastSpinlock struct {
	state uint32
}

// Lock spins until the lock is acquired.
func (l *FastSpinlock) Lock() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
	}
}

// Unlock releases the lock. Unlock on an unlocked FastSpinlock panics,
// since that indicates a double-release bug in the caller.
func (l *FastSpinlock) Unlock() {
	if !atomic.CompareAndSwapUint32(&l.state, 1, 0) {
		panic("ksync: unlock of unlocked FastSpinlock")
	}
}

// TryLock attempts to acquire the lock without spinning.
func (l *FastSpinlock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// IrqSentinel abstracts disabling/restoring interrupts around a
// critical section. The real CPU-level implementation (cli/sti) lives
// in the interrupt dispatch tables set up during boot, outside this
// module's scope; tests and host tooling use NopIrqSentinel.
type IrqSentinel interface {
	// Disable disables interrupt delivery on the calling CPU and
	// returns the prior state, to be restored by Restore.
	Disable() (prior uint64)
	Restore(prior uint64)
}

// NopIrqSentinel is the host-side IrqSentinel used outside of the
// actual kernel boot environment: it does nothing, since there is no
// interrupt controller to mask.
type NopIrqSentinel struct{}

func (NopIrqSentinel) Disable() (prior uint64) { return 0 }
func (NopIrqSentinel) Restore(prior uint64)    {}

// IRQ is the process-wide interrupt sentinel. Kernel boot code
// installs the real CPU-level implementation; it defaults to
// NopIrqSentinel so the core builds and tests outside a booted kernel.
var IRQ IrqSentinel = NopIrqSentinel{}

// IrqSpinlock disables interrupt delivery for the duration of the
// critical section, for locks that may be taken from both interrupt
// and task context: the block cache lock, the frame allocator, and
// logging.
type IrqSpinlock struct {
	inner FastSpinlock
	prior uint64
}

// Lock disables interrupts then acquires the inner spinlock.
func (l *IrqSpinlock) Lock() {
	prior := IRQ.Disable()
	l.inner.Lock()
	l.prior = prior
}

// Unlock releases the inner spinlock and restores the prior interrupt
// state.
func (l *IrqSpinlock) Unlock() {
	prior := l.prior
	l.inner.Unlock()
	IRQ.Restore(prior)
}
