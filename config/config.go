// Package config gathers the compile-time tunables biscuit hardcodes
// at each call site (BSIZE in fs/blk.go, the reserved page count in
// mem.Phys_init) into one place the file-system builder and tests can
// vary, mirroring limits.Syslimit_t's role as the single struct of
// system-wide knobs.
package config

// Tunables collects the sizing knobs for one kernel instance.
type Tunables struct {
	// BlockCacheCapacity bounds the number of simultaneously mapped
	// disk blocks in the block cache's LRU.
	BlockCacheCapacity int

	// BootstrapFrames sizes the statically reserved FrameInfo array
	// used before the real frame-info table can be allocated.
	BootstrapFrames int

	// FixedSizeClips bounds how many free pointers a per-CPU Clip may
	// cache for one size class.
	FixedSizeClips int

	// GuardPages is the number of unmapped pages carved at the start
	// of a page allocator's pool to catch stack overruns.
	GuardPages int
}

// Default returns the tunables used when nothing more specific is
// supplied; sized for the small disk images the test suite and
// cmd/mkfs build.
func Default() Tunables {
	return Tunables{
		BlockCacheCapacity: 256,
		BootstrapFrames:    1 << 12,
		FixedSizeClips:     32,
		GuardPages:         1,
	}
}
