// Package klog centralizes the kernel's fmt.Printf/log.Printf style
// logging (as used directly in biscuit at mem/mem.go's Phys_init and
// ufs.go's BootMemFS) behind a single sink so tests can capture
// output instead of writing to stdout.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu   sync.Mutex
	sink io.Writer = os.Stdout
)

// SetOutput redirects kernel log output, returning the previous sink.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	old := sink
	sink = w
	return old
}

// Printf writes a formatted milestone message: subsystem init,
// page-table diagnostics, and similar one-shot announcements.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(sink, format, args...)
}

// Warnf logs a recoverable condition worth surfacing but not panicking
// over, e.g. a clean block cache discard during eviction.
func Warnf(format string, args ...interface{}) {
	Printf("WARNING: "+format, args...)
}
