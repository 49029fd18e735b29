package heap

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Stats gates the allocator's bookkeeping counters at compile time,
// adapted from biscuit's stats.Stats/stats.Counter_t pattern
// (biscuit/src/stats/stats.go): every Counter_t.Inc and Cycles_t.Add
// call compiles away to nothing unless Stats is true, so the
// instrumentation costs nothing in a build that doesn't want it.
// Cycles_t accumulates wall-clock nanoseconds rather than a cycle
// count read straight off the TSC: biscuit's Rdtsc relies on a
// runtime patch (runtime.Rdtsc) this module doesn't carry, and
// time.Since's monotonic clock is the ordinary Go substitute for
// "how long did that take".
const Stats = false

// Counter_t is a statistical counter, named to match the field type
// Stats2String recognizes by name.
type Counter_t int64

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add increments the counter by n.
func (c *Counter_t) Add(n int64) {
	if Stats {
		atomic.AddInt64((*int64)(c), n)
	}
}

// Cycles_t accumulates elapsed wall-clock time.
type Cycles_t int64

// Since adds the duration elapsed since start.
func (c *Cycles_t) Since(start time.Time) {
	if Stats {
		atomic.AddInt64((*int64)(c), int64(time.Since(start)))
	}
}

// perClassStats holds one FixedSizeAllocator's counters: total
// allocations served, bytes requested by callers versus bytes
// actually handed out (the size-class rounding loss), and the
// high-water mark of pages currently backing the quarry.
type perClassStats struct {
	allocations    Counter_t
	bytesRequested Counter_t
	pagesInFlight  Counter_t
}

// Stats2String renders every Counter_t/Cycles_t field of st as a
// printable string, or the empty string when Stats is disabled.
// Adapted from biscuit's stats.Stats2String.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
