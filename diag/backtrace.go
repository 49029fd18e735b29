// Package diag collects diagnostics that don't belong to any one
// subsystem: a structured call-stack walk for panic handlers, and an
// allocator fragmentation report built over the pprof profile format.
// The backtrace walk generalizes caller.Callerdump
// (biscuit/src/caller/caller.go), which printed a runtime.Caller walk
// straight to stdout, into a value the caller can format, log, or
// attach to a panic report however it likes.
package diag

import (
	"runtime"
	"strconv"
)

// Frame is one entry of a call-stack walk.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Backtrace walks the calling goroutine's stack starting skip frames
// above its own, innermost frame first, the same runtime.Caller walk
// Callerdump performed but returned as data instead of printed.
func Backtrace(skip int) []Frame {
	var frames []Frame
	for i := skip + 1; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		name := "?"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		frames = append(frames, Frame{Function: name, File: file, Line: line})
	}
	return frames
}

// String renders a Backtrace the way Callerdump printed its walk: one
// frame per line, innermost first, joined by "<-" continuations.
func String(frames []Frame) string {
	s := ""
	for i, f := range frames {
		if i == 0 {
			s += frameString(f)
		} else {
			s += "\t<-" + frameString(f)
		}
		s += "\n"
	}
	return s
}

func frameString(f Frame) string {
	return f.Function + " (" + f.File + ":" + strconv.Itoa(f.Line) + ")"
}
