// Package errs defines the single error sum type shared by every core
// subsystem, in the spirit of biscuit's defs.Err_t: kernel code returns
// a plain integer code rather than boxing an error interface value at
// every call site on the allocation-sensitive paths (frame allocation,
// page faults, block cache fills).
package errs

// Err_t is a kernel-wide error code. The zero value means success.
type Err_t int

const (
	// OK is the zero value returned on success.
	OK Err_t = 0

	NoFrame         Err_t = -(iota + 1) // no free physical memory
	NoPage                              // virtual address space exhausted or no mapping present
	NoDisk                              // disk subsystem unavailable or no free block/inode
	PermissionDenied                    // cross-half mapping, user/kernel flag mismatch
	InvalidArgument                     // pre-condition violated
	InvalidAlignment                    // address or size not page-aligned where required
	Overflow                            // address/size arithmetic overflow
	Medium                              // disk I/O error or on-disk structure failed validation
	Timeout                             // hardware did not respond in the bounded wait
	NotDirectory                        // path component is not a directory
	NotFile                             // expected a regular file
	FileNotFound                        // path does not resolve to an inode
	FileExists                          // name already present in a directory
	Unimplemented                       // path not yet supported
)

var names = map[Err_t]string{
	OK:               "ok",
	NoFrame:          "no free frame",
	NoPage:           "no page",
	NoDisk:           "no disk",
	PermissionDenied: "permission denied",
	InvalidArgument:  "invalid argument",
	InvalidAlignment: "invalid alignment",
	Overflow:         "overflow",
	Medium:           "medium error",
	Timeout:          "timeout",
	NotDirectory:     "not a directory",
	NotFile:          "not a file",
	FileNotFound:     "file not found",
	FileExists:       "file exists",
	Unimplemented:    "unimplemented",
}

// Error satisfies the standard error interface so Err_t values can be
// used at the boundaries (tests, cmd/) that want idiomatic Go errors.
func (e Err_t) Error() string {
	if e == OK {
		return "ok"
	}
	if s, ok := names[e]; ok {
		return s
	}
	return "unknown error"
}

// Ok reports whether e represents success.
func (e Err_t) Ok() bool {
	return e == OK
}
