package diag

import (
	"strconv"

	"github.com/google/pprof/profile"

	"corekernel/heap"
	"corekernel/pmm"
)

// FixedSizeSource is anything that can report one heap size class's
// current counters, matched by heap.FixedSizeAllocator.Snapshot.
type FixedSizeSource interface {
	Snapshot() heap.FixedSizeSnapshot
}

// FragmentationReport builds a pprof Profile describing physical
// frame usage and kernel heap occupancy, one Location per size class
// plus one for raw frames, so pprof's own tooling (top, flame graphs)
// can be pointed at a running kernel's allocator the same way it
// inspects a userspace program's heap profile. Grounded on the
// teacher's go.mod, which already pulls in github.com/google/pprof for
// its compiler tooling; this is the first place this kernel module
// exercises the dependency itself.
func FragmentationReport(frames *pmm.Allocator, classes []FixedSizeSource) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "slots_total", Unit: "count"},
			{Type: "slots_free", Unit: "count"},
			{Type: "bytes_requested", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}

	fn := &profile.Function{ID: 1, Name: "pmm.Allocator"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p.Function = append(p.Function, fn)
	p.Location = append(p.Location, loc)

	fst := frames.Stats()
	p.Sample = append(p.Sample, &profile.Sample{
		Location: []*profile.Location{loc},
		Value:    []int64{int64(fst.Free + fst.Used), int64(fst.Free), 0},
		Label:    map[string][]string{"class": {"frames"}},
	})

	for i, c := range classes {
		id := uint64(i + 2)
		snap := c.Snapshot()
		fn := &profile.Function{ID: id, Name: "heap.FixedSizeAllocator"}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(snap.SlotsTotal), int64(snap.SlotsFree), snap.BytesRequested},
			Label:    map[string][]string{"class": {sizeClassLabel(snap.SlotSize)}},
			NumLabel: map[string][]int64{"allocations": {snap.Allocations}, "pages_in_flight": {snap.PagesInFlight}},
		})
	}
	return p
}

func sizeClassLabel(slotSize uintptr) string {
	if slotSize < 1024 {
		return "size_" + strconv.FormatUint(uint64(slotSize), 10)
	}
	return "size_" + strconv.FormatUint(uint64(slotSize/1024), 10) + "k"
}
