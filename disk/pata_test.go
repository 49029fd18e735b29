package disk

import (
	"testing"

	"corekernel/errs"
)

// fakePort models one IDE channel well enough to exercise PATA's
// protocol: a single backing sector store, immediately READY after
// any command (no artificial BUSY delay), with hooks to force a
// FAILURE/ERROR or a stuck-BUSY condition for the error paths.
type fakePort struct {
	sectors      map[uint32][SectorSize]byte
	regs         [8]uint8
	selectedLBA  uint32
	lastCmd      uint8
	forceFailure bool
	stuckBusy    bool
	nativeMax    uint32
}

func newFakePort() *fakePort {
	return &fakePort{sectors: make(map[uint32][SectorSize]byte), nativeMax: 0x1000}
}

func (f *fakePort) Inb(port uint16) uint8 {
	reg := port & 0x7
	if reg == regStatus {
		if f.stuckBusy {
			return statusBusy
		}
		if f.forceFailure {
			return statusFailure | statusReady
		}
		return statusReady
	}
	return f.regs[reg]
}

func (f *fakePort) Outb(port uint16, v uint8) {
	reg := port & 0x7
	f.regs[reg] = v
	switch reg {
	case regDriveHead:
		f.selectedLBA = (f.selectedLBA &^ (0xF << 24)) | uint32(v&0xF)<<24
	case regLBALow:
		f.selectedLBA = (f.selectedLBA &^ 0xFF) | uint32(v)
	case regLBAMid:
		f.selectedLBA = (f.selectedLBA &^ (0xFF << 8)) | uint32(v)<<8
	case regLBAHigh:
		f.selectedLBA = (f.selectedLBA &^ (0xFF << 16)) | uint32(v)<<16
	case regCommand:
		f.lastCmd = v
		if v == cmdReadNativeMaxAddr {
			f.regs[regLBALow] = uint8(f.nativeMax)
			f.regs[regLBAMid] = uint8(f.nativeMax >> 8)
			f.regs[regLBAHigh] = uint8(f.nativeMax >> 16)
			f.regs[regDriveHead] = uint8(f.nativeMax>>24) & 0xF
		}
	}
}

func (f *fakePort) Insw(port uint16, buf []uint16) {
	sec := f.sectors[f.selectedLBA]
	for i := range buf {
		buf[i] = uint16(sec[2*i]) | uint16(sec[2*i+1])<<8
	}
}

func (f *fakePort) Outsw(port uint16, buf []uint16) {
	var sec [SectorSize]byte
	for i, w := range buf {
		sec[2*i] = byte(w)
		sec[2*i+1] = byte(w >> 8)
	}
	f.sectors[f.selectedLBA] = sec
}

func TestPATAWriteThenReadRoundTrip(t *testing.T) {
	port := newFakePort()
	p := NewPATA(port, PrimaryBase, PrimaryControl, false)

	var want [SectorSize]byte
	for i := range want {
		want[i] = byte(i * 7)
	}
	if err := p.WriteSector(42, want[:]); !err.Ok() {
		t.Fatalf("WriteSector: %v", err)
	}

	var got [SectorSize]byte
	if err := p.ReadSector(42, got[:]); !err.Ok() {
		t.Fatalf("ReadSector: %v", err)
	}
	if got != want {
		t.Fatal("ReadSector did not return the bytes WriteSector stored")
	}
}

func TestPATAReadWrongSizeBuffer(t *testing.T) {
	p := NewPATA(newFakePort(), PrimaryBase, PrimaryControl, false)
	if err := p.ReadSector(0, make([]byte, 10)); err != errs.InvalidArgument {
		t.Fatalf("ReadSector with a short buffer: want InvalidArgument, got %v", err)
	}
}

func TestPATALBA28OutOfRange(t *testing.T) {
	p := NewPATA(newFakePort(), PrimaryBase, PrimaryControl, false)
	buf := make([]byte, SectorSize)
	if err := p.ReadSector(1<<28, buf); err != errs.InvalidArgument {
		t.Fatalf("ReadSector beyond LBA28: want InvalidArgument, got %v", err)
	}
}

func TestPATAFailureStatusReturnsMedium(t *testing.T) {
	port := newFakePort()
	port.forceFailure = true
	p := NewPATA(port, PrimaryBase, PrimaryControl, false)
	buf := make([]byte, SectorSize)
	if err := p.ReadSector(0, buf); err != errs.Medium {
		t.Fatalf("ReadSector with FAILURE set: want Medium, got %v", err)
	}
}

func TestPATAStuckBusyTimesOut(t *testing.T) {
	port := newFakePort()
	port.stuckBusy = true
	p := NewPATA(port, PrimaryBase, PrimaryControl, false)
	p.timeout = 0
	buf := make([]byte, SectorSize)
	if err := p.ReadSector(0, buf); err != errs.Timeout {
		t.Fatalf("ReadSector stuck BUSY: want Timeout, got %v", err)
	}
}

func TestPATAMaxSectorDecodesLBA28(t *testing.T) {
	port := newFakePort()
	port.nativeMax = 0x0FABCDEF & maxLBA28
	p := NewPATA(port, PrimaryBase, PrimaryControl, false)
	got, err := p.MaxSector()
	if !err.Ok() {
		t.Fatalf("MaxSector: %v", err)
	}
	if got != port.nativeMax {
		t.Fatalf("MaxSector() = %#x, want %#x", got, port.nativeMax)
	}
}

func TestPATAFlush(t *testing.T) {
	p := NewPATA(newFakePort(), PrimaryBase, PrimaryControl, false)
	if err := p.Flush(); !err.Ok() {
		t.Fatalf("Flush: %v", err)
	}
}

func TestPATASelectsSlaveDrive(t *testing.T) {
	port := newFakePort()
	p := NewPATA(port, SecondaryBase, SecondaryControl, true)
	buf := make([]byte, SectorSize)
	if err := p.ReadSector(5, buf); !err.Ok() {
		t.Fatalf("ReadSector: %v", err)
	}
	if port.regs[regDriveHead]&(1<<4) == 0 {
		t.Fatal("slave select bit not set in drive/head register")
	}
}
