// Package fec implements spec.md §4.D: per-frame gathering of source
// and parity units and erasure-decode recovery of missing source
// units, feeding the video receiver (§4.E).
package fec

import (
	"encoding/binary"
	"fmt"
)

// Status is the outcome of a frame flush.
type Status int

const (
	StatusSuccess Status = iota
	StatusFecSuccess
	StatusFecFailed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFecSuccess:
		return "fec_success"
	case StatusFecFailed:
		return "fec_failed"
	default:
		return "failed"
	}
}

// annexBStartCode precedes the reassembled frame bytes.
var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// Stats accumulates per-stream success counters.
type Stats struct {
	Frames uint64
	Bytes  uint64
}

// FrameBuilder owns one in-flight frame's arena and unit bookkeeping.
// stride_per_unit is fixed for the lifetime of the frame, derived from
// the first packet observed (see Alloc).
type FrameBuilder struct {
	unitsTotal int
	unitsSrc   int
	unitsFEC   int

	stridePerUnit int
	contentSize   int // declared content length within each stride (before padding)

	arena   []byte
	bitmap  []bool
	srcSeen int
	fecSeen int

	flushed bool
}

func ceilTo16(n int) int {
	return ((n + 15) / 16) * 16
}

// UnitAccessor is the minimal view FrameBuilder needs of an AV packet;
// satisfied by *codec.Packet.
type UnitAccessor interface {
	GetUnitIndex() int
	GetUnitsTotal() int
	GetUnitsSrc() int
	GetUnitsFEC() int
	GetData() []byte
}

// Alloc sizes the frame's arena from the first packet's declared unit
// counts. For video, the first 2 bytes of its payload are a big-endian
// "size extension" added to the payload's own length to compute the
// per-unit content size (the amount of the stride that is meaningful
// data, as opposed to 16-byte-alignment padding); see DESIGN.md for
// why this reading was chosen absent a reference implementation.
func Alloc(first UnitAccessor) (*FrameBuilder, error) {
	total := first.GetUnitsTotal()
	src := first.GetUnitsSrc()
	fecN := first.GetUnitsFEC()
	if total <= 0 || src <= 0 || src+fecN != total {
		return nil, fmt.Errorf("invalid unit counts total=%d src=%d fec=%d", total, src, fecN)
	}

	data := first.GetData()
	extension := 0
	if len(data) >= 2 {
		extension = int(binary.BigEndian.Uint16(data[:2]))
	}
	contentSize := len(data) + extension
	if contentSize < 2 {
		contentSize = 2
	}
	stride := ceilTo16(contentSize)

	fb := &FrameBuilder{
		unitsTotal:    total,
		unitsSrc:      src,
		unitsFEC:      fecN,
		stridePerUnit: stride,
		contentSize:   contentSize,
		arena:         make([]byte, stride*total),
		bitmap:        make([]bool, total),
	}
	return fb, nil
}

// PutUnit copies a unit's payload into the arena at its declared index.
// Duplicate or oversized units are rejected without panicking.
func (fb *FrameBuilder) PutUnit(idx int, data []byte) error {
	if fb.flushed {
		return fmt.Errorf("frame already flushed")
	}
	if idx < 0 || idx >= fb.unitsTotal {
		return fmt.Errorf("unit index %d out of range [0,%d)", idx, fb.unitsTotal)
	}
	if fb.bitmap[idx] {
		return fmt.Errorf("duplicate unit %d", idx)
	}
	if len(data) > fb.stridePerUnit {
		return fmt.Errorf("unit %d oversized: %d > stride %d", idx, len(data), fb.stridePerUnit)
	}

	off := idx * fb.stridePerUnit
	copy(fb.arena[off:off+fb.stridePerUnit], data)

	fb.bitmap[idx] = true
	if idx < fb.unitsSrc {
		fb.srcSeen++
	} else {
		fb.fecSeen++
	}
	return nil
}

// FlushPossible reports whether enough units have arrived to attempt a
// flush (directly, or via erasure decode).
func (fb *FrameBuilder) FlushPossible() bool {
	return fb.srcSeen+fb.fecSeen >= fb.unitsSrc
}

func (fb *FrameBuilder) unitSlot(idx int) []byte {
	off := idx * fb.stridePerUnit
	end := off + fb.contentSize
	if end > len(fb.arena) {
		end = len(fb.arena)
	}
	return fb.arena[off:end]
}

// extractReal strips the 2-byte pad-count header from a source unit's
// content slot, returning its real payload bytes.
func extractReal(slot []byte) ([]byte, error) {
	if len(slot) < 2 {
		return nil, fmt.Errorf("unit slot too short for pad header")
	}
	pad := int(binary.BigEndian.Uint16(slot[:2]))
	realLen := len(slot) - 2 - pad
	if realLen < 0 || realLen > len(slot)-2 {
		return nil, fmt.Errorf("implausible pad count %d for slot of %d", pad, len(slot))
	}
	return slot[2 : 2+realLen], nil
}

// Flush attempts to reassemble the frame, recovering missing source
// units via erasure decode when necessary. Every successful flush
// records into stats.
func (fb *FrameBuilder) Flush(stats *Stats) ([]byte, Status) {
	if fb.flushed {
		return nil, StatusFailed
	}
	fb.flushed = true

	if !fb.FlushPossible() {
		return nil, StatusFailed
	}

	status := StatusSuccess
	if fb.srcSeen < fb.unitsSrc {
		if err := fb.recoverMissing(); err != nil {
			return nil, StatusFecFailed
		}
		status = StatusFecSuccess
	}

	out := make([]byte, 0, fb.contentSize*fb.unitsSrc+len(annexBStartCode))
	out = append(out, annexBStartCode...)

	for i := 0; i < fb.unitsSrc; i++ {
		real, err := extractReal(fb.unitSlot(i))
		if err != nil {
			return nil, StatusFailed
		}
		out = append(out, real...)
	}

	if stats != nil {
		stats.Frames++
		stats.Bytes += uint64(len(out))
	}

	return out, status
}

// recoverMissing runs erasure decode over whatever units were received
// (source + parity) and fills in the missing source slots.
func (fb *FrameBuilder) recoverMissing() error {
	received := make(map[int][]byte, fb.srcSeen+fb.fecSeen)
	for i := 0; i < fb.unitsTotal; i++ {
		if fb.bitmap[i] {
			off := i * fb.stridePerUnit
			received[i] = fb.arena[off : off+fb.stridePerUnit]
		}
	}

	recovered, err := Decode(received, fb.unitsSrc, fb.unitsFEC, fb.stridePerUnit)
	if err != nil {
		return err
	}

	for i := 0; i < fb.unitsSrc; i++ {
		if fb.bitmap[i] {
			continue
		}
		off := i * fb.stridePerUnit
		copy(fb.arena[off:off+fb.stridePerUnit], recovered[i])
		fb.bitmap[i] = true
	}
	return nil
}
