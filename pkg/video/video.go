// Package video implements spec.md §4.E: the video receiver, which
// drives the reorder queue and frame processor per video profile,
// emits annexB frames, and tracks IDR/profile switches.
package video

import (
	"fmt"

	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/fec"
)

// Profile is spec.md §3's VideoProfile. Profiles are published once
// and shared immutably across sessions.
type Profile struct {
	Index              int
	Width              int
	Height             int
	HeaderBytes        []byte
	HeaderWith64BPad   []byte
}

// graceFrameBudget bounds how many consecutive failed frames are still
// emitted with recovered=true/success=false (a successful frame restores
// the full budget), so downstream decoders don't stall silently waiting
// for real data.
const graceFrameBudget = 30

// H.264/H.265 NAL unit types that mark an IDR.
const (
	h264IDRType = 5
	h265IDRType1 = 19
	h265IDRType2 = 20
)

// Receiver wraps the FEC frame processor, keyed by adaptive_stream_index.
type Receiver struct {
	profiles []Profile

	builder          *fec.FrameBuilder
	currentFrameIdx  uint16
	haveFrame        bool
	activeStreamIdx  int8
	haveStreamIdx    bool
	pendingHeader    []byte
	graceRemaining   int

	stats fec.Stats

	OnFrame         func(data []byte, recovered, success, isIDR bool)
	OnProfileSwitch func(Profile)
}

// NewReceiver builds a Receiver over an immutable, shared profile set.
func NewReceiver(profiles []Profile) *Receiver {
	return &Receiver{profiles: profiles, activeStreamIdx: -1, graceRemaining: graceFrameBudget}
}

func (r *Receiver) profileForIndex(idx int8) (Profile, bool) {
	for _, p := range r.profiles {
		if p.Index == int(idx) {
			return p, true
		}
	}
	return Profile{}, false
}

// ProcessPacket feeds one already-reordered video AV packet. Packets
// sharing a frame_index belong to the same frame; a change in
// frame_index flushes whatever was accumulated for the previous frame.
func (r *Receiver) ProcessPacket(pkt *codec.Packet) error {
	if !r.haveStreamIdx || pkt.AdaptiveStreamIndex != r.activeStreamIdx {
		r.haveStreamIdx = true
		r.activeStreamIdx = pkt.AdaptiveStreamIndex
		if profile, ok := r.profileForIndex(pkt.AdaptiveStreamIndex); ok {
			r.pendingHeader = profile.HeaderWith64BPad
			if r.OnProfileSwitch != nil {
				r.OnProfileSwitch(profile)
			}
		}
	}

	if !r.haveFrame || pkt.FrameIdx != r.currentFrameIdx {
		if r.haveFrame {
			r.flushCurrent()
		}
		builder, err := fec.Alloc(pkt)
		if err != nil {
			return fmt.Errorf("alloc frame %d: %w", pkt.FrameIdx, err)
		}
		r.builder = builder
		r.currentFrameIdx = pkt.FrameIdx
		r.haveFrame = true
	}

	if err := r.builder.PutUnit(int(pkt.UnitIndex), pkt.Data); err != nil {
		// Duplicate/oversized unit: logged upstream, never fatal.
		return nil
	}

	if r.builder.FlushPossible() {
		r.flushCurrent()
	}

	return nil
}

// Flush forces out whatever frame is currently in flight, e.g. on
// stream teardown or an explicit reset from the health supervisor.
func (r *Receiver) Flush() {
	if r.haveFrame {
		r.flushCurrent()
	}
}

func (r *Receiver) flushCurrent() {
	frameBytes, status := r.builder.Flush(&r.stats)
	r.builder = nil
	r.haveFrame = false

	success := status == fec.StatusSuccess || status == fec.StatusFecSuccess
	recovered := status == fec.StatusFecSuccess

	if !success {
		if r.graceRemaining <= 0 {
			// Outside the grace period a fully failed frame is dropped;
			// the health supervisor will observe the gap and may reset.
			return
		}
		recovered = true
		r.graceRemaining--
	} else {
		r.graceRemaining = graceFrameBudget
	}

	if r.pendingHeader != nil {
		frameBytes = append(append([]byte{}, r.pendingHeader...), frameBytes...)
		r.pendingHeader = nil
	}

	isIDR := containsIDR(frameBytes)

	if r.OnFrame != nil {
		r.OnFrame(frameBytes, recovered, success, isIDR)
	}
}

// containsIDR scans annexB NAL units for an H.264 type-5 or H.265
// type-19/20 unit.
func containsIDR(annexB []byte) bool {
	starts := findStartCodes(annexB)
	for i, start := range starts {
		end := len(annexB)
		if i+1 < len(starts) {
			end = starts[i+1].codeStart
		}
		naluStart := start.codeStart + start.codeLen
		if naluStart >= end {
			continue
		}
		header := annexB[naluStart]
		// H.264: low 5 bits are the NAL type. H.265: type is bits 1-6 of
		// the first byte (forbidden_zero_bit + 6-bit type + 1 layer bit).
		h264Type := header & 0x1F
		h265Type := (header >> 1) & 0x3F
		if h264Type == h264IDRType || h265Type == h265IDRType1 || h265Type == h265IDRType2 {
			return true
		}
	}
	return false
}

type startCode struct {
	codeStart int
	codeLen   int
}

// findStartCodes locates annexB 00 00 01 / 00 00 00 01 start codes.
func findStartCodes(data []byte) []startCode {
	var out []startCode
	for i := 0; i+2 < len(data); i++ {
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			out = append(out, startCode{codeStart: i, codeLen: 4})
			i += 3
			continue
		}
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			out = append(out, startCode{codeStart: i, codeLen: 3})
			i += 2
		}
	}
	return out
}
