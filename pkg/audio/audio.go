// Package audio implements spec.md §4.F: exploding each AV audio
// packet into per-unit frames and a jitter buffer that reorders them
// by 16-bit sequence with wraparound classification.
package audio

import (
	"time"

	"github.com/ethan/remote-play-relay/pkg/codec"
)

const (
	bufMin            = 6
	bufMax            = 256
	maxOutputPerFlush = 10
	extremeSubBatch   = 50
	startupFrameCount = 10
	oscillationWindow = 100 * time.Millisecond
	oscillationKeep   = 50
)

// GapClass classifies the relationship between the next expected frame
// number and the next one actually available in the buffer.
type GapClass int

const (
	GapDuplicate GapClass = iota
	GapSkip
	GapExtreme
	GapWrap
)

// ClassifyGap implements the forward-gap classification of §4.F,
// computing gap under 16-bit wraparound arithmetic.
func ClassifyGap(prev, next uint16) (GapClass, int) {
	gap := int(next) - int(prev)
	if gap < 0 {
		gap += 65536
	}

	switch {
	case gap == 0:
		return GapDuplicate, 0
	case gap >= 1 && gap <= 20:
		return GapSkip, gap
	default:
		wrapHeuristic := prev > 60000 && next < 500
		if gap >= 30000 || wrapHeuristic {
			return GapWrap, gap
		}
		return GapExtreme, gap
	}
}

// Receiver is the audio jitter buffer plus per-packet frame explosion.
type Receiver struct {
	buf          map[uint16][]byte
	nextExpected uint16
	initialized  bool
	firstSeq     uint16
	framesSeen   int

	prevJumpFrom, prevJumpTo uint16
	prevJumpTime             time.Time
	oscillationCount         int

	OnFrame func(seq uint16, data []byte)
	OnLoss  func(gap int)
}

// NewReceiver builds an empty audio jitter buffer.
func NewReceiver() *Receiver {
	return &Receiver{buf: make(map[uint16][]byte, bufMin)}
}

// ProcessPacket explodes one audio AV packet into its constituent
// per-unit frames and runs a buffer flush.
func (r *Receiver) ProcessPacket(pkt *codec.Packet) error {
	unitSize := int(pkt.AudioUnitSize)
	if unitSize <= 0 {
		return nil
	}

	for i := 0; i < int(pkt.UnitsSrc); i++ {
		frameNum := pkt.FrameIdx + uint16(i)
		off := i * unitSize
		if off+unitSize > len(pkt.Data) {
			break
		}
		r.ingest(frameNum, pkt.Data[off:off+unitSize], false)
	}

	for i := 0; i < int(pkt.UnitsFEC); i++ {
		frameNum := pkt.FrameIdx - uint16(pkt.UnitsFEC) + uint16(i)
		off := (int(pkt.UnitsSrc) + i) * unitSize
		if off+unitSize > len(pkt.Data) {
			break
		}
		r.ingest(frameNum, pkt.Data[off:off+unitSize], true)
	}

	r.flush()
	return nil
}

func (r *Receiver) ingest(frameNum uint16, data []byte, isFEC bool) {
	if !r.initialized {
		r.nextExpected = frameNum
		r.firstSeq = frameNum
		r.initialized = true
	}
	r.framesSeen++

	if isFEC && r.framesSeen <= startupFrameCount && seqLess(frameNum, r.firstSeq) {
		return // startup FEC duplicate preceding the first real frame
	}
	if seqLess(frameNum, r.nextExpected) {
		return // already delivered or skipped past
	}

	if _, exists := r.buf[frameNum]; exists {
		return
	}
	if len(r.buf) >= bufMax {
		r.evictOldest()
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	r.buf[frameNum] = cp
}

func seqLess(a, b uint16) bool { return int16(a-b) < 0 }

func (r *Receiver) flush() {
	if !r.initialized {
		return
	}

	emitted := 0
	guard := 0
	for emitted < maxOutputPerFlush && guard < bufMax*2 {
		guard++

		if data, ok := r.buf[r.nextExpected]; ok {
			delete(r.buf, r.nextExpected)
			if r.OnFrame != nil {
				r.OnFrame(r.nextExpected, data)
			}
			r.nextExpected++
			emitted++
			continue
		}

		nextAvail, found := r.findNextAvailable()
		if !found {
			return
		}

		class, gap := ClassifyGap(r.nextExpected, nextAvail)
		switch class {
		case GapExtreme:
			emitted += r.emitIntermediate(nextAvail)
			r.checkOscillation(nextAvail)
			if r.OnLoss != nil {
				r.OnLoss(gap)
			}
			r.nextExpected = nextAvail
		case GapWrap:
			r.nextExpected = nextAvail
			if r.OnLoss != nil {
				r.OnLoss(gap)
			}
		default: // GapSkip, GapDuplicate
			if r.OnLoss != nil && class == GapSkip {
				r.OnLoss(gap)
			}
			r.nextExpected = nextAvail
		}
	}
}

// emitIntermediate delivers any buffered frames strictly between the
// current nextExpected and limit, capped at extremeSubBatch, to avoid
// audible discontinuities on a large forward jump.
func (r *Receiver) emitIntermediate(limit uint16) int {
	count := 0
	for seq := r.nextExpected + 1; seq != limit && count < extremeSubBatch; seq++ {
		if data, ok := r.buf[seq]; ok {
			delete(r.buf, seq)
			if r.OnFrame != nil {
				r.OnFrame(seq, data)
			}
			count++
		}
	}
	return count
}

func (r *Receiver) findNextAvailable() (uint16, bool) {
	best := uint16(0)
	bestDist := -1
	for seq := range r.buf {
		dist := int(seq - r.nextExpected)
		if bestDist == -1 || dist < bestDist {
			bestDist = dist
			best = seq
		}
	}
	return best, bestDist != -1
}

func (r *Receiver) evictOldest() {
	worst := uint16(0)
	worstDist := -1
	for seq := range r.buf {
		dist := int(seq - r.nextExpected)
		if dist > worstDist {
			worstDist = dist
			worst = seq
		}
	}
	if worstDist != -1 {
		delete(r.buf, worst)
	}
}

// checkOscillation detects repeated jump-back patterns between the
// same two targets within oscillationWindow and, if found, trims the
// buffer down to its most-adjacent oscillationKeep entries to let
// playback re-sync.
func (r *Receiver) checkOscillation(to uint16) {
	now := time.Now()
	from := r.nextExpected

	if !r.prevJumpTime.IsZero() &&
		now.Sub(r.prevJumpTime) < oscillationWindow &&
		from == r.prevJumpTo && to == r.prevJumpFrom {
		r.oscillationCount++
		if r.oscillationCount >= 2 {
			r.trimBuffer()
			r.oscillationCount = 0
		}
	} else {
		r.oscillationCount = 0
	}

	r.prevJumpFrom = from
	r.prevJumpTo = to
	r.prevJumpTime = now
}

func (r *Receiver) trimBuffer() {
	type entry struct {
		seq  uint16
		dist int
	}
	entries := make([]entry, 0, len(r.buf))
	for seq := range r.buf {
		entries = append(entries, entry{seq, int(seq - r.nextExpected)})
	}
	// Partial selection of the oscillationKeep closest entries.
	for i := 0; i < len(entries); i++ {
		minIdx := i
		for j := i + 1; j < len(entries); j++ {
			if entries[j].dist < entries[minIdx].dist {
				minIdx = j
			}
		}
		entries[i], entries[minIdx] = entries[minIdx], entries[i]
	}
	if len(entries) <= oscillationKeep {
		return
	}
	for _, e := range entries[oscillationKeep:] {
		delete(r.buf, e.seq)
	}
}
