// Package reorder implements spec.md §4.C: a bounded, timeout-driven
// ring buffer that restores monotonic delivery order on a 16-bit
// wrapping sequence number.
package reorder

import (
	"sync"
	"time"
)

// DropStrategy selects which buffered entry is evicted when the ring
// saturates.
type DropStrategy int

const (
	// DropBegin evicts the oldest buffered entry (head advances).
	DropBegin DropStrategy = iota
	// DropEnd evicts the newly-arriving entry.
	DropEnd
)

const defaultTimeout = 200 * time.Millisecond

// Sequenced is implemented by values pushed into a Queue.
type Sequenced interface {
	SequenceNumber() uint16
}

type slot[T Sequenced] struct {
	occupied bool
	seq      uint16
	deadline time.Time
	value    T
}

// Queue is a generic reorder queue keyed by a 16-bit sequence number
// with RFC-1982-style wraparound comparison.
type Queue[T Sequenced] struct {
	mu sync.Mutex

	ring             []slot[T]
	sizeCurrent      int
	sizeMin, sizeMax int
	timeout          time.Duration
	dropStrategy     DropStrategy

	initialized  bool
	nextExpected uint16

	recentDrops int
	windowStart time.Time

	OnDeliver func(T)
	OnDrop    func(seq uint16, reason string)
	OnTimeout func(seq uint16)
}

// Options configures a new Queue.
type Options struct {
	SizeMin      int
	SizeMax      int
	Timeout      time.Duration
	DropStrategy DropStrategy
}

// New builds a Queue sized within [opts.SizeMin, opts.SizeMax].
func New[T Sequenced](opts Options) *Queue[T] {
	if opts.SizeMin <= 0 {
		opts.SizeMin = 8
	}
	if opts.SizeMax < opts.SizeMin {
		opts.SizeMax = opts.SizeMin * 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Queue[T]{
		ring:         make([]slot[T], opts.SizeMax),
		sizeCurrent:  opts.SizeMin,
		sizeMin:      opts.SizeMin,
		sizeMax:      opts.SizeMax,
		timeout:      opts.Timeout,
		dropStrategy: opts.DropStrategy,
		windowStart:  time.Now(),
	}
}

// seqLess reports whether a precedes b under signed 16-bit wraparound
// comparison (RFC 1982).
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// Push inserts pkt, dropping it as "late" if older than the next
// expected sequence, or evicting per DropStrategy if the ring is full.
func (q *Queue[T]) Push(pkt T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := pkt.SequenceNumber()

	if !q.initialized {
		q.nextExpected = seq
		q.initialized = true
	}

	if seqLess(seq, q.nextExpected) {
		q.fireDrop(seq, "late")
		return
	}

	idx := int(seq) % q.sizeCurrent
	if q.ring[idx].occupied {
		if !q.resolveCollision(idx, seq) {
			// DropEnd: the newcomer itself is evicted, occupant stays.
			return
		}
	}

	q.ring[idx] = slot[T]{
		occupied: true,
		seq:      seq,
		deadline: time.Now().Add(q.timeout),
		value:    pkt,
	}

	q.adaptCapacity()
}

// resolveCollision handles a ring slot already occupied when seq wants
// it. Returns true if the caller should proceed to overwrite the slot
// with the incoming packet, false if the incoming packet was itself
// dropped (DropEnd).
func (q *Queue[T]) resolveCollision(idx int, incoming uint16) bool {
	occupant := q.ring[idx]
	switch q.dropStrategy {
	case DropEnd:
		q.fireDrop(incoming, "ring-full-drop-end")
		return false
	default: // DropBegin
		q.fireDrop(occupant.seq, "ring-full-drop-begin")
		if occupant.seq == q.nextExpected {
			q.nextExpected++
		}
		return true
	}
}

func (q *Queue[T]) fireDrop(seq uint16, reason string) {
	if q.OnDrop != nil {
		q.OnDrop(seq, reason)
	}
}

// Flush advances delivery as far as contiguous, non-expired slots allow;
// expired slots, and a missing slot once a later buffered packet has
// expired, are reported as timeouts. If force is true, it also delivers whatever is available past the
// first gap rather than stopping at the first missing slot.
func (q *Queue[T]) Flush(force bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked(force)
}

func (q *Queue[T]) flushLocked(force bool) {
	if !q.initialized {
		return
	}

	now := time.Now()
	for {
		idx := int(q.nextExpected) % q.sizeCurrent
		s := q.ring[idx]

		if !s.occupied || s.seq != q.nextExpected {
			if force {
				// Skip ahead to the next occupied slot, if any, to avoid
				// stalling forever behind a hole.
				if !q.skipToNextOccupied() {
					return
				}
				continue
			}
			// A missing head is skipped as a timeout once any buffered packet is past its deadline.
			overdue := false
			for i := 0; i < q.sizeCurrent && !overdue; i++ {
				overdue = q.ring[i].occupied && now.After(q.ring[i].deadline)
			}
			if !overdue {
				return
			}
			if q.OnTimeout != nil {
				q.OnTimeout(q.nextExpected)
			}
			q.nextExpected++
			continue
		}

		if now.After(s.deadline) {
			if q.OnTimeout != nil {
				q.OnTimeout(s.seq)
			}
			q.ring[idx] = slot[T]{}
			q.nextExpected++
			continue
		}

		if q.OnDeliver != nil {
			q.OnDeliver(s.value)
		}
		q.ring[idx] = slot[T]{}
		q.nextExpected++
	}
}

// skipToNextOccupied advances nextExpected to the next occupied slot
// found by scanning the ring; returns false if the ring is empty.
func (q *Queue[T]) skipToNextOccupied() bool {
	for i := 0; i < q.sizeCurrent; i++ {
		idx := int(q.nextExpected) % q.sizeCurrent
		if q.ring[idx].occupied {
			return true
		}
		q.nextExpected++
	}
	return false
}

// ScanTimeouts runs a non-forced flush: it delivers in sequence order,
// reports an expired head slot as a timeout, and skips a missing head as
// a timeout once a packet buffered behind it is past its deadline —
// called periodically (every 200ms per §4.G) from the AV worker.
func (q *Queue[T]) ScanTimeouts() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked(false)
}

// Reset clears the ring and re-enters the uninitialized state.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.ring {
		q.ring[i] = slot[T]{}
	}
	q.initialized = false
	q.nextExpected = 0
	q.sizeCurrent = q.sizeMin
}

// adaptCapacity doubles sizeCurrent (at most to sizeMax) when the
// current load factor is above 0.8 and halves it (at least to sizeMin)
// when it is below 0.2; the decision uses the occupancy at the time of
// the call only.
func (q *Queue[T]) adaptCapacity() {
	occupied := 0
	for i := 0; i < q.sizeCurrent; i++ {
		if q.ring[i].occupied {
			occupied++
		}
	}
	loadFactor := float64(occupied) / float64(q.sizeCurrent)

	if time.Since(q.windowStart) > time.Second {
		q.windowStart = time.Now()
		q.recentDrops = 0
	}

	switch {
	case loadFactor > 0.8 && q.sizeCurrent < q.sizeMax:
		newSize := q.sizeCurrent * 2
		if newSize > q.sizeMax {
			newSize = q.sizeMax
		}
		q.resizeTo(newSize)
	case loadFactor < 0.2 && q.sizeCurrent > q.sizeMin:
		newSize := q.sizeCurrent / 2
		if newSize < q.sizeMin {
			newSize = q.sizeMin
		}
		q.resizeTo(newSize)
	}
}

// resizeTo changes sizeCurrent and rehashes every occupied slot to its
// new seq%newSize position. Without this, a slot indexed under the old
// modulus goes unreachable the moment sizeCurrent changes: Push and
// flushLocked both derive idx from the current sizeCurrent, so a stale
// index silently strands the packet until skipToNextOccupied walks
// past it without ever calling OnDeliver/OnDrop/OnTimeout.
func (q *Queue[T]) resizeTo(newSize int) {
	if newSize == q.sizeCurrent {
		return
	}

	oldSize := q.sizeCurrent
	displaced := make([]slot[T], 0, oldSize)
	for i := 0; i < oldSize; i++ {
		if q.ring[i].occupied {
			displaced = append(displaced, q.ring[i])
			q.ring[i] = slot[T]{}
		}
	}

	q.sizeCurrent = newSize

	for _, s := range displaced {
		idx := int(s.seq) % q.sizeCurrent
		if q.ring[idx].occupied {
			keep, drop := q.closerToExpected(q.ring[idx], s)
			q.ring[idx] = keep
			q.fireDrop(drop.seq, "resize-collision")
			continue
		}
		q.ring[idx] = s
	}
}

// closerToExpected picks which of two slots that now collide under a
// new modulus should be kept: whichever sequence number is nearer
// nextExpected, so the packet closest to delivery survives the resize.
func (q *Queue[T]) closerToExpected(a, b slot[T]) (keep, drop slot[T]) {
	da := a.seq - q.nextExpected
	db := b.seq - q.nextExpected
	if da <= db {
		return a, b
	}
	return b, a
}
