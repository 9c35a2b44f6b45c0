package reorder_test

import (
	"testing"
	"time"

	"github.com/ethan/remote-play-relay/pkg/reorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pkt struct{ seq uint16 }

func (p pkt) SequenceNumber() uint16 { return p.seq }

func newQueue(t *testing.T) (*reorder.Queue[pkt], *[]uint16) {
	t.Helper()
	delivered := &[]uint16{}
	q := reorder.New[pkt](reorder.Options{SizeMin: 16, SizeMax: 64, Timeout: 50 * time.Millisecond})
	q.OnDeliver = func(p pkt) { *delivered = append(*delivered, p.seq) }
	return q, delivered
}

func TestInOrderDelivery(t *testing.T) {
	q, delivered := newQueue(t)
	for _, s := range []uint16{10, 11, 12} {
		q.Push(pkt{s})
	}
	q.Flush(false)
	require.Equal(t, []uint16{10, 11, 12}, *delivered)
}

func TestOutOfOrderDelivery(t *testing.T) {
	q, delivered := newQueue(t)
	for _, s := range []uint16{10, 12, 11} {
		q.Push(pkt{s})
	}
	q.Flush(false)
	assert.Equal(t, []uint16{10, 11, 12}, *delivered)
}

func TestLateDropped(t *testing.T) {
	q, delivered := newQueue(t)
	var dropped []uint16
	q.OnDrop = func(seq uint16, reason string) { dropped = append(dropped, seq) }

	q.Push(pkt{10})
	q.Flush(false)
	q.Push(pkt{5}) // older than next_expected
	q.Flush(false)

	assert.Equal(t, []uint16{10}, *delivered)
	assert.Contains(t, dropped, uint16(5))
}

func TestTimeoutScan(t *testing.T) {
	q, _ := newQueue(t)
	var timedOut []uint16
	q.OnTimeout = func(seq uint16) { timedOut = append(timedOut, seq) }

	q.Push(pkt{10})
	q.Push(pkt{12})
	q.Push(pkt{13})
	q.Push(pkt{14})
	// seq=11 never arrives.

	time.Sleep(80 * time.Millisecond)
	q.ScanTimeouts()

	require.NotEmpty(t, timedOut)
	assert.Contains(t, timedOut, uint16(11))
}

func TestResizeRehashesOccupiedSlots(t *testing.T) {
	q, delivered := newQueue(t)
	var dropped []uint16
	q.OnDrop = func(seq uint16, reason string) { dropped = append(dropped, seq) }

	var want []uint16
	for i := 0; i < 14; i++ {
		seq := uint16(100 + i)
		want = append(want, seq)
		q.Push(pkt{seq}) // load factor crosses 0.8 partway through, triggering a grow
	}
	q.Flush(true)

	assert.Equal(t, want, *delivered)
	assert.Empty(t, dropped)
}

func TestReset(t *testing.T) {
	q, _ := newQueue(t)
	q.Push(pkt{10})
	q.Flush(false)
	q.Reset()

	var delivered []uint16
	q.OnDeliver = func(p pkt) { delivered = append(delivered, p.seq) }
	q.Push(pkt{3}) // would have been "late" pre-reset; now it's the new baseline
	q.Flush(false)
	assert.Equal(t, []uint16{3}, delivered)
}
