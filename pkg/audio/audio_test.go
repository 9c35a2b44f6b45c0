package audio_test

import (
	"testing"

	"github.com/ethan/remote-play-relay/pkg/audio"
	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyGapWraparound(t *testing.T) {
	class, gap := audio.ClassifyGap(65534, 1)
	assert.Equal(t, 3, gap)
	assert.Equal(t, audio.GapSkip, class)
}

func TestClassifyGapExtreme(t *testing.T) {
	class, gap := audio.ClassifyGap(10000, 30000)
	assert.Equal(t, 20000, gap)
	assert.Equal(t, audio.GapExtreme, class)
}

func TestClassifyGapDuplicate(t *testing.T) {
	class, gap := audio.ClassifyGap(100, 100)
	assert.Equal(t, 0, gap)
	assert.Equal(t, audio.GapDuplicate, class)
}

func TestClassifyGapWrapHeuristic(t *testing.T) {
	class, _ := audio.ClassifyGap(65000, 100)
	assert.Equal(t, audio.GapWrap, class)
}

func TestInOrderFramesDeliveredInSequence(t *testing.T) {
	r := audio.NewReceiver()
	var got []uint16
	r.OnFrame = func(seq uint16, data []byte) { got = append(got, seq) }

	pkt := &codec.Packet{
		Type: codec.Audio, FrameIdx: 10, AudioUnitSize: 4,
		UnitsTotal: 2, UnitsSrc: 2, UnitsFEC: 0,
		Data: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	require.NoError(t, r.ProcessPacket(pkt))
	assert.Equal(t, []uint16{10, 11}, got)
}

func TestDuplicateFrameIgnored(t *testing.T) {
	r := audio.NewReceiver()
	count := 0
	r.OnFrame = func(seq uint16, data []byte) { count++ }

	pkt := &codec.Packet{
		Type: codec.Audio, FrameIdx: 5, AudioUnitSize: 2,
		UnitsTotal: 1, UnitsSrc: 1, UnitsFEC: 0,
		Data: []byte{9, 9},
	}
	require.NoError(t, r.ProcessPacket(pkt))
	require.NoError(t, r.ProcessPacket(pkt))
	assert.Equal(t, 1, count)
}

func TestSmallGapFiresLossCallback(t *testing.T) {
	r := audio.NewReceiver()
	var gaps []int
	r.OnLoss = func(gap int) { gaps = append(gaps, gap) }

	var delivered []uint16
	r.OnFrame = func(seq uint16, data []byte) { delivered = append(delivered, seq) }

	require.NoError(t, r.ProcessPacket(&codec.Packet{
		Type: codec.Audio, FrameIdx: 0, AudioUnitSize: 1, UnitsTotal: 1, UnitsSrc: 1, Data: []byte{1},
	}))
	// Skip ahead by 5: frame 0 delivered, frames 1-4 missing, frame 5 arrives.
	require.NoError(t, r.ProcessPacket(&codec.Packet{
		Type: codec.Audio, FrameIdx: 5, AudioUnitSize: 1, UnitsTotal: 1, UnitsSrc: 1, Data: []byte{2},
	}))

	require.Len(t, gaps, 1)
	assert.Equal(t, 4, gaps[0])
	assert.Equal(t, []uint16{0, 5}, delivered)
}

func TestFECUnitsExplodeBeforeSourceFrameIndex(t *testing.T) {
	r := audio.NewReceiver()
	var got []uint16
	r.OnFrame = func(seq uint16, data []byte) { got = append(got, seq) }

	// 2 src units at frame_idx 20,21, 1 FEC unit covering frame 19.
	pkt := &codec.Packet{
		Type: codec.Audio, FrameIdx: 20, AudioUnitSize: 2,
		UnitsTotal: 3, UnitsSrc: 2, UnitsFEC: 1,
		Data: []byte{1, 1, 2, 2, 3, 3},
	}
	require.NoError(t, r.ProcessPacket(pkt))
	assert.Equal(t, []uint16{20, 21}, got)
}
