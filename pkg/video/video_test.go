package video_test

import (
	"encoding/binary"
	"testing"

	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceUnit(real []byte, contentSize int) []byte {
	pad := contentSize - 2 - len(real)
	out := make([]byte, contentSize)
	binary.BigEndian.PutUint16(out[:2], uint16(pad))
	copy(out[2:], real)
	return out
}

func TestSingleUnitFrameEmitsIDR(t *testing.T) {
	r := video.NewReceiver(nil)

	var gotFrames [][]byte
	var gotIDR []bool
	r.OnFrame = func(data []byte, recovered, success, isIDR bool) {
		gotFrames = append(gotFrames, data)
		gotIDR = append(gotIDR, isIDR)
		assert.True(t, success)
		assert.False(t, recovered)
	}

	nalu := append([]byte{0x00, 0x00, 0x00, 0x01, 0x65}, []byte("idr-payload-bytes-here-12345")...) // type 5 = IDR
	unit := sourceUnit(nalu, 40)

	pkt := &codec.Packet{
		Type: codec.Video, FrameIdx: 1, Seq: 1,
		UnitIndex: 0, UnitsTotal: 1, UnitsSrc: 1, UnitsFEC: 0,
		Data: unit,
	}

	require.NoError(t, r.ProcessPacket(pkt))
	require.Len(t, gotFrames, 1)
	assert.True(t, gotIDR[0])
}

func TestConsecutiveCompleteFramesEachEmitted(t *testing.T) {
	r := video.NewReceiver(nil)

	frameCount := 0
	r.OnFrame = func(data []byte, recovered, success, isIDR bool) { frameCount++ }

	nalu1 := append([]byte{0x00, 0x00, 0x00, 0x01, 0x61}, []byte("frame-one-payload-data-here12")...)
	nalu2 := append([]byte{0x00, 0x00, 0x00, 0x01, 0x61}, []byte("frame-two-payload-data-here12")...)

	u1 := sourceUnit(nalu1, 40)
	u2 := sourceUnit(nalu2, 40)

	require.NoError(t, r.ProcessPacket(&codec.Packet{
		Type: codec.Video, FrameIdx: 1, UnitIndex: 0, UnitsTotal: 1, UnitsSrc: 1, UnitsFEC: 0, Data: u1,
	}))
	require.NoError(t, r.ProcessPacket(&codec.Packet{
		Type: codec.Video, FrameIdx: 2, UnitIndex: 0, UnitsTotal: 1, UnitsSrc: 1, UnitsFEC: 0, Data: u2,
	}))

	assert.Equal(t, 2, frameCount)
}

func TestProfileSwitchCallback(t *testing.T) {
	profiles := []video.Profile{
		{Index: 0, Width: 640, Height: 480, HeaderWith64BPad: []byte("hdr0")},
		{Index: 1, Width: 1280, Height: 720, HeaderWith64BPad: []byte("hdr1")},
	}
	r := video.NewReceiver(profiles)

	var switches []video.Profile
	r.OnProfileSwitch = func(p video.Profile) { switches = append(switches, p) }

	var frames [][]byte
	r.OnFrame = func(data []byte, recovered, success, isIDR bool) { frames = append(frames, data) }

	nalu := append([]byte{0x00, 0x00, 0x00, 0x01, 0x61}, []byte("payload-thirty-bytes-exactly..")...)
	u := sourceUnit(nalu, 40)

	pkt := &codec.Packet{
		Type: codec.Video, FrameIdx: 1, AdaptiveStreamIndex: 1,
		UnitIndex: 0, UnitsTotal: 1, UnitsSrc: 1, UnitsFEC: 0, Data: u,
	}
	require.NoError(t, r.ProcessPacket(pkt))

	require.Len(t, switches, 1)
	assert.Equal(t, 1, switches[0].Index)
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0]), "hdr1")
}
