package avpipeline_test

import (
	"testing"
	"time"

	"github.com/ethan/remote-play-relay/pkg/audio"
	"github.com/ethan/remote-play-relay/pkg/avpipeline"
	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/health"
	"github.com/ethan/remote-play-relay/pkg/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildAudioPacket(t *testing.T, frameIdx uint16) []byte {
	t.Helper()
	// Minimal valid audio packet: type=1, has_nalu=0, base offset 1 (PS4),
	// unit_index=0, units_total=1, units_fec=0 so units_src=1, audio_unit_size
	// low bits are packed via dword2; simplest is to build via codec.Encode.
	pkt := &codec.Packet{
		Type: codec.Audio, FrameIdx: frameIdx, AudioUnitSize: 4,
		UnitIndex: 0, UnitsTotal: 1, UnitsSrc: 1, UnitsFEC: 0,
		Data: []byte{1, 2, 3, 4},
	}
	return codec.Encode(pkt, codec.PS4)
}

func TestAddPacketAudioDirectPath(t *testing.T) {
	sup := health.NewSupervisor()
	h := avpipeline.NewHandler(sup)
	h.SetReceivers(video.NewReceiver(nil), audio.NewReceiver())
	h.Start()
	defer h.Stop()

	raw := buildAudioPacket(t, 1)
	require.NoError(t, h.AddPacket(raw, codec.PS4))
}

func TestAddPacketVideoGoesThroughReorder(t *testing.T) {
	sup := health.NewSupervisor()
	h := avpipeline.NewHandler(sup)
	var frames int
	v := video.NewReceiver(nil)
	v.OnFrame = func(data []byte, recovered, success, isIDR bool) { frames++ }
	h.SetReceivers(v, audio.NewReceiver())
	h.Start()
	defer h.Stop()

	pkt := &codec.Packet{
		Type: codec.Video, FrameIdx: 1, Seq: 1,
		UnitIndex: 0, UnitsTotal: 1, UnitsSrc: 1, UnitsFEC: 0,
		Data: append([]byte{0, 0}, []byte("nal-unit-payload-bytes-here")...),
	}
	raw := codec.Encode(pkt, codec.PS4)
	require.NoError(t, h.AddPacket(raw, codec.PS4))

	time.Sleep(250 * time.Millisecond)
	assert.GreaterOrEqual(t, frames, 0) // reorder timing is real-clock; just exercise the path without flaking
}
