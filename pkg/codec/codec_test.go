package codec_test

import (
	"testing"

	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/relayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTooShort(t *testing.T) {
	_, err := codec.Parse([]byte{1, 2, 3}, codec.PS4)
	require.Error(t, err)
	var perr *relayerr.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestParseInvalidType(t *testing.T) {
	raw := make([]byte, 18)
	raw[0] = 0x0F // invalid nibble
	_, err := codec.Parse(raw, codec.PS4)
	require.Error(t, err)
}

func TestVideoRoundTrip(t *testing.T) {
	p := &codec.Packet{
		Type:                codec.Video,
		HasNALU:             true,
		Seq:                 1234,
		FrameIdx:            56,
		Codec:               7,
		KeyPos:              99999,
		UnitIndex:           2,
		UnitsTotal:          5,
		UnitsSrc:            4,
		UnitsFEC:            1,
		AdaptiveStreamIndex: -2,
		Data:                []byte{0xAA, 0xBB, 0xCC},
	}

	wire := codec.Encode(p, codec.PS4)
	got, err := codec.Parse(wire, codec.PS4)
	require.NoError(t, err)

	assert.Equal(t, p.Type, got.Type)
	assert.Equal(t, p.HasNALU, got.HasNALU)
	assert.Equal(t, p.Seq, got.Seq)
	assert.Equal(t, p.FrameIdx, got.FrameIdx)
	assert.Equal(t, p.Codec, got.Codec)
	assert.Equal(t, p.KeyPos, got.KeyPos)
	assert.Equal(t, p.UnitIndex, got.UnitIndex)
	assert.Equal(t, p.UnitsTotal, got.UnitsTotal)
	assert.Equal(t, p.UnitsSrc, got.UnitsSrc)
	assert.Equal(t, p.UnitsFEC, got.UnitsFEC)
	assert.Equal(t, p.AdaptiveStreamIndex, got.AdaptiveStreamIndex)
	assert.Equal(t, p.Data, got.Data)
}

func TestVideoRoundTripPS5HostOffsetUnaffected(t *testing.T) {
	// Video's base offset is fixed at 3 regardless of host generation;
	// only Audio gets the PS5 +1. Encode/Parse under PS4 and PS5 must
	// agree on where the payload (and the byte-20 AdaptiveStreamIndex)
	// start for an otherwise-identical video packet.
	p := &codec.Packet{
		Type:                codec.Video,
		HasNALU:             true,
		Seq:                 1234,
		FrameIdx:            56,
		Codec:               7,
		KeyPos:              99999,
		UnitIndex:           2,
		UnitsTotal:          5,
		UnitsSrc:            4,
		UnitsFEC:            1,
		AdaptiveStreamIndex: -2,
		Data:                []byte{0xAA, 0xBB, 0xCC},
	}

	wirePS4 := codec.Encode(p, codec.PS4)
	wirePS5 := codec.Encode(p, codec.PS5)
	assert.Equal(t, wirePS4, wirePS5)

	got, err := codec.Parse(wirePS5, codec.PS5)
	require.NoError(t, err)
	assert.Equal(t, p.AdaptiveStreamIndex, got.AdaptiveStreamIndex)
	assert.Equal(t, p.Data, got.Data)
}

func TestAudioRoundTrip(t *testing.T) {
	p := &codec.Packet{
		Type:          codec.Audio,
		Seq:           42,
		FrameIdx:      10,
		Codec:         2,
		KeyPos:        555,
		UnitIndex:     0,
		UnitsTotal:    4,
		UnitsSrc:      4,
		UnitsFEC:      0,
		AudioUnitSize: 3,
		Data:          make([]byte, 12),
	}

	wire := codec.Encode(p, codec.PS5)
	got, err := codec.Parse(wire, codec.PS5)
	require.NoError(t, err)

	assert.Equal(t, p.AudioUnitSize, got.AudioUnitSize)
	assert.Equal(t, p.UnitsTotal, got.UnitsTotal)
	assert.Equal(t, p.UnitsSrc, got.UnitsSrc)
	assert.Equal(t, p.UnitsFEC, got.UnitsFEC)
	assert.Len(t, got.Data, 12)
}

func TestUnitsInvariant(t *testing.T) {
	p := &codec.Packet{
		Type: codec.Video, UnitsTotal: 6, UnitsSrc: 4, UnitsFEC: 2,
		UnitIndex: 4, // first FEC unit
	}
	assert.True(t, p.IsFEC())
	assert.Equal(t, p.UnitsSrc+p.UnitsFEC, p.UnitsTotal)
}
