// Package codec implements the AV packet wire format: §4.A of the
// design — parsing and re-serializing the 18-byte packet header plus
// type- and host-dependent payload offset.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/ethan/remote-play-relay/pkg/relayerr"
	"github.com/sigurn/crc8"
)

// PacketType distinguishes video from audio AV packets.
type PacketType uint8

const (
	Video PacketType = iota
	Audio
)

func (t PacketType) String() string {
	if t == Video {
		return "video"
	}
	return "audio"
}

// HostType selects console-generation-specific offsets.
type HostType uint8

const (
	PS4 HostType = iota
	PS5
)

// minPacketLen is the minimum wire length before a header can be parsed.
const minPacketLen = 18

// crc8Table is used only as a diagnostic corruption sniff on
// malformed-length packets; the wire protocol itself carries no CRC.
var crc8Table = crc8.MakeTable(crc8.CRC8)

// Packet is the parsed representation of an AV packet (spec.md §3 AVPacket).
type Packet struct {
	Type     PacketType
	HasNALU  bool
	Seq      uint16
	FrameIdx uint16
	Codec    byte
	KeyPos   uint32

	UnitIndex uint32
	UnitsTotal uint32
	UnitsSrc   uint32
	UnitsFEC   uint32

	AudioUnitSize       uint32 // audio only
	AdaptiveStreamIndex int8   // video only, signed

	Data []byte
}

// IsFEC reports whether this packet carries a parity unit rather than source payload.
func (p *Packet) IsFEC() bool {
	return p.UnitIndex >= p.UnitsSrc
}

// SequenceNumber satisfies reorder.Sequenced.
func (p *Packet) SequenceNumber() uint16 { return p.Seq }

// The accessors below satisfy fec.UnitAccessor without pkg/fec needing
// to import pkg/codec (keeping the FEC frame builder generic over any
// packet-shaped source).
func (p *Packet) GetUnitIndex() int  { return int(p.UnitIndex) }
func (p *Packet) GetUnitsTotal() int { return int(p.UnitsTotal) }
func (p *Packet) GetUnitsSrc() int   { return int(p.UnitsSrc) }
func (p *Packet) GetUnitsFEC() int   { return int(p.UnitsFEC) }
func (p *Packet) GetData() []byte    { return p.Data }

// ReorderKey32 combines seq and frame_index into the 32-bit reorder key
// named in spec.md §3; the reorder queue itself is driven off Seq alone
// (§4.C operates on the 16-bit field with wraparound comparison).
func (p *Packet) ReorderKey32() uint32 {
	return uint32(p.FrameIdx)<<16 | uint32(p.Seq)
}

// Parse decodes a raw AV packet per spec.md §4.A. Never panics; invalid
// input always returns a *relayerr.ParseError.
func Parse(raw []byte, host HostType) (*Packet, error) {
	if len(raw) < minPacketLen {
		if len(raw) > 0 {
			_ = crc8.Checksum(raw, crc8Table) // diagnostic only, not load-bearing
		}
		return nil, &relayerr.ParseError{Reason: fmt.Sprintf("length %d < minimum %d", len(raw), minPacketLen)}
	}

	typeNibble := raw[0] & 0x0F
	var ptype PacketType
	switch typeNibble {
	case 0:
		ptype = Video
	case 1:
		ptype = Audio
	default:
		return nil, &relayerr.ParseError{Reason: fmt.Sprintf("invalid type nibble %d", typeNibble)}
	}

	hasNALU := raw[0]&0x10 != 0
	seq := binary.BigEndian.Uint16(raw[1:3])
	frameIdx := binary.BigEndian.Uint16(raw[3:5])
	dword2 := binary.BigEndian.Uint32(raw[5:9])
	codecByte := raw[9]
	keyPos := binary.BigEndian.Uint32(raw[14:18])

	p := &Packet{
		Type:     ptype,
		HasNALU:  hasNALU,
		Seq:      seq,
		FrameIdx: frameIdx,
		Codec:    codecByte,
		KeyPos:   keyPos,
	}

	var baseOffset int
	switch ptype {
	case Video:
		baseOffset = 3
		p.UnitIndex = (dword2 >> 21) & 0x7FF
		p.UnitsTotal = ((dword2 >> 10) & 0x7FF) + 1
		p.UnitsFEC = dword2 & 0x3FF
		p.UnitsSrc = p.UnitsTotal - p.UnitsFEC
		if len(raw) > 20 {
			p.AdaptiveStreamIndex = int8(raw[20]) >> 5
		}
	case Audio:
		baseOffset = 1
		if host == PS5 {
			baseOffset++
		}
		p.UnitIndex = (dword2 >> 24) & 0xFF
		p.UnitsTotal = ((dword2 >> 16) & 0xFF) + 1
		low16 := dword2 & 0xFFFF
		p.AudioUnitSize = (low16 >> 8) & 0xFF
		p.UnitsFEC = (low16 >> 4) & 0xF
		p.UnitsSrc = low16 & 0xF
	}

	if hasNALU {
		baseOffset += 3
	}

	dataStart := minPacketLen + baseOffset
	if dataStart > len(raw) {
		return nil, &relayerr.ParseError{Reason: fmt.Sprintf("payload offset %d exceeds length %d", dataStart, len(raw))}
	}
	p.Data = raw[dataStart:]

	if ptype == Audio && p.AudioUnitSize > 0 {
		expected := int(p.AudioUnitSize) * int(p.UnitsTotal)
		if len(p.Data) != expected {
			// Logged and dropped upstream via ParseError; do not panic on
			// a length mismatch, only report it.
			return nil, &relayerr.ParseError{Reason: fmt.Sprintf("audio data length %d != audio_unit_size*units_total %d", len(p.Data), expected)}
		}
	}

	return p, nil
}

// Encode re-serializes a Packet to wire bytes for the given host type.
// Round-tripping Parse(Encode(p, host), host) reproduces p's fields
// (spec.md §8 property 1); it is not guaranteed to reproduce the exact
// original bytes of whatever packet Parse first decoded.
func Encode(p *Packet, host HostType) []byte {
	var baseOffset int
	var typeNibble byte
	var dword2 uint32

	switch p.Type {
	case Video:
		typeNibble = 0
		baseOffset = 3
		fec := p.UnitsFEC & 0x3FF
		total := (p.UnitsTotal - 1) & 0x7FF
		dword2 = (p.UnitIndex&0x7FF)<<21 | total<<10 | fec
	case Audio:
		typeNibble = 1
		baseOffset = 1
		if host == PS5 {
			baseOffset++
		}
		total := (p.UnitsTotal - 1) & 0xFF
		low16 := (p.AudioUnitSize&0xFF)<<8 | (p.UnitsFEC&0xF)<<4 | (p.UnitsSrc & 0xF)
		dword2 = (p.UnitIndex&0xFF)<<24 | total<<16 | low16
	}

	if p.HasNALU {
		baseOffset += 3
	}

	total := minPacketLen + baseOffset + len(p.Data)
	out := make([]byte, total)

	out[0] = typeNibble
	if p.HasNALU {
		out[0] |= 0x10
	}
	binary.BigEndian.PutUint16(out[1:3], p.Seq)
	binary.BigEndian.PutUint16(out[3:5], p.FrameIdx)
	binary.BigEndian.PutUint32(out[5:9], dword2)
	out[9] = p.Codec
	binary.BigEndian.PutUint32(out[14:18], p.KeyPos)

	if p.Type == Video && minPacketLen+baseOffset > 20 {
		out[20] = byte(p.AdaptiveStreamIndex) << 5
	}

	copy(out[minPacketLen+baseOffset:], p.Data)
	return out
}
