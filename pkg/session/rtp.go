package session

import (
	"github.com/pion/rtp"
)

const (
	videoPayloadType = 96
	audioPayloadType = 111
)

func (e *Entry) writeVideoRTP(payload []byte, seq uint16, ts uint32, marker bool) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    videoPayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			Marker:         marker,
		},
		Payload: payload,
	}
	return e.videoTrack.WriteRTP(pkt)
}

func (e *Entry) writeAudioRTP(payload []byte, seq uint16) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    audioPayloadType,
			SequenceNumber: seq,
		},
		Payload: payload,
	}
	return e.audioTrack.WriteRTP(pkt)
}

// splitAnnexB splits an AnnexB byte stream (00 00 01 / 00 00 00 01
// start codes) into raw NAL units, matching the format video.Receiver
// emits.
func splitAnnexB(data []byte) [][]byte {
	type mark struct{ start, codeLen int }
	var marks []mark
	for i := 0; i+2 < len(data); i++ {
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			marks = append(marks, mark{i, 4})
			i += 3
			continue
		}
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			marks = append(marks, mark{i, 3})
			i += 2
		}
	}
	if len(marks) == 0 {
		return nil
	}

	var nalus [][]byte
	for i, m := range marks {
		start := m.start + m.codeLen
		end := len(data)
		if i+1 < len(marks) {
			end = marks[i+1].start
		}
		if start >= end {
			continue
		}
		nalus = append(nalus, data[start:end])
	}
	return nalus
}
