package api

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/health"
	"github.com/ethan/remote-play-relay/pkg/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

// createSessionRequest is the browser's launch request: enough to run
// the §4.H handshake once the stream is connected.
type createSessionRequest struct {
	HostIP    string `json:"host_ip"`
	HostType  string `json:"host_type"` // "PS4" or "PS5"
	RegistKey string `json:"regist_key"`
	RPKey     string `json:"rp_key"` // hex-encoded, 16 bytes
	DeviceID  string `json:"device_id"`
	Auth      string `json:"auth"` // base64-encoded
}

func (r createSessionRequest) toLaunchOptions() (session.LaunchOptions, error) {
	hostType, err := parseHostType(r.HostType)
	if err != nil {
		return session.LaunchOptions{}, err
	}

	var rpKey [16]byte
	if r.RPKey != "" {
		raw, err := hex.DecodeString(r.RPKey)
		if err != nil {
			return session.LaunchOptions{}, fmt.Errorf("rp_key: invalid hex: %w", err)
		}
		if len(raw) != 16 {
			return session.LaunchOptions{}, fmt.Errorf("rp_key: want 16 bytes, got %d", len(raw))
		}
		copy(rpKey[:], raw)
	}

	var auth []byte
	if r.Auth != "" {
		auth, err = base64.StdEncoding.DecodeString(r.Auth)
		if err != nil {
			return session.LaunchOptions{}, fmt.Errorf("auth: invalid base64: %w", err)
		}
	}

	return session.LaunchOptions{
		HostIP:    r.HostIP,
		HostType:  hostType,
		RegistKey: r.RegistKey,
		RPKey:     rpKey,
		DeviceID:  r.DeviceID,
		Auth:      auth,
	}, nil
}

func parseHostType(s string) (codec.HostType, error) {
	switch strings.ToUpper(s) {
	case "PS4":
		return codec.PS4, nil
	case "PS5":
		return codec.PS5, nil
	default:
		return 0, fmt.Errorf("host_type: want PS4 or PS5, got %q", s)
	}
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	SDPOffer  string `json:"sdp_offer"`
}

type answerRequest struct {
	SDP string `json:"sdp"`
}

type candidateRequest struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

type candidatesResponse struct {
	Candidates []string `json:"candidates"`
}

type connectStreamRequest struct {
	RemotePlaySessionID string `json:"remote_play_session_id"`
}

type keyframeRequest struct {
	Reason string `json:"reason"`
}

// turnServerResponse mirrors §6's turn-config entry shape exactly.
type turnServerResponse struct {
	URL        string `json:"url"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

type turnConfigResponse struct {
	TURNServers []turnServerResponse `json:"turnServers"`
}

// streamHealthResponse is §4.J's StreamHealthSnapshot, camelCased for
// the browser client.
type streamHealthResponse struct {
	TotalFrames     uint64         `json:"totalFrames"`
	TotalBytes      uint64         `json:"totalBytes"`
	RecentFPS       float64        `json:"recentFps"`
	AvgIntervalMs   float64        `json:"avgIntervalMs"`
	BitrateMbps     float64        `json:"bitrateMbps"`
	FramesLostDelta int            `json:"framesLostDelta"`
	Frozen          bool           `json:"frozen"`
	FreezeReason    string         `json:"freezeReason,omitempty"`
	LastFrameUTC    string         `json:"lastFrameUtc"`
	RecentByStatus  map[string]int `json:"recentByStatus"`
}

func toStreamHealthResponse(snap health.Snapshot) streamHealthResponse {
	byStatus := make(map[string]int, len(snap.RecentByStatus))
	for status, count := range snap.RecentByStatus {
		byStatus[status.String()] = count
	}
	return streamHealthResponse{
		TotalFrames:     snap.TotalFrames,
		TotalBytes:      snap.TotalBytes,
		RecentFPS:       snap.RecentFPS,
		AvgIntervalMs:   snap.AvgIntervalMs,
		BitrateMbps:     snap.BitrateMbps,
		FramesLostDelta: snap.FramesLostDelta,
		Frozen:          snap.Frozen,
		FreezeReason:    snap.FreezeReason,
		LastFrameUTC:    snap.LastFrameUTC.UTC().Format("2006-01-02T15:04:05.000Z"),
		RecentByStatus:  byStatus,
	}
}
