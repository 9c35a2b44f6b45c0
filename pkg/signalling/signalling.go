// Package signalling implements §4.I: per-browser WebRTC peer
// connection lifecycle, SDP rewriting, ICE candidate trickling, and
// keyframe feedback (PLI/FIR) wiring back to the AV pipeline.
package signalling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethan/remote-play-relay/pkg/logger"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const (
	gatherTimeoutNoTURN = 2 * time.Second
	gatherTimeoutTURN   = 8 * time.Second
	sessionTTL          = time.Hour
)

// Config carries the ICE server list and SDP-rewrite preferences a
// Session is built with.
type Config struct {
	STUNServers        []string
	TURNServers        []webrtc.ICEServer
	PublicIP           string
	PreferLANCandidate bool

	// ICEPortMin/Max restrict ephemeral UDP allocation to the
	// configured range (§6's ice_port_min/max). ShufflePorts is
	// recorded but not enforced: pion's SettingEngine allocates
	// sequentially within the range and exposes no randomisation hook.
	ICEPortMin   uint16
	ICEPortMax   uint16
	ShufflePorts bool
}

func (c Config) hasTURN() bool { return len(c.TURNServers) > 0 }

func (c Config) iceServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.STUNServers)+len(c.TURNServers))
	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}
	servers = append(servers, c.TURNServers...)
	return servers
}

// storedCandidate is a server-generated candidate buffered for GET-poll
// retrieval, keyed by §3's PendingCandidateKey.
type storedCandidate struct {
	text  string
	ufrag string
}

// Session wraps one browser-facing peer connection.
type Session struct {
	cfg Config

	pc *webrtc.PeerConnection

	mu               sync.Mutex
	localUfrag       string
	remoteUfrag      string
	remoteSet        bool
	pendingByCoreKey map[string]storedCandidate
	coreKeyOrder     []string

	createdAt time.Time

	StreamingSessionID string
	OnKeyframeRequested func(reason string)
}

// NewSession creates a peer connection with §4.I's fixed policy set.
func NewSession(cfg Config) (*Session, error) {
	config := webrtc.Configuration{
		ICEServers:         cfg.iceServers(),
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:      webrtc.RTCPMuxPolicyRequire,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "packetization-mode=1;profile-level-id=42001f",
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("signalling: register H264 codec: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("signalling: register opus codec: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.ICEPortMin > 0 && cfg.ICEPortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.ICEPortMin, cfg.ICEPortMax); err != nil {
			return nil, fmt.Errorf("signalling: set ICE port range: %w", err)
		}
	}

	papi := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))
	pc, err := papi.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("signalling: create peer connection: %w", err)
	}

	s := &Session{
		cfg:              cfg,
		pc:               pc,
		pendingByCoreKey: make(map[string]storedCandidate),
		createdAt:        time.Now(),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.bufferCandidate(c.ToJSON().Candidate)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Default().DebugSignalling("peer connection state changed", "state", state.String())
	})

	return s, nil
}

// PeerConnection exposes the underlying pion connection for track
// attachment by the AV pipeline / session orchestrator.
func (s *Session) PeerConnection() *webrtc.PeerConnection { return s.pc }

// AddTrack adds an outgoing media track (video or audio, sourced from
// the AV pipeline) and starts an RTCP reader on its sender so PLI/FIR
// feedback from the browser surfaces as keyframe requests.
func (s *Session) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("signalling: add track: %w", err)
	}
	go s.readRTCPFeedback(sender)
	return sender, nil
}

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Expired reports whether this session has outlived §4.I's 1h TTL.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.createdAt) > sessionTTL
}

// CreateOffer builds a local offer, sets it as the local description,
// waits for ICE gathering (bounded by §4.I's 2s/8s timeout), and
// returns the rewritten SDP.
func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("signalling: create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("signalling: set local description: %w", err)
	}
	s.waitForGathering(ctx)

	local := s.pc.LocalDescription()
	s.mu.Lock()
	s.localUfrag = extractUfrag(local.SDP)
	s.mu.Unlock()

	return s.rewrite(local.SDP)
}

func (s *Session) waitForGathering(ctx context.Context) {
	timeout := gatherTimeoutNoTURN
	if s.cfg.hasTURN() {
		timeout = gatherTimeoutTURN
	}
	gatherDone := webrtc.GatheringCompletePromise(s.pc)
	select {
	case <-gatherDone:
	case <-time.After(timeout):
	case <-ctx.Done():
	}
}

func (s *Session) rewrite(sdp string) (string, error) {
	return RewriteSDP(sdp, s.cfg.PublicIP, s.cfg.PreferLANCandidate)
}

// SetAnswer sets the browser's SDP answer as the remote description and
// records its ice-ufrag so buffered candidates can be stamped and
// filtered correctly.
func (s *Session) SetAnswer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("signalling: set remote description: %w", err)
	}

	ufrag := extractUfrag(sdp)
	s.mu.Lock()
	s.remoteUfrag = ufrag
	s.remoteSet = true
	for key, c := range s.pendingByCoreKey {
		s.pendingByCoreKey[key] = storedCandidate{text: ensureUfrag(c.text, ufrag), ufrag: ufrag}
	}
	s.mu.Unlock()

	return nil
}

// AddRemoteCandidate adds a browser-generated candidate verbatim.
// sdpMid/sdpMLineIndex are optional per the WebRTC candidate-init shape
// and forwarded as given.
func (s *Session) AddRemoteCandidate(candidate string, sdpMid *string, sdpMLineIndex *uint16) error {
	return s.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	})
}

// bufferCandidate implements the server-candidate side of §4.I's
// trickling: ensure_ufrag, then dedup by core key (a candidate with a
// ufrag, or a differing ufrag, replaces one without).
func (s *Session) bufferCandidate(candidate string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ufrag := s.currentUfragLocked()
	stamped := ensureUfrag(candidate, ufrag)
	key := coreKey(stamped)

	existing, ok := s.pendingByCoreKey[key]
	if ok {
		if existing.ufrag == "" || (ufrag != "" && existing.ufrag != ufrag) {
			s.pendingByCoreKey[key] = storedCandidate{text: stamped, ufrag: ufrag}
		}
		return
	}

	s.pendingByCoreKey[key] = storedCandidate{text: stamped, ufrag: ufrag}
	s.coreKeyOrder = append(s.coreKeyOrder, key)
}

// currentUfragLocked prefers the remote (browser) ufrag, falling back
// to the local one if the remote description isn't set yet.
func (s *Session) currentUfragLocked() string {
	if s.remoteSet && s.remoteUfrag != "" {
		return s.remoteUfrag
	}
	return s.localUfrag
}

// PendingCandidates returns the buffered server candidates filtered to
// those matching the current remote ufrag, in insertion order.
func (s *Session) PendingCandidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	remote := s.remoteUfrag
	out := make([]string, 0, len(s.coreKeyOrder))
	for _, key := range s.coreKeyOrder {
		c, ok := s.pendingByCoreKey[key]
		if !ok {
			continue
		}
		if s.remoteSet && c.ufrag != remote {
			continue
		}
		out = append(out, c.text)
	}
	return out
}

// readRTCPFeedback implements §4.I's keyframe feedback wiring: PLI/FIR
// observed on an outgoing track's sender surfaces as a call to
// OnKeyframeRequested.
func (s *Session) readRTCPFeedback(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication:
				s.fireKeyframeRequest("PLI")
			case *rtcp.FullIntraRequest:
				s.fireKeyframeRequest("FIR")
			}
		}
	}
}

func (s *Session) fireKeyframeRequest(reason string) {
	if s.OnKeyframeRequested != nil {
		s.OnKeyframeRequested(reason)
	}
}

// Close implements §4.I's removal lifecycle step for the peer
// connection itself; disconnecting the controller and stopping the
// stream are the orchestrator's responsibility (it owns those
// collaborators).
func (s *Session) Close() error {
	return s.pc.Close()
}

func extractUfrag(sdp string) string {
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "a=ice-ufrag:") {
			return strings.TrimPrefix(line, "a=ice-ufrag:")
		}
	}
	return ""
}
