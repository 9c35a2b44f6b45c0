// Package session orchestrates one external (browser) session end to
// end: the console handshake (§4.H), the AV dispatch pipeline (§4.G),
// the health supervisor (§4.J), and the WebRTC signalling session
// (§4.I), tying a handshake, an RTP track writer, and a health
// supervisor into one managed session.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"

	"github.com/ethan/remote-play-relay/pkg/audio"
	"github.com/ethan/remote-play-relay/pkg/avpipeline"
	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/control"
	"github.com/ethan/remote-play-relay/pkg/handshake"
	"github.com/ethan/remote-play-relay/pkg/health"
	"github.com/ethan/remote-play-relay/pkg/logger"
	"github.com/ethan/remote-play-relay/pkg/pacer"
	"github.com/ethan/remote-play-relay/pkg/signalling"
	"github.com/ethan/remote-play-relay/pkg/video"
)

// sweepInterval is how often the Manager checks for expired WebRTC
// sessions (§4.I: "sessions auto-expire after 1h").
const sweepInterval = time.Minute

// videoMTU bounds H.264 RTP fragmentation per outgoing FU-A packet.
const videoMTU = 1200

// LaunchOptions is §3's RemoteSession launch_options plus the
// credentials needed to run the §4.H handshake.
type LaunchOptions struct {
	HostIP    string
	HostType  codec.HostType
	RegistKey string
	RPKey     [16]byte
	DeviceID  string
	Auth      []byte
}

// RemoteSession is §3's RemoteSession.
type RemoteSession struct {
	ID         string
	HostIP     string
	HostType   codec.HostType
	HostID     string
	Options    LaunchOptions
	AESKey     [16]byte
	SessionIV  [16]byte
	SessionID  []byte
	CreatedAt  time.Time
	StoppedAt  time.Time
}

// Entry is §3's WebRTCSession plus the collaborators the manager owns
// for the lifetime of one external session.
type Entry struct {
	Remote *RemoteSession
	WebRTC *signalling.Session

	handshake *handshake.Handshake
	pipeline  *avpipeline.Handler
	health    *health.Supervisor
	videoRecv *video.Receiver
	audioRecv *audio.Receiver
	control   control.Service

	videoTrack *webrtc.TrackLocalStaticRTP
	audioTrack *webrtc.TrackLocalStaticRTP
	payloader  *codecs.H264Payloader
	videoMu    sync.Mutex
	videoSeq   uint16
	audioMu    sync.Mutex
	audioSeq   uint16

	pacer *pacer.Pacer

	StreamingSessionID string
	PreferredCodec     string

	ctx    context.Context
	cancel context.CancelFunc
}

// Health exposes the per-session supervisor for §6's stream-health route.
func (e *Entry) Health() *health.Supervisor { return e.health }

// Manager owns every live Entry and its ctx/cancel/wg lifecycle.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Entry

	sigCfg   signalling.Config
	controlS control.Service
	profiles []video.Profile

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(sigCfg signalling.Config, controlS control.Service, profiles []video.Profile) *Manager {
	return &Manager{
		sessions: make(map[string]*Entry),
		sigCfg:   sigCfg,
		controlS: controlS,
		profiles: profiles,
	}
}

// Start launches the expiry-sweep loop.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.sweepLoop()
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.StopSession(id)
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.sweepExpired(now)
		}
	}
}

func (m *Manager) sweepExpired(now time.Time) {
	m.mu.Lock()
	var expired []string
	for id, e := range m.sessions {
		if e.WebRTC.Expired(now) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		logger.Info("remote-play session expired", "session_id", id)
		_ = m.StopSession(id)
	}
}

// CreateSession builds the full collaborator graph for one external
// session and returns the SDP offer to hand back to the browser.
func (m *Manager) CreateSession(ctx context.Context, opts LaunchOptions) (*Entry, string, error) {
	id := uuid.NewString()

	remote := &RemoteSession{
		ID:        id,
		HostIP:    opts.HostIP,
		HostType:  opts.HostType,
		Options:   opts,
		CreatedAt: time.Now(),
	}

	wsession, err := signalling.NewSession(m.sigCfg)
	if err != nil {
		return nil, "", fmt.Errorf("session: create signalling session: %w", err)
	}

	sup := health.NewSupervisor()
	videoRecv := video.NewReceiver(m.profiles)
	audioRecv := audio.NewReceiver()
	pipeline := avpipeline.NewHandler(sup)
	pipeline.SetReceivers(videoRecv, audioRecv)

	entryCtx, cancel := context.WithCancel(ctx)
	e := &Entry{
		Remote:    remote,
		WebRTC:    wsession,
		handshake: handshake.New(opts.HostIP, opts.HostType, opts.RegistKey, opts.RPKey),
		pipeline:  pipeline,
		health:    sup,
		videoRecv: videoRecv,
		audioRecv: audioRecv,
		control:   m.controlS,
		payloader: &codecs.H264Payloader{},
		ctx:       entryCtx,
		cancel:    cancel,
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"remote-play-video", id)
	if err != nil {
		cancel()
		return nil, "", fmt.Errorf("session: create video track: %w", err)
	}
	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"remote-play-audio", id)
	if err != nil {
		cancel()
		return nil, "", fmt.Errorf("session: create audio track: %w", err)
	}
	e.videoTrack = videoTrack
	e.audioTrack = audioTrack
	e.pacer = pacer.New(entryCtx, e.paceWriteVideo, e.paceWriteAudio)

	if _, err := wsession.AddTrack(videoTrack); err != nil {
		cancel()
		return nil, "", fmt.Errorf("session: add video track: %w", err)
	}
	if _, err := wsession.AddTrack(audioTrack); err != nil {
		cancel()
		return nil, "", fmt.Errorf("session: add audio track: %w", err)
	}

	videoRecv.OnFrame = e.onVideoFrame
	audioRecv.OnFrame = e.onAudioFrame

	// §4.I: browser PLI/FIR surfaces as a keyframe request against
	// whatever streaming session this WebRTC session is attached to.
	wsession.OnKeyframeRequested = func(reason string) {
		sup.RequestKeyframe("webrtc: " + reason)
	}
	// The wire command to ask the console itself for an IDR frame is
	// not among §4.H's documented frame types (HEARTBEAT/SESSION_ID/
	// STANDBY/INPUT only), so a keyframe request is only logged for
	// operators: nothing is sent to the console and no state is reset.
	sup.OnKeyframeRequest = func(reason string) {
		logger.Default().DebugHealth("keyframe requested", "session_id", id, "reason", reason)
	}

	offer, err := wsession.CreateOffer(ctx)
	if err != nil {
		cancel()
		return nil, "", fmt.Errorf("session: create offer: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = e
	m.mu.Unlock()

	return e, offer, nil
}

// ConnectStream runs the §4.H handshake against the console and, once
// Running, starts the AV dispatch pipeline. It runs in the caller's
// goroutine since §6's connect-stream route is expected to block until
// the handshake either succeeds or fails.
func (m *Manager) ConnectStream(ctx context.Context, id string) error {
	e, ok := m.get(id)
	if !ok {
		return fmt.Errorf("session: unknown session %q", id)
	}

	if err := e.handshake.Discover(ctx); err != nil {
		return fmt.Errorf("session: discover: %w", err)
	}
	if err := e.handshake.Init(ctx); err != nil {
		return fmt.Errorf("session: init: %w", err)
	}
	if err := e.handshake.KeyDerive(); err != nil {
		return fmt.Errorf("session: key derive: %w", err)
	}
	if err := e.handshake.SessionOpen(ctx, e.Remote.Options.Auth, e.Remote.Options.DeviceID); err != nil {
		return fmt.Errorf("session: session open: %w", err)
	}

	e.pipeline.SetCipher(e.handshake.Cipher())
	e.pipeline.Start()
	e.pacer.Start()

	// §4.H: session-ready permits optional auto-start of controller
	// binding; §6's control surface rides this session id.
	e.handshake.OnSessionReady = func(sid []byte) {
		e.Remote.SessionID = sid
		if e.control != nil {
			if err := e.control.Connect(e.Remote.ID); err != nil {
				logger.Warn("session: controller connect failed", "session_id", e.Remote.ID, "error", err)
			}
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		e.runAVListener()
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := e.handshake.RunControlLoop(e.ctx); err != nil {
			logger.Warn("session: control loop ended", "session_id", id, "error", err)
		}
	}()

	return nil
}

func (m *Manager) get(id string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	return e, ok
}

// SetStreamingSessionID records the streaming service's own session id
// against this WebRTC session (§6's connect-stream request body), so
// later §6::IStreamingService calls can be correlated back to it.
func (m *Manager) SetStreamingSessionID(id, streamingSessionID string) error {
	e, ok := m.get(id)
	if !ok {
		return fmt.Errorf("session: unknown session %q", id)
	}
	e.StreamingSessionID = streamingSessionID
	e.WebRTC.StreamingSessionID = streamingSessionID
	return nil
}

func (m *Manager) SetAnswer(id, sdp string) error {
	e, ok := m.get(id)
	if !ok {
		return fmt.Errorf("session: unknown session %q", id)
	}
	return e.WebRTC.SetAnswer(sdp)
}

func (m *Manager) AddCandidate(id, candidate string, sdpMid *string, sdpMLineIndex *uint16) error {
	e, ok := m.get(id)
	if !ok {
		return fmt.Errorf("session: unknown session %q", id)
	}
	return e.WebRTC.AddRemoteCandidate(candidate, sdpMid, sdpMLineIndex)
}

func (m *Manager) Candidates(id string) ([]string, error) {
	e, ok := m.get(id)
	if !ok {
		return nil, fmt.Errorf("session: unknown session %q", id)
	}
	return e.WebRTC.PendingCandidates(), nil
}

func (m *Manager) StreamHealth(id string) (health.Snapshot, error) {
	e, ok := m.get(id)
	if !ok {
		return health.Snapshot{}, fmt.Errorf("session: unknown session %q", id)
	}
	return e.health.Snapshot(false), nil
}

func (m *Manager) RequestKeyframe(id, reason string) error {
	e, ok := m.get(id)
	if !ok {
		return fmt.Errorf("session: unknown session %q", id)
	}
	e.health.RequestKeyframe(reason)
	return nil
}

// StopSession implements §4.I's removal lifecycle: stop the stream,
// disconnect the controller, close the peer connection.
func (m *Manager) StopSession(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown session %q", id)
	}

	e.cancel()
	e.pacer.Stop()
	e.pipeline.Stop()
	if e.control != nil {
		_ = e.control.Disconnect(id)
	}
	_ = e.handshake.Stop()
	if err := e.WebRTC.Close(); err != nil {
		logger.Warn("error closing peer connection", "session_id", id, "error", err)
	}
	e.Remote.StoppedAt = time.Now()

	return nil
}

// runAVListener reads the console's AV UDP stream and feeds it to the
// dispatch pipeline. §4's wire protocol notes describe the AV packet
// format (§4.A) but not which local port/negotiation carries it; this
// listens on an ephemeral UDP socket as a placeholder transport seam
// until that negotiation is specified.
func (e *Entry) runAVListener() {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		logger.Error("session: AV listener failed to bind", "error", err)
		return
	}
	defer conn.Close()

	go func() {
		<-e.ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		if err := e.pipeline.AddPacket(pkt, e.Remote.HostType); err != nil {
			logger.Default().DebugPacket("session: drop malformed AV packet", "error", err)
		}
	}
}

func (e *Entry) onVideoFrame(data []byte, recovered, success, isIDR bool) {
	if !success && !recovered {
		return
	}
	nalus := splitAnnexB(data)
	if len(nalus) == 0 {
		return
	}

	e.videoMu.Lock()
	seq := e.videoSeq
	e.videoMu.Unlock()

	ts := uint32(uint64(time.Now().UnixNano()) * 90000 / 1e9)

	for naluIdx, nalu := range nalus {
		payloads := e.payloader.Payload(videoMTU, nalu)
		for i, payload := range payloads {
			marker := naluIdx == len(nalus)-1 && i == len(payloads)-1
			if err := e.pacer.EnqueueVideo(pacer.VideoPacket{Payload: payload, Seq: seq, Timestamp: ts, Marker: marker}); err != nil {
				logger.Default().DebugVideo("session: enqueue video RTP failed", "error", err)
				return
			}
			seq++
		}
	}

	e.videoMu.Lock()
	e.videoSeq = seq
	e.videoMu.Unlock()
}

func (e *Entry) onAudioFrame(seqHint uint16, data []byte) {
	// The console's audio codec is not necessarily WebRTC-native; no
	// transcode stage is specified, so frames are forwarded as opaque
	// Opus-typed payloads (passthrough only, no transcode).
	e.audioMu.Lock()
	seq := e.audioSeq
	e.audioSeq++
	e.audioMu.Unlock()

	ts := uint32(uint64(time.Now().UnixNano()) * 48000 / 1e9)
	if err := e.pacer.EnqueueAudio(pacer.AudioPacket{Payload: data, Seq: seq, Timestamp: ts}); err != nil {
		logger.Default().DebugAudio("session: enqueue audio RTP failed", "error", err)
	}
}

// paceWriteVideo and paceWriteAudio are the pacer's track-write
// callbacks, run from the pacer's own goroutines rather than the AV
// dispatch goroutine that called onVideoFrame/onAudioFrame.
func (e *Entry) paceWriteVideo(pkt pacer.VideoPacket) error {
	return e.writeVideoRTP(pkt.Payload, pkt.Seq, pkt.Timestamp, pkt.Marker)
}

func (e *Entry) paceWriteAudio(pkt pacer.AudioPacket) error {
	return e.writeAudioRTP(pkt.Payload, pkt.Seq)
}
