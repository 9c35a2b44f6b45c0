// Package pacer smooths the AV dispatch pipeline's bursty frame
// delivery into steady RTP transmission: a leaky-bucket pacer that
// buffers outgoing video/audio RTP packets and drains them spaced by
// the same RTP-timestamp delta the console encoded them at, rather
// than forwarding them the instant the reorder/FEC pipeline emits a
// frame (whenever the transport happened to deliver it).
package pacer

import (
	"context"
	"sync"
	"time"

	"github.com/ethan/remote-play-relay/pkg/logger"
)

const (
	videoClockRate = 90000 // H.264, matches pkg/session's RTP timestamp clock
	audioClockRate = 48000 // Opus

	// catchupSpeedMultiplier drains a backlog faster than real time
	// rather than holding every queued frame to its nominal delay.
	catchupSpeedMultiplier = 1.1
	catchupThreshold       = 5

	maxPacketDelay = 200 * time.Millisecond

	queueDepth = 16
)

// VideoPacket is one already-payloaded RTP fragment awaiting paced
// transmission; Seq/Marker are assigned by the caller before
// enqueueing since fragmentation (FU-A) happens upstream of the pacer.
type VideoPacket struct {
	Payload   []byte
	Seq       uint16
	Timestamp uint32
	Marker    bool
}

// AudioPacket is one opaque audio payload awaiting paced transmission.
type AudioPacket struct {
	Payload   []byte
	Seq       uint16
	Timestamp uint32
}

// Pacer implements the leaky-bucket algorithm: packets are enqueued as
// they arrive off the pipeline and drained at a rate derived from the
// delta between consecutive RTP timestamps, absorbing delivery jitter
// from the console's TCP/UDP side before packets reach the WebRTC
// track writer.
type Pacer struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	videoChan chan VideoPacket
	audioChan chan AudioPacket

	writeVideo func(VideoPacket) error
	writeAudio func(AudioPacket) error

	lastVideoTS      uint32
	lastVideoSentAt  time.Time
	firstVideoPacket bool

	lastAudioTS      uint32
	lastAudioSentAt  time.Time
	firstAudioPacket bool

	statsMu             sync.Mutex
	videoSent           uint64
	audioSent           uint64
	videoBurstsAbsorbed uint64
	audioBurstsAbsorbed uint64
}

// New builds a Pacer. writeVideo/writeAudio perform the actual
// track write (session.Entry.writeVideoRTP/writeAudioRTP) and are
// called from the pacer's own goroutines, never from the caller's.
func New(ctx context.Context, writeVideo func(VideoPacket) error, writeAudio func(AudioPacket) error) *Pacer {
	ctx, cancel := context.WithCancel(ctx)
	return &Pacer{
		ctx:              ctx,
		cancel:           cancel,
		videoChan:        make(chan VideoPacket, queueDepth),
		audioChan:        make(chan AudioPacket, queueDepth),
		writeVideo:       writeVideo,
		writeAudio:       writeAudio,
		firstVideoPacket: true,
		firstAudioPacket: true,
	}
}

// Start launches the video and audio pacing goroutines.
func (p *Pacer) Start() {
	p.wg.Add(2)
	go func() { defer p.wg.Done(); p.videoLoop() }()
	go func() { defer p.wg.Done(); p.audioLoop() }()
}

// Stop cancels both pacing goroutines and waits for them to exit.
func (p *Pacer) Stop() {
	p.cancel()
	p.wg.Wait()
}

// EnqueueVideo queues pkt, blocking once the buffer saturates rather
// than dropping — backpressure onto the AV dispatch goroutine is
// preferable to silently losing a frame.
func (p *Pacer) EnqueueVideo(pkt VideoPacket) error {
	select {
	case p.videoChan <- pkt:
		return nil
	default:
		p.statsMu.Lock()
		p.videoBurstsAbsorbed++
		p.statsMu.Unlock()
		select {
		case p.videoChan <- pkt:
			return nil
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
}

// EnqueueAudio queues pkt with the same backpressure behavior as EnqueueVideo.
func (p *Pacer) EnqueueAudio(pkt AudioPacket) error {
	select {
	case p.audioChan <- pkt:
		return nil
	default:
		p.statsMu.Lock()
		p.audioBurstsAbsorbed++
		p.statsMu.Unlock()
		select {
		case p.audioChan <- pkt:
			return nil
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
}

func (p *Pacer) videoLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case pkt := <-p.videoChan:
			if err := p.paceVideo(pkt); err != nil && p.ctx.Err() == nil {
				logger.Default().DebugVideo("pacer: video write failed", "error", err)
			}
		}
	}
}

func (p *Pacer) audioLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case pkt := <-p.audioChan:
			if err := p.paceAudio(pkt); err != nil && p.ctx.Err() == nil {
				logger.Default().DebugAudio("pacer: audio write failed", "error", err)
			}
		}
	}
}

func (p *Pacer) paceVideo(pkt VideoPacket) error {
	if p.firstVideoPacket {
		p.firstVideoPacket = false
		p.lastVideoTS = pkt.Timestamp
		p.lastVideoSentAt = time.Now()
		return p.sendVideo(pkt)
	}

	delay := tsDelay(pkt.Timestamp, p.lastVideoTS, videoClockRate, p.lastVideoSentAt)
	if len(p.videoChan) >= catchupThreshold {
		delay = time.Duration(float64(delay) / catchupSpeedMultiplier)
	}
	delay = clampDelay(delay)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}

	p.lastVideoTS = pkt.Timestamp
	p.lastVideoSentAt = time.Now()
	return p.sendVideo(pkt)
}

func (p *Pacer) sendVideo(pkt VideoPacket) error {
	if err := p.writeVideo(pkt); err != nil {
		return err
	}
	p.statsMu.Lock()
	p.videoSent++
	p.statsMu.Unlock()
	return nil
}

func (p *Pacer) paceAudio(pkt AudioPacket) error {
	if p.firstAudioPacket {
		p.firstAudioPacket = false
		p.lastAudioTS = pkt.Timestamp
		p.lastAudioSentAt = time.Now()
		return p.sendAudio(pkt)
	}

	delay := tsDelay(pkt.Timestamp, p.lastAudioTS, audioClockRate, p.lastAudioSentAt)
	if len(p.audioChan) >= catchupThreshold {
		delay = time.Duration(float64(delay) / catchupSpeedMultiplier)
	}
	delay = clampDelay(delay)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}

	p.lastAudioTS = pkt.Timestamp
	p.lastAudioSentAt = time.Now()
	return p.sendAudio(pkt)
}

func (p *Pacer) sendAudio(pkt AudioPacket) error {
	if err := p.writeAudio(pkt); err != nil {
		return err
	}
	p.statsMu.Lock()
	p.audioSent++
	p.statsMu.Unlock()
	return nil
}

// tsDelay converts the RTP timestamp delta between consecutive
// packets into a wall-clock delay, netting out time already spent
// since the last send so steady-rate delivery doesn't accumulate
// drift.
func tsDelay(currentTS, lastTS uint32, clockRate time.Duration, lastSentAt time.Time) time.Duration {
	var delta uint32
	if currentTS >= lastTS {
		delta = currentTS - lastTS
	} else {
		delta = (0xFFFFFFFF - lastTS) + currentTS + 1
	}
	nominal := time.Duration(delta) * time.Second / clockRate
	return nominal - time.Since(lastSentAt)
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > maxPacketDelay {
		return maxPacketDelay
	}
	return d
}

// Stats reports pacer counters for diagnostics/health reporting.
type Stats struct {
	VideoSent           uint64
	AudioSent           uint64
	VideoBurstsAbsorbed uint64
	AudioBurstsAbsorbed uint64
	VideoQueueDepth     int
	AudioQueueDepth     int
}

func (p *Pacer) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return Stats{
		VideoSent:           p.videoSent,
		AudioSent:           p.audioSent,
		VideoBurstsAbsorbed: p.videoBurstsAbsorbed,
		AudioBurstsAbsorbed: p.audioBurstsAbsorbed,
		VideoQueueDepth:     len(p.videoChan),
		AudioQueueDepth:     len(p.audioChan),
	}
}
