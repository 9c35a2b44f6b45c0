// Package avpipeline implements spec.md §4.G: the AV handler that owns
// the reorder queue, per-type receivers, cipher, and worker task, and
// applies the dispatch/backpressure rules that couple into the health
// supervisor.
package avpipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ethan/remote-play-relay/pkg/audio"
	"github.com/ethan/remote-play-relay/pkg/cipher"
	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/health"
	"github.com/ethan/remote-play-relay/pkg/reorder"
	"github.com/ethan/remote-play-relay/pkg/video"
)

const (
	dispatchCapacity  = 150
	dropThreshold     = 100
	workerBatchSize   = 50
	directThreshold   = 10
	reorderScanPeriod = 200 * time.Millisecond
	workerOverflowCap = 120

	dropWindowShort     = 1 * time.Second
	dropCountShort      = 20
	dropWindowLong      = 2 * time.Second
	dropCountLong       = 10
	timeoutBurstCount   = 3
	timeoutBurstWindow  = 8 * time.Second
)

// Handler is the AV pipeline's dispatch core for a single session.
type Handler struct {
	mu sync.Mutex

	reorderQ *reorder.Queue[*codec.Packet]
	video    *video.Receiver
	audioR   *audio.Receiver
	cipherS  *cipher.SessionCipher
	health   *health.Supervisor

	dispatch chan *codec.Packet

	dropTimestamps    []time.Time
	timeoutTimestamps []time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler builds an AV pipeline handler. Supervisor may be nil if
// the caller doesn't want keyframe/health wiring.
func NewHandler(sup *health.Supervisor) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		health:   sup,
		dispatch: make(chan *codec.Packet, dispatchCapacity),
		ctx:      ctx,
		cancel:   cancel,
	}

	h.reorderQ = reorder.New[*codec.Packet](reorder.Options{
		DropStrategy: reorder.DropBegin,
		Timeout:      200 * time.Millisecond,
	})
	h.reorderQ.OnDeliver = func(pkt *codec.Packet) { h.enqueue(pkt) }
	h.reorderQ.OnDrop = func(seq uint16, reason string) { h.recordDrop() }
	h.reorderQ.OnTimeout = func(seq uint16) { h.recordTimeout() }

	return h
}

// SetReceivers wires the video and audio receivers this handler drives.
func (h *Handler) SetReceivers(v *video.Receiver, a *audio.Receiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.video = v
	h.audioR = a
}

// SetCipher wires the session cipher used to decrypt packets whose
// key_pos is nonzero.
func (h *Handler) SetCipher(c *cipher.SessionCipher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cipherS = c
}

// Start launches the worker task.
func (h *Handler) Start() {
	h.wg.Add(1)
	go h.workerLoop()
}

// Stop cancels the worker; remaining queued packets are dropped.
func (h *Handler) Stop() {
	h.cancel()
	h.wg.Wait()
}

// AddPacket is the multi-producer entry point: parse, route through
// the reorder queue (video) or dispatch directly (audio).
func (h *Handler) AddPacket(raw []byte, hostType codec.HostType) error {
	pkt, err := codec.Parse(raw, hostType)
	if err != nil {
		return err
	}

	if pkt.Type == codec.Audio {
		if len(h.dispatch) < directThreshold {
			h.processPacket(pkt)
		} else {
			h.enqueue(pkt)
		}
		return nil
	}

	h.reorderQ.Push(pkt)
	return nil
}

func (h *Handler) enqueue(pkt *codec.Packet) {
	select {
	case h.dispatch <- pkt:
	default:
		// Hard-drop at capacity, or trim toward dropThreshold/overflow cap.
		h.drainToward(dropThreshold)
		select {
		case h.dispatch <- pkt:
		default:
			h.recordDrop()
		}
	}
}

// drainToward discards the oldest buffered packets until the channel
// has room under target, implementing the evict-oldest policy.
func (h *Handler) drainToward(target int) {
	for len(h.dispatch) > target {
		select {
		case <-h.dispatch:
		default:
			return
		}
	}
}

func (h *Handler) workerLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(reorderScanPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.reorderQ.ScanTimeouts()
		case pkt := <-h.dispatch:
			batch := []*codec.Packet{pkt}
			for len(batch) < workerBatchSize {
				select {
				case p := <-h.dispatch:
					batch = append(batch, p)
				default:
					goto drained
				}
			}
		drained:
			if len(h.dispatch) > workerOverflowCap {
				h.drainToward(workerOverflowCap)
				h.requestKeyframe("worker queue overflow")
			}
			for _, p := range batch {
				h.processPacket(p)
			}
		}
	}
}

func (h *Handler) processPacket(pkt *codec.Packet) {
	h.mu.Lock()
	c := h.cipherS
	v := h.video
	a := h.audioR
	h.mu.Unlock()

	if c != nil && pkt.KeyPos > 0 {
		pkt.Data = c.Decrypt(pkt.Data, pkt.KeyPos)
	}

	if pkt.Type == codec.Video {
		if v != nil {
			_ = v.ProcessPacket(pkt)
		}
	} else if a != nil {
		_ = a.ProcessPacket(pkt)
	}
}

func (h *Handler) recordDrop() {
	now := time.Now()
	h.mu.Lock()
	h.dropTimestamps = append(h.dropTimestamps, now)
	h.trimDropsLocked(now)
	shortCount := h.countSinceLocked(now, dropWindowShort)
	longCount := h.countSinceLocked(now, dropWindowLong)
	h.mu.Unlock()

	if shortCount >= dropCountShort || longCount >= dropCountLong {
		// recordDrop runs inside the queue's callbacks with its lock held,
		// so the reset takes the lock on its own goroutine.
		go h.reorderQ.Reset()
		h.requestKeyframe("reorder drop threshold exceeded")
	}
}

func (h *Handler) trimDropsLocked(now time.Time) {
	cutoff := now.Add(-dropWindowLong)
	i := 0
	for i < len(h.dropTimestamps) && h.dropTimestamps[i].Before(cutoff) {
		i++
	}
	h.dropTimestamps = h.dropTimestamps[i:]
}

func (h *Handler) countSinceLocked(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for _, t := range h.dropTimestamps {
		if !t.Before(cutoff) {
			count++
		}
	}
	return count
}

func (h *Handler) recordTimeout() {
	now := time.Now()
	h.mu.Lock()
	h.timeoutTimestamps = append(h.timeoutTimestamps, now)
	cutoff := now.Add(-timeoutBurstWindow)
	i := 0
	for i < len(h.timeoutTimestamps) && h.timeoutTimestamps[i].Before(cutoff) {
		i++
	}
	h.timeoutTimestamps = h.timeoutTimestamps[i:]
	burst := len(h.timeoutTimestamps) >= timeoutBurstCount
	h.mu.Unlock()

	if burst {
		h.requestKeyframe("consecutive reorder timeouts")
	}
}

func (h *Handler) requestKeyframe(reason string) {
	if h.health != nil {
		h.health.RequestKeyframe(reason)
	}
}
