// Package health implements spec.md §4.J: a rolling window of
// per-frame outcomes, lazy freeze detection, and the cooldown-gated
// keyframe-request trigger the AV pipeline calls into on backpressure.
package health

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Status is one video-frame outcome as observed by the supervisor.
type Status int

const (
	StatusSuccess Status = iota
	StatusRecovered
	StatusFecSuccess
	StatusFecFailed
	StatusFrozen
	StatusDropped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRecovered:
		return "recovered"
	case StatusFecSuccess:
		return "fec_success"
	case StatusFecFailed:
		return "fec_failed"
	case StatusFrozen:
		return "frozen"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

func isHealthy(s Status) bool {
	return s == StatusSuccess || s == StatusFecSuccess || s == StatusRecovered
}

const (
	windowDuration          = 10 * time.Second
	freezeNoFrameThreshold  = 3 * time.Second
	freezeDupIndexThreshold = 2 * time.Second
	freezeMinEventsForZero  = 10
	keyframeCooldown        = 8 * time.Second
	healthPollCooldown      = 3 * time.Second
)

// StreamHealthEvent is emitted on every recorded frame outcome.
type StreamHealthEvent struct {
	Timestamp           time.Time
	FrameIndex          uint16
	Status              Status
	ConsecutiveFailures int
	Reason              string
	ReusedLastFrame     bool
	RecoveredByFEC      bool
}

type frameEvent struct {
	timestamp time.Time
	status    Status
	bytes     int
}

// Snapshot is a point-in-time, lock-consistent read of accumulated health.
type Snapshot struct {
	TotalFrames        uint64
	TotalBytes         uint64
	DeltaFrames        uint64
	DeltaBytes         uint64
	RecentByStatus     map[Status]int
	RecentFPS          float64
	AvgIntervalMs      float64
	LastFrameUTC       time.Time
	BitrateMbps        float64
	FramesLostDelta    int
	PreviousFrameIndex uint16
	Frozen             bool
	FreezeReason       string
}

// Supervisor accumulates frame outcomes and gates keyframe requests.
type Supervisor struct {
	mu sync.Mutex

	window []frameEvent

	totalFrames, totalBytes uint64
	deltaFrames, deltaBytes uint64
	framesLostDelta         int

	consecutiveFailures int
	lastFrameTime       time.Time
	lastFrameIndex      uint16
	haveLastIndex       bool
	indexChangedAt      time.Time

	keyframeLimiter   *rate.Limiter
	keyframeInFlight  int32
	healthPollLimiter *rate.Limiter

	OnKeyframeRequest func(reason string)
	OnEvent           func(StreamHealthEvent)
}

// NewSupervisor builds a Supervisor with the spec's fixed cooldowns.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		keyframeLimiter:   rate.NewLimiter(rate.Every(keyframeCooldown), 1),
		healthPollLimiter: rate.NewLimiter(rate.Every(healthPollCooldown), 1),
	}
}

// RecordFrame logs one video-frame outcome and fires OnEvent.
func (s *Supervisor) RecordFrame(status Status, frameIndex uint16, bytes int, recoveredByFEC bool) {
	now := time.Now()

	s.mu.Lock()

	if isHealthy(status) {
		s.consecutiveFailures = 0
	} else {
		s.consecutiveFailures++
	}

	reused := s.haveLastIndex && frameIndex == s.lastFrameIndex
	if !s.haveLastIndex || frameIndex != s.lastFrameIndex {
		s.indexChangedAt = now
	}

	s.window = append(s.window, frameEvent{timestamp: now, status: status, bytes: bytes})
	s.trimWindow(now)

	s.totalFrames++
	s.totalBytes += uint64(bytes)
	s.deltaFrames++
	s.deltaBytes += uint64(bytes)
	if status == StatusDropped || status == StatusFecFailed {
		s.framesLostDelta++
	}

	s.lastFrameTime = now
	s.lastFrameIndex = frameIndex
	s.haveLastIndex = true

	ev := StreamHealthEvent{
		Timestamp:           now,
		FrameIndex:          frameIndex,
		Status:              status,
		ConsecutiveFailures: s.consecutiveFailures,
		ReusedLastFrame:     reused,
		RecoveredByFEC:      recoveredByFEC,
	}
	cb := s.OnEvent
	s.mu.Unlock()

	if cb != nil {
		cb(ev)
	}
}

// trimWindow drops events older than windowDuration. Caller holds mu.
func (s *Supervisor) trimWindow(now time.Time) {
	cutoff := now.Add(-windowDuration)
	i := 0
	for i < len(s.window) && s.window[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.window = s.window[i:]
	}
}

// RequestKeyframe fires OnKeyframeRequest at most once per cooldown
// window, with a single in-flight guard so overlapping triggers never
// stack concurrent requests.
func (s *Supervisor) RequestKeyframe(reason string) {
	if !s.keyframeLimiter.Allow() {
		return
	}
	if !atomic.CompareAndSwapInt32(&s.keyframeInFlight, 0, 1) {
		return
	}
	cb := s.OnKeyframeRequest
	go func() {
		defer atomic.StoreInt32(&s.keyframeInFlight, 0)
		if cb != nil {
			cb(reason)
		}
	}()
}

// PollAllowed gates health-check polling to its own 3-s cooldown.
func (s *Supervisor) PollAllowed() bool {
	return s.healthPollLimiter.Allow()
}

// Snapshot computes freeze state lazily and returns a consistent read.
// If resetDeltas is set, delta counters are zeroed after the read.
func (s *Supervisor) Snapshot(resetDeltas bool) Snapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimWindow(now)

	byStatus := make(map[Status]int)
	for _, e := range s.window {
		byStatus[e.status]++
	}

	fps := s.computeFPSLocked(now)
	avgIntervalMs := 0.0
	if span := s.windowSpanLocked(now); len(s.window) > 1 && span > 0 {
		avgIntervalMs = span.Seconds() * 1000 / float64(len(s.window)-1)
	}

	bitrateMbps := 0.0
	if s.totalFrames > 0 {
		bitrateMbps = (float64(s.totalBytes) * 8 * fps) / float64(s.totalFrames) / 1e6
	}

	frozen, reason := s.computeFreezeLocked(now, fps, byStatus)

	reportedFPS := fps
	if reason == "no new frames" {
		// The rolling window can still hold a stale event from before
		// the 3s gap started; report 0 rather than a leftover rate.
		reportedFPS = 0
	}

	snap := Snapshot{
		TotalFrames:        s.totalFrames,
		TotalBytes:         s.totalBytes,
		DeltaFrames:        s.deltaFrames,
		DeltaBytes:         s.deltaBytes,
		RecentByStatus:     byStatus,
		RecentFPS:          reportedFPS,
		AvgIntervalMs:       avgIntervalMs,
		LastFrameUTC:       s.lastFrameTime.UTC(),
		BitrateMbps:        bitrateMbps,
		FramesLostDelta:    s.framesLostDelta,
		PreviousFrameIndex: s.lastFrameIndex,
		Frozen:             frozen,
		FreezeReason:       reason,
	}

	if resetDeltas {
		s.deltaFrames = 0
		s.deltaBytes = 0
		s.framesLostDelta = 0
	}

	return snap
}

func (s *Supervisor) windowSpanLocked(now time.Time) time.Duration {
	if len(s.window) == 0 {
		return 0
	}
	return now.Sub(s.window[0].timestamp)
}

func (s *Supervisor) computeFPSLocked(now time.Time) float64 {
	if len(s.window) == 0 {
		return 0
	}
	span := s.windowSpanLocked(now)
	if span <= 0 {
		span = time.Millisecond
	}
	return float64(len(s.window)) / span.Seconds()
}

func (s *Supervisor) computeFreezeLocked(now time.Time, fps float64, byStatus map[Status]int) (bool, string) {
	if s.lastFrameTime.IsZero() {
		return false, ""
	}
	if now.Sub(s.lastFrameTime) > freezeNoFrameThreshold {
		return true, "no new frames"
	}
	if len(s.window) > 0 && fps < 1.0 {
		return true, "fps below 1"
	}
	successes := byStatus[StatusSuccess] + byStatus[StatusFecSuccess] + byStatus[StatusRecovered]
	if successes == 0 && len(s.window) > freezeMinEventsForZero {
		return true, "zero successes in window"
	}
	if s.haveLastIndex && !s.indexChangedAt.IsZero() &&
		now.Sub(s.indexChangedAt) > freezeDupIndexThreshold && fps > 0 && fps < 5 {
		return true, "duplicate frame emission"
	}
	return false, ""
}
