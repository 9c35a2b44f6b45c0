// Package control implements spec.md §4.K: the input/rumble path is
// interface-only here, since its wire details are out of scope — only
// the event/command shapes named in §6 matter to callers.
package control

// ButtonState is the press/release edge of a button event.
type ButtonState int

const (
	ButtonRelease ButtonState = iota
	ButtonPress
)

// RumbleEvent is delivered to OnRumble subscribers.
type RumbleEvent struct {
	Low  float64
	High float64
}

// StateChangeEvent is delivered to OnStateChange subscribers.
type StateChangeEvent struct {
	Connected bool
	Reason    string
}

// Service is the controller-input capability a session depends on.
// Real console input framing lives outside this spec's scope; a
// Service implementation is expected to ride the same encrypted
// control-channel framing §4.H establishes.
type Service interface {
	Connect(sessionID string) error
	Disconnect(sessionID string) error
	SendButton(sessionID, name string, state ButtonState) error
	SendSticks(sessionID string, lx, ly, rx, ry float64) error
	SendTriggers(sessionID string, l2, r2 float64) error
	OnStateChange(cb func(sessionID string, ev StateChangeEvent))
	OnRumble(cb func(sessionID string, ev RumbleEvent))
}

// NoopService is a Service that accepts every command and never fires
// callbacks; it exists so session orchestration can depend on the
// Service capability before a concrete controller transport is wired.
type NoopService struct {
	stateCb  func(sessionID string, ev StateChangeEvent)
	rumbleCb func(sessionID string, ev RumbleEvent)
}

func NewNoopService() *NoopService { return &NoopService{} }

func (n *NoopService) Connect(sessionID string) error    { return nil }
func (n *NoopService) Disconnect(sessionID string) error { return nil }

func (n *NoopService) SendButton(sessionID, name string, state ButtonState) error { return nil }
func (n *NoopService) SendSticks(sessionID string, lx, ly, rx, ry float64) error  { return nil }
func (n *NoopService) SendTriggers(sessionID string, l2, r2 float64) error        { return nil }

func (n *NoopService) OnStateChange(cb func(sessionID string, ev StateChangeEvent)) {
	n.stateCb = cb
}

func (n *NoopService) OnRumble(cb func(sessionID string, ev RumbleEvent)) {
	n.rumbleCb = cb
}
