package teleop

import (
	"time"

	"github.com/gwillem/dofbot/pkg/robot"
)

// EventKind classifies an input event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCancel
	EventStepSize
	EventJoint
	EventHome
	EventRecord
)

// Event is a decoded key press.
type Event struct {
	Kind      EventKind
	Joint     robot.Joint
	Direction int
	StepSize  int
}

// KeyMap maps key names to events.
type KeyMap map[string]Event

// StepPresets are the step sizes selectable from the keyboard.
var StepPresets = []int{1, 2, 3, 4, 5}

// DefaultKeyMap binds a/z s/x d/c f/v g/b to the five arm joints, 1-5 to
// the step presets, h to home, r to record and esc/q/ctrl+c to exit. The
// gripper has no binding.
func DefaultKeyMap() KeyMap {
	km := KeyMap{
		"esc":    {Kind: EventCancel},
		"q":      {Kind: EventCancel},
		"ctrl+c": {Kind: EventCancel},
		"h":      {Kind: EventHome},
		"r":      {Kind: EventRecord},
	}
	pairs := []struct {
		up, down string
		joint    robot.Joint
	}{
		{"a", "z", robot.Base},
		{"s", "x", robot.Shoulder},
		{"d", "c", robot.Elbow},
		{"f", "v", robot.WristPitch},
		{"g", "b", robot.WristRoll},
	}
	for _, p := range pairs {
		km[p.up] = Event{Kind: EventJoint, Joint: p.joint, Direction: 1}
		km[p.down] = Event{Kind: EventJoint, Joint: p.joint, Direction: -1}
	}
	for _, n := range StepPresets {
		km[string(rune('0'+n))] = Event{Kind: EventStepSize, StepSize: n}
	}
	return km
}

// Lookup decodes key. Unbound keys yield EventUnknown.
func (k KeyMap) Lookup(key string) Event {
	if ev, ok := k[key]; ok {
		return ev
	}
	return Event{Kind: EventUnknown}
}

// Input delivers key presses.
type Input interface {
	// Poll waits up to timeout for a key.
	Poll(timeout time.Duration) (string, bool)
}

// KeyInput is an Input fed from another goroutine, such as a TUI.
type KeyInput struct {
	ch chan string
}

// NewKeyInput returns a KeyInput buffering up to 16 keys.
func NewKeyInput() *KeyInput {
	return &KeyInput{ch: make(chan string, 16)}
}

// Send queues key, dropping it if the buffer is full.
func (k *KeyInput) Send(key string) {
	select {
	case k.ch <- key:
	default:
	}
}

// Poll implements Input.
func (k *KeyInput) Poll(timeout time.Duration) (string, bool) {
	select {
	case key := <-k.ch:
		return key, true
	default:
	}
	if timeout <= 0 {
		return "", false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case key := <-k.ch:
		return key, true
	case <-t.C:
		return "", false
	}
}

// MultiInput polls each input in turn, splitting the timeout between them.
type MultiInput []Input

// Poll implements Input.
func (m MultiInput) Poll(timeout time.Duration) (string, bool) {
	if len(m) == 0 {
		time.Sleep(timeout)
		return "", false
	}
	per := timeout / time.Duration(len(m))
	for _, in := range m {
		if key, ok := in.Poll(per); ok {
			return key, true
		}
	}
	return "", false
}
