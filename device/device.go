// Package device holds the state shared between the goroutine running the
// emulated CPU and the host side of the emulator.
//
// That state is small: the console input and output queues, the
// execution status, and the progress of the boot handshake by which the
// ROM registers the address of its host-call trampoline.
//
// Everything here is guarded by a mutex, since the host side will be
// queueing keystrokes and draining output while the CPU runs.
package device

import (
	"sync"
)

// Status describes what the execution loop is doing.
type Status int

const (
	// Idle means the emulator has not been started, or has been reset.
	Idle Status = iota

	// Running means instructions are being executed.
	Running

	// NeedsInput means the guest is waiting for console input.
	NeedsInput

	// Halted means the CPU executed HALT, or something it couldn't
	// decode.  Only a reset recovers.
	Halted

	// Stopped means the host asked for execution to stop.
	Stopped
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case NeedsInput:
		return "needs-input"
	case Halted:
		return "halted"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Controlify controls the conversion of typed characters into control
// codes, for hosts which have no control key.
type Controlify int

const (
	// ControlifyOff passes characters through unchanged.
	ControlifyOff Controlify = iota

	// ControlifyOnce converts the next character, then turns off.
	ControlifyOnce

	// ControlifySticky converts every character until turned off.
	ControlifySticky
)

// State holds our queues and flags.
type State struct {
	mu sync.Mutex

	input  []byte
	output []byte

	status Status

	controlify Controlify

	handshake handshake

	// ready receives a value whenever input is queued, so that a
	// waiting execution loop may be woken.
	ready chan struct{}
}

// New returns an idle device state.
func New() *State {
	return &State{
		ready: make(chan struct{}, 1),
	}
}

// QueueInput adds a byte to the console input queue.
//
// Line-feeds are converted to carriage-returns, as CP/M expects, and a
// guest blocked waiting for input becomes runnable again.
func (s *State) QueueInput(c byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c == '\n' {
		c = '\r'
	}

	if s.controlify != ControlifyOff {
		upper := c
		if upper >= 'a' && upper <= 'z' {
			upper -= 32
		}
		if upper >= '@' && upper <= '_' {
			c = upper - '@'
		}
		if s.controlify == ControlifyOnce {
			s.controlify = ControlifyOff
		}
	}

	s.input = append(s.input, c)
	if s.status == NeedsInput {
		s.status = Running
	}

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// QueueString queues each byte of the given string.
func (s *State) QueueString(str string) {
	for i := 0; i < len(str); i++ {
		s.QueueInput(str[i])
	}
}

// SetControlify changes the control-character conversion mode.
func (s *State) SetControlify(mode Controlify) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlify = mode
}

// GetControlify returns the control-character conversion mode.
func (s *State) GetControlify() Controlify {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlify
}

// PendingInput returns the number of queued input bytes.
func (s *State) PendingInput() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.input)
}

// ReadInput removes and returns the oldest queued input byte.
func (s *State) ReadInput() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.input) == 0 {
		return 0, false
	}
	c := s.input[0]
	s.input = s.input[1:]
	return c, true
}

// Ready returns a channel which receives when input is queued.
func (s *State) Ready() <-chan struct{} {
	return s.ready
}

// WriteOutput appends a byte to the console output queue.
func (s *State) WriteOutput(c byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = append(s.output, c)
}

// PendingOutput returns the number of bytes waiting to be drained.
func (s *State) PendingOutput() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.output)
}

// DrainOutput returns, and removes, everything in the output queue.
func (s *State) DrainOutput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.output) == 0 {
		return nil
	}
	out := s.output
	s.output = nil
	return out
}

// Status returns the current execution status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus updates the execution status.
func (s *State) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// WaitForInput marks the guest as blocked, unless input arrived in the
// meantime.  It returns true if the guest must wait.
func (s *State) WaitForInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.input) > 0 {
		return false
	}
	if s.status == Running {
		s.status = NeedsInput
	}
	return true
}

// Reset empties both queues, forgets the handshake, and returns to Idle.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.input = nil
	s.output = nil
	s.status = Idle
	s.controlify = ControlifyOff
	s.handshake = handshake{}

	select {
	case <-s.ready:
	default:
	}
}
