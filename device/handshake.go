package device

// The boot handshake is a short sequence of writes to the signal port:
//
//	0x01        boot started
//	0xFE        proxy ready
//	lo, hi      address of the trampoline, in common memory
//
// Until it completes the host cannot know where the ROM placed the code
// which forwards HBIOS calls to the dispatch port.

const (
	// SignalBootStarted is the first value of the handshake.
	SignalBootStarted = 0x01

	// SignalProxyReady follows SignalBootStarted.
	SignalProxyReady = 0xFE
)

// Step records how far through the handshake we are.
type Step int

const (
	// StepIdle means no handshake is in progress.
	StepIdle Step = iota

	// StepBootStarted means the ROM has announced it is booting.
	StepBootStarted

	// StepProxyReady means the address bytes will follow.
	StepProxyReady

	// StepAddressLow means the low byte of the address was received.
	StepAddressLow

	// StepRegistered means the trampoline address is known.
	StepRegistered
)

// String implements fmt.Stringer.
func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepBootStarted:
		return "boot-started"
	case StepProxyReady:
		return "proxy-ready"
	case StepAddressLow:
		return "address-low"
	case StepRegistered:
		return "registered"
	}
	return "unknown"
}

type handshake struct {
	step       Step
	low        byte
	trampoline uint16
	registered bool
}

// Signal processes one write to the signal port, and returns the new
// step.  The boolean result is false if the value was out of sequence,
// in which case the handshake starts over.
//
// A completed registration survives a later, incomplete, handshake; the
// ROM re-announces itself when it reboots.
func (s *State) Signal(v byte) (Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := &s.handshake

	// A boot announcement always starts a new handshake.
	if v == SignalBootStarted && h.step != StepProxyReady && h.step != StepAddressLow {
		h.step = StepBootStarted
		return h.step, true
	}

	switch h.step {
	case StepBootStarted:
		if v == SignalProxyReady {
			h.step = StepProxyReady
			return h.step, true
		}
	case StepProxyReady:
		h.low = v
		h.step = StepAddressLow
		return h.step, true
	case StepAddressLow:
		h.trampoline = uint16(v)<<8 | uint16(h.low)
		h.registered = true
		h.step = StepRegistered
		return h.step, true
	}

	h.step = StepIdle
	return h.step, false
}

// Registered returns true once the trampoline address is known.
func (s *State) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake.registered
}

// Trampoline returns the registered trampoline address.
func (s *State) Trampoline() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake.trampoline
}

// HandshakeStep returns the current progress of the handshake.
func (s *State) HandshakeStep() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake.step
}
