// This file recognizes the opcodes the Z80 core cannot execute.
//
// The core skips such opcodes, with a warning on the standard logger,
// and carries on.  A guest which reaches one has gone astray, so we look
// at each instruction before it runs and halt instead.

package emulator

import "fmt"

// opcodeSet returns a lookup table with the given opcodes present.
func opcodeSet(codes ...uint8) [256]bool {
	var set [256]bool
	for _, c := range codes {
		set[c] = true
	}
	return set
}

// validED holds the second bytes of the ED-prefixed instructions the
// core implements.
var validED = opcodeSet(
	0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47,
	0x48, 0x49, 0x4A, 0x4B, 0x4D, 0x4F,
	0x50, 0x51, 0x52, 0x53, 0x56, 0x57, 0x58, 0x59, 0x5A, 0x5B, 0x5E, 0x5F,
	0x60, 0x61, 0x62, 0x63, 0x67, 0x68, 0x69, 0x6A, 0x6B, 0x6F,
	0x72, 0x73, 0x78, 0x79, 0x7A, 0x7B,
	0xA0, 0xA1, 0xA2, 0xA3, 0xA8, 0xA9, 0xAA, 0xAB,
	0xB0, 0xB1, 0xB2, 0xB3, 0xB8, 0xB9, 0xBA, 0xBB,
)

// validIndexed holds the second bytes of the DD- and FD-prefixed
// instructions the core implements.
var validIndexed = func() [256]bool {
	set := opcodeSet(
		0x09, 0x19, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26,
		0x29, 0x2A, 0x2B, 0x2C, 0x2D, 0x2E, 0x34, 0x35, 0x36, 0x39,
		0xCB, 0xE1, 0xE3, 0xE5, 0xE9, 0xF9,
	)
	// Loads and arithmetic, HALT excepted.
	for c := 0x40; c <= 0xBF; c++ {
		set[c] = c != 0x76
	}
	return set
}()

// undecodable returns the bytes of the instruction at addr, and true if
// the core would skip it rather than execute it.
//
// Reading memory has no side effects, so this may be done before every
// step.
func (e *Emulator) undecodable(addr uint16) ([]byte, bool) {
	c0 := e.Memory.Get(addr)

	switch c0 {
	case 0xED:
		c1 := e.Memory.Get(addr + 1)
		return []byte{c0, c1}, !validED[c1]

	case 0xDD, 0xFD:
		c1 := e.Memory.Get(addr + 1)
		if c1 != 0xCB {
			return []byte{c0, c1}, !validIndexed[c1]
		}

		// DD CB d op: only the (IX+d) forms exist.
		d := e.Memory.Get(addr + 2)
		c3 := e.Memory.Get(addr + 3)
		return []byte{c0, c1, d, c3}, c3&0x07 != 0x06
	}
	return []byte{c0}, false
}

// badInstruction describes an instruction we refused to execute.
func badInstruction(addr uint16, code []byte) error {
	return fmt.Errorf("%w at 0x%04X: % X", ErrBadInstruction, addr, code)
}
