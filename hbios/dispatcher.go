// Package hbios implements the host side of the RomWBW HBIOS API.
//
// The guest ROM forwards every HBIOS call to the host by writing to the
// dispatch port, with the function number in B and the unit number in C.
// We look the function up in a table of handlers, each of which reads
// its arguments from the registers, does the work, and leaves a status
// code in A.
//
// Handlers never touch the execution loop directly.  Instead they return
// an Effect, describing what the loop must do next - retry the call once
// input arrives, or restart the machine.
package hbios

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/koron-go/z80"
	"github.com/skx/romulator/device"
	"github.com/skx/romulator/disk"
	"github.com/skx/romulator/memory"
)

// Effect tells the execution loop what to do after a call completes.
type Effect int

const (
	// EffectNone means carry on with the next instruction.
	EffectNone Effect = iota

	// EffectWaitInput means the call needs console input which isn't
	// available yet; the call must be retried once it is.
	EffectWaitInput

	// EffectWarmReset restarts the guest from ROM bank 0.
	EffectWarmReset

	// EffectColdReset restarts the guest from ROM bank 0, as if power
	// had been cycled.
	EffectColdReset
)

// String implements fmt.Stringer.
func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectWaitInput:
		return "wait-input"
	case EffectWarmReset:
		return "warm-reset"
	case EffectColdReset:
		return "cold-reset"
	}
	return "unknown"
}

// Code is an HBIOS status code, as returned to the guest in A.
//
// Codes are errors, so handlers may simply return one.
type Code int8

// Byte returns the code as it appears in A.
func (c Code) Byte() uint8 {
	return uint8(c)
}

// Error implements the error interface.
func (c Code) Error() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("HBIOS error %d", int8(c))
}

const (
	// Success is the status of a call which worked.
	Success Code = 0

	// ErrNoFunc means the function isn't implemented.
	ErrNoFunc Code = -1

	// ErrNoUnit means the unit doesn't exist.
	ErrNoUnit Code = -2

	// ErrNoMem means we're out of memory.
	ErrNoMem Code = -3

	// ErrRange means a parameter was out of range.
	ErrRange Code = -4

	// ErrNoMedia means there is no media in the unit.
	ErrNoMedia Code = -5

	// ErrNoHW means the hardware isn't present.
	ErrNoHW Code = -6

	// ErrIO means the I/O operation failed.
	ErrIO Code = -7

	// ErrReadOnly means the target may not be written.
	ErrReadOnly Code = -8

	// ErrTimeout means the operation timed out.
	ErrTimeout Code = -9

	// ErrBadConfig means the configuration is invalid.
	ErrBadConfig Code = -10

	// ErrInternal means something went wrong inside the emulator.
	ErrInternal Code = -11
)

var codeNames = map[Code]string{
	Success:      "success",
	ErrNoFunc:    "function not implemented",
	ErrNoUnit:    "no such unit",
	ErrNoMem:     "out of memory",
	ErrRange:     "parameter out of range",
	ErrNoMedia:   "no media",
	ErrNoHW:      "hardware not present",
	ErrIO:        "I/O error",
	ErrReadOnly:  "read-only",
	ErrTimeout:   "timeout",
	ErrBadConfig: "bad configuration",
	ErrInternal:  "internal error",
}

// Call holds everything a handler may need.
type Call struct {
	// Function is the function number, from B.
	Function uint8

	// Unit is the unit number, from C.
	Unit uint8

	// Regs are the CPU registers, which handlers update in place.
	Regs *z80.States

	// Memory is the banked address space.
	Memory *memory.Memory

	// Device holds the console queues.
	Device *device.State

	// Disks holds the disk images.
	Disks *disk.Subsystem

	// result is set when the handler placed a value, rather than a
	// status, into A.
	result bool
}

// SetA stores a value in A, which the dispatcher will then leave alone.
func (c *Call) SetA(v uint8) {
	c.Regs.AF.Hi = v
	c.result = true
}

// HandlerType is the signature of a function which implements a call.
type HandlerType func(d *Dispatcher, c *Call) (Effect, error)

// Handler contains details of a specific call we implement.
type Handler struct {
	// Desc is the name of the call, as the RomWBW documentation uses.
	Desc string

	// Handler is the implementation.
	Handler HandlerType
}

// Dispatcher routes HBIOS calls to their handlers, and holds the state
// which persists between calls.
type Dispatcher struct {
	// Functions contains the calls we implement, indexed by number.
	Functions map[uint8]Handler

	memory *memory.Memory
	device *device.State
	disks  *disk.Subsystem
	logger *slog.Logger

	// now returns the time for the RTC, and for the seconds counter.
	now func() time.Time

	// mu guards the state below, which may be inspected by the host.
	mu sync.Mutex

	// lba holds the current position of each disk unit, set by DIOSEEK.
	lba [disk.MaxUnits]uint32

	// nvram is the battery-backed RAM of the clock.
	nvram [NVRAMSize]uint8

	// copySrc, copyDst and copyLen are set by SYSSETCPY.
	copySrc memory.BankID
	copyDst memory.BankID
	copyLen uint16

	// heap is the next free byte of the HBIOS heap.
	heap uint16

	// ticks is the value of the 50Hz timer, at epoch.
	ticks uint32
	epoch time.Time

	// secs is added to the elapsed seconds since epoch.
	secs uint32

	// bootUnit and bootSlice are recorded by SYSSET BOOTINFO.
	bootUnit  uint8
	bootSlice uint8

	// warned records whether we've complained about calls arriving
	// before the handshake completed.
	warned bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a dispatcher operating upon the given memory, console and
// disks.  A nil logger discards everything.
func New(mem *memory.Memory, dev *device.State, disks *disk.Subsystem, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Dispatcher{
		Functions: make(map[uint8]Handler),
		memory:    mem,
		device:    dev,
		disks:     disks,
		logger:    logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}

	register(d.Functions, cioFunctions)
	register(d.Functions, dioFunctions)
	register(d.Functions, rtcFunctions)
	register(d.Functions, sysFunctions)

	d.Reset()
	return d
}

func register(dst map[uint8]Handler, src map[uint8]Handler) {
	for k, v := range src {
		dst[k] = v
	}
}

// Reset forgets the state accumulated by previous calls.  The contents
// of the clock NVRAM survive, as they would on real hardware.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lba = [disk.MaxUnits]uint32{}
	d.heap = HeapStart
	d.copySrc = BIOSBank
	d.copyDst = BIOSBank
	d.copyLen = 0
	d.ticks = 0
	d.secs = 0
	d.epoch = d.now()
	d.bootUnit = 0
	d.bootSlice = 0
	d.warned = false
}

// Handle performs the call described by the registers, and returns the
// effect the execution loop must apply.
func (d *Dispatcher) Handle(regs *z80.States) Effect {
	c := &Call{
		Function: regs.BC.Hi,
		Unit:     regs.BC.Lo,
		Regs:     regs,
		Memory:   d.memory,
		Device:   d.device,
		Disks:    d.disks,
	}

	if !d.device.Registered() && !d.warned {
		d.warned = true
		d.logger.Debug("HBIOS call before the boot handshake completed",
			slog.String("function", fmt.Sprintf("0x%02X", c.Function)))
	}

	handler, ok := d.Functions[c.Function]
	if !ok {
		d.logger.Warn("unimplemented HBIOS function",
			slog.String("function", fmt.Sprintf("0x%02X", c.Function)),
			slog.Int("unit", int(c.Unit)))
		regs.AF.Hi = ErrNoFunc.Byte()
		return EffectNone
	}

	d.logger.Debug("HBIOS",
		slog.String("name", handler.Desc),
		slog.String("function", fmt.Sprintf("0x%02X", c.Function)),
		slog.Int("unit", int(c.Unit)))

	effect, err := handler.Handler(d, c)
	if effect == EffectWaitInput {
		return effect
	}

	status := d.status(handler.Desc, err)
	if !c.result || status != Success {
		regs.AF.Hi = status.Byte()
	}
	return effect
}

// status converts a handler's error into the code returned to the guest.
func (d *Dispatcher) status(name string, err error) Code {
	if err == nil {
		return Success
	}

	var code Code
	if errors.As(err, &code) {
		d.logger.Debug("HBIOS call failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return code
	}

	// Errors from the disk and memory layers map onto guest codes.
	switch {
	case errors.Is(err, disk.ErrUnitRange):
		return ErrNoUnit
	case errors.Is(err, disk.ErrNotLoaded):
		return ErrNoMedia
	case errors.Is(err, disk.ErrOutOfRange), errors.Is(err, memory.ErrBankRange):
		return ErrRange
	}

	d.logger.Error("HBIOS call failed",
		slog.String("name", name),
		slog.String("error", err.Error()))
	return ErrInternal
}

// ClearNVRAM zeroes the clock's battery-backed RAM, as if the battery
// had been removed.  Reset leaves it alone.
func (d *Dispatcher) ClearNVRAM() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nvram = [NVRAMSize]uint8{}
}

// BootInfo returns the boot unit and slice recorded by the guest.
func (d *Dispatcher) BootInfo() (uint8, uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bootUnit, d.bootSlice
}

// NVRAM returns a copy of the clock's battery-backed RAM.
func (d *Dispatcher) NVRAM() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]uint8, NVRAMSize)
	copy(out, d.nvram[:])
	return out
}
