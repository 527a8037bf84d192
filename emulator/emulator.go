// Package emulator ties together the Z80 CPU, the banked memory, the
// disks, and the HBIOS dispatcher, into a system which can boot a RomWBW
// ROM image.
//
// The CPU is driven in batches, by RunBatch, so that a host may interleave
// execution with its own work: queueing keystrokes, and displaying the
// output the guest generates.  Run wraps that in a loop which sleeps while
// the guest waits for input.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koron-go/z80"
	"github.com/skx/romulator/device"
	"github.com/skx/romulator/disk"
	"github.com/skx/romulator/hbios"
	"github.com/skx/romulator/memory"
)

const (
	// DefaultBatchSize is the number of instructions Run executes
	// between checks for output.
	DefaultBatchSize = 10000

	// IdentAddress is where the HBIOS identification block is written,
	// in common memory.
	IdentAddress = 0xFF00

	// IdentPointer holds the address of the identification block.
	IdentPointer = 0xFFFC

	// identMarker is the signature byte of the identification block.
	identMarker = 'W'
)

var (
	// ErrNoROM is returned when starting without a ROM.
	ErrNoROM = errors.New("no ROM loaded")

	// ErrHalted is returned by Run when the CPU halts.
	ErrHalted = errors.New("CPU halted")

	// ErrNotStarted is returned by Run before Start is called.
	ErrNotStarted = errors.New("emulator not started")

	// ErrBadInstruction is used when the CPU can't execute an
	// instruction.
	ErrBadInstruction = errors.New("unable to execute instruction")
)

// Emulator holds our state.
type Emulator struct {
	// Memory is the banked address space of the CPU.
	Memory *memory.Memory

	// Device holds the console queues and execution status.
	Device *device.State

	// Disks holds the disk images.
	Disks *disk.Subsystem

	// HBIOS handles the calls the guest makes to the host.
	HBIOS *hbios.Dispatcher

	// CPU is the processor we drive.
	CPU z80.CPU

	// Logger holds a logger, which we use for debugging and diagnostics.
	Logger *slog.Logger

	// config holds the bank layout.
	config memory.Config

	// output receives drained output, if set.
	output func(byte)

	// batch is the size of the batches Run executes.
	batch int

	// clock is passed to the dispatcher, if set.
	clock func() time.Time

	// bootString is typed at the guest on Start.
	bootString string

	// romLoaded is set once a ROM has been loaded.
	romLoaded bool

	// runMu is held while instructions execute, and by anything which
	// must not overlap with that.
	runMu sync.Mutex

	// stop is set by Stop, and checked between instructions.
	stop atomic.Bool

	// wake is signalled by Stop, so that Run notices while it waits
	// for input.
	wake chan struct{}

	// count is the number of instructions executed since Start.
	count atomic.Uint64

	// pending is the effect of an HBIOS call made by the instruction
	// currently executing.
	pending hbios.Effect
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Emulator) {
		e.Logger = logger
	}
}

// WithMemoryConfig sets the number of ROM and RAM banks.
func WithMemoryConfig(cfg memory.Config) Option {
	return func(e *Emulator) {
		e.config = cfg
	}
}

// WithOutputHandler arranges for console output to be passed to the given
// function, at the end of each batch, rather than queued for DrainOutput.
func WithOutputHandler(fn func(byte)) Option {
	return func(e *Emulator) {
		e.output = fn
	}
}

// WithBatchSize sets the number of instructions Run executes per batch.
func WithBatchSize(n int) Option {
	return func(e *Emulator) {
		if n > 0 {
			e.batch = n
		}
	}
}

// WithClock sets the source of time for the real-time clock.
func WithClock(now func() time.Time) Option {
	return func(e *Emulator) {
		e.clock = now
	}
}

// New creates an emulator, which will need a ROM before it can be started.
func New(options ...Option) (*Emulator, error) {
	e := &Emulator{
		config: memory.DefaultConfig(),
		batch:  DefaultBatchSize,
		wake:   make(chan struct{}, 1),
	}
	for _, o := range options {
		o(e)
	}

	if e.Logger == nil {
		e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mem, err := memory.New(e.config, e.Logger)
	if err != nil {
		return nil, err
	}

	var opts []hbios.Option
	if e.clock != nil {
		opts = append(opts, hbios.WithClock(e.clock))
	}

	e.Memory = mem
	e.Device = device.New()
	e.Disks = disk.New()
	e.HBIOS = hbios.New(e.Memory, e.Device, e.Disks, e.Logger, opts...)
	e.CPU = z80.CPU{
		Memory: e.Memory,
		IO:     e,
	}
	return e, nil
}

// LoadROM loads a ROM image, which becomes bank 0 onwards.  Images which
// are too large are truncated.
//
// RAM is cleared, so that a restart behaves like a fresh power-on.
func (e *Emulator) LoadROM(data []byte) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	n, err := e.Memory.LoadROM(data)
	if err != nil {
		return err
	}
	if n < len(data) {
		e.Logger.Warn("ROM image truncated",
			slog.Int("size", len(data)),
			slog.Int("used", n))
	}

	// Select the HBIOS API, rather than UNA.
	e.Memory.PatchROM(memory.APITypeOffset, memory.APITypeHBIOS)

	e.Memory.ClearRAM()
	e.romLoaded = true

	e.Logger.Debug("ROM loaded",
		slog.Int("size", n))
	return nil
}

// LoadROMFile loads the named ROM image.
func (e *Emulator) LoadROMFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load ROM: %w", err)
	}
	return e.LoadROM(data)
}

// LoadDisk loads an image into the given disk unit.
func (e *Emulator) LoadDisk(unit int, data []byte) error {
	return e.Disks.Load(unit, data)
}

// LoadDiskVerified loads an image into the given disk unit, after
// confirming it has the expected SHA-256 hash.
func (e *Emulator) LoadDiskVerified(unit int, data []byte, sum string) error {
	return e.Disks.LoadVerified(unit, data, sum)
}

// LoadDiskFile loads the named image into the given disk unit.
func (e *Emulator) LoadDiskFile(unit int, path string) error {
	if err := e.Disks.LoadFile(unit, path); err != nil {
		return fmt.Errorf("failed to load disk %d: %w", unit, err)
	}
	return nil
}

// SaveDisk writes the given unit's image to the named file.
func (e *Emulator) SaveDisk(unit int, path string) error {
	return e.Disks.SaveFile(unit, path)
}

// SetDiskSliceCount sets the number of slices a unit exposes.
func (e *Emulator) SetDiskSliceCount(unit int, n int) error {
	return e.Disks.SetSliceCount(unit, n)
}

// CloseAllDisks releases every disk image.
func (e *Emulator) CloseAllDisks() {
	e.Disks.CloseAll()
}

// IsDiskLoaded returns true if the unit holds an image.
func (e *Emulator) IsDiskLoaded(unit int) bool {
	return e.Disks.Loaded(unit)
}

// GetDiskData returns a copy of the given unit's image, or nil.
func (e *Emulator) GetDiskData(unit int) []byte {
	return e.Disks.Data(unit)
}

// SetBootString sets the text typed at the guest when it starts, for
// example a boot-loader command.  A carriage-return follows it.
func (e *Emulator) SetBootString(s string) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.bootString = s
}

// Start prepares the system to boot from the ROM.
func (e *Emulator) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.romLoaded {
		return ErrNoROM
	}

	e.HBIOS.Reset()

	// Select the HBIOS API, then give the BIOS bank its copy.
	e.Memory.PatchROM(memory.APITypeOffset, memory.APITypeHBIOS)
	e.Memory.ResetBanks()
	if err := e.Memory.EnsureInitialized(hbios.BIOSBank); err != nil {
		return err
	}

	// The identification block lets applications find the HBIOS.
	e.Memory.SetRange(IdentAddress, identMarker, ^uint8(identMarker), uint8(hbios.Version>>8))
	e.Memory.SetRange(IdentPointer, uint8(IdentAddress&0xFF), uint8(IdentAddress>>8))

	e.CPU.States = z80.States{}
	e.CPU.HALT = false
	e.pending = hbios.EffectNone
	e.count.Store(0)
	e.stop.Store(false)

	e.Device.SetStatus(device.Running)
	if e.bootString != "" {
		e.Device.QueueString(e.bootString)
		e.Device.QueueInput('\r')
	}

	e.Logger.Debug("emulator started",
		slog.String("boot", e.bootString))
	return nil
}

// Stop asks the execution loop to stop, after the current instruction.
//
// When no batch is running the status changes at once; otherwise the
// batch does it.
func (e *Emulator) Stop() {
	e.stop.Store(true)

	if e.runMu.TryLock() {
		switch e.Device.Status() {
		case device.Running, device.NeedsInput:
			e.Device.SetStatus(device.Stopped)
		}
		e.runMu.Unlock()
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Reset returns the emulator to the state it had before Start.
//
// Memory and the clock NVRAM are cleared, but the ROM and the disks are
// kept.  If a batch is running we wait for it to complete.
//
// A guest SYSRESET, unlike this, leaves the NVRAM alone.
func (e *Emulator) Reset() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.Device.Reset()
	e.HBIOS.Reset()
	e.HBIOS.ClearNVRAM()
	e.Memory.ClearRAM()
	e.Memory.ResetBanks()

	e.CPU.States = z80.States{}
	e.CPU.HALT = false
	e.pending = hbios.EffectNone
	e.count.Store(0)
	e.stop.Store(false)
}

// QueueInput queues a byte of console input.
func (e *Emulator) QueueInput(c byte) {
	e.Device.QueueInput(c)
}

// QueueString queues each byte of the string as console input.
func (e *Emulator) QueueString(s string) {
	e.Device.QueueString(s)
}

// SetControlify changes the conversion of typed characters into control
// codes.
func (e *Emulator) SetControlify(mode device.Controlify) {
	e.Device.SetControlify(mode)
}

// DrainOutput returns, and removes, the output the guest has generated.
func (e *Emulator) DrainOutput() []byte {
	return e.Device.DrainOutput()
}

// Status returns the execution status.
func (e *Emulator) Status() device.Status {
	return e.Device.Status()
}

// PC returns the program counter.
func (e *Emulator) PC() uint16 {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.CPU.PC
}

// InstructionCount returns the number of instructions executed since
// Start.
func (e *Emulator) InstructionCount() uint64 {
	return e.count.Load()
}

// step executes a single instruction, unless it is one the CPU can't
// execute.
func (e *Emulator) step() error {
	pc := e.CPU.PC
	if code, bad := e.undecodable(pc); bad {
		return badInstruction(pc, code)
	}

	e.CPU.Step()
	return nil
}

// restart resets the CPU to the start of ROM, as a SYSRESET does.
func (e *Emulator) restart(cold bool) {
	if cold {
		e.HBIOS.Reset()
	}
	if err := e.Memory.SelectBank(0); err != nil {
		e.Logger.Error("failed to select ROM bank",
			slog.String("error", err.Error()))
	}
	e.CPU.PC = 0x0000
}

// RunBatch executes up to max instructions, and returns the resulting
// status.
//
// Nothing happens unless the status is Running, or it is NeedsInput and
// input has since been queued.  Execution stops early when the guest needs
// input, halts, or Stop is called.  Output is delivered to the output
// handler, if there is one, before we return.
func (e *Emulator) RunBatch(max int) device.Status {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	defer e.flush()

	status := e.Device.Status()
	if status == device.NeedsInput && e.Device.PendingInput() > 0 {
		e.Device.SetStatus(device.Running)
		status = device.Running
	}
	if e.stop.Load() && (status == device.Running || status == device.NeedsInput) {
		e.Device.SetStatus(device.Stopped)
		return device.Stopped
	}
	if status != device.Running {
		return status
	}

	for i := 0; i < max; i++ {
		if e.stop.Load() {
			e.Device.SetStatus(device.Stopped)
			break
		}

		pc := e.CPU.PC
		e.pending = hbios.EffectNone

		if err := e.step(); err != nil {
			e.Logger.Error("CPU halted",
				slog.String("error", err.Error()))
			e.Device.SetStatus(device.Halted)
			break
		}
		e.count.Add(1)

		if e.CPU.HALT {
			e.Logger.Error("CPU executed HALT",
				slog.String("pc", fmt.Sprintf("0x%04X", pc)))
			e.Device.SetStatus(device.Halted)
			break
		}

		switch e.pending {
		case hbios.EffectWaitInput:
			// Repeat the dispatch once input arrives.
			e.CPU.PC = pc
			if e.Device.Status() == device.NeedsInput {
				return device.NeedsInput
			}
		case hbios.EffectWarmReset:
			e.restart(false)
		case hbios.EffectColdReset:
			e.restart(true)
		}
	}
	return e.Device.Status()
}

// flush passes pending output to the output handler.
func (e *Emulator) flush() {
	if e.output == nil {
		return
	}
	for _, c := range e.Device.DrainOutput() {
		e.output(c)
	}
}

// Run executes batches until the context is cancelled, the CPU halts, or
// Stop is called.  While the guest waits for input we sleep.
func (e *Emulator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch e.RunBatch(e.batch) {
		case device.Running:
			continue
		case device.NeedsInput:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.Device.Ready():
			case <-e.wake:
			}
		case device.Halted:
			return ErrHalted
		case device.Stopped:
			return nil
		default:
			return ErrNotStarted
		}
	}
}
