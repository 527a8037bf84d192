package hbios

import (
	"bytes"
	"testing"
	"time"

	"github.com/koron-go/z80"
	"github.com/retroenv/retrogolib/assert"
	"github.com/skx/romulator/device"
	"github.com/skx/romulator/disk"
	"github.com/skx/romulator/memory"
)

// fixed is the time our clock always reports.
var fixed = time.Date(2024, time.March, 9, 13, 45, 7, 0, time.UTC)

type rig struct {
	d     *Dispatcher
	mem   *memory.Memory
	dev   *device.State
	disks *disk.Subsystem
	regs  z80.States
	clock time.Time
}

func newRig(t *testing.T) *rig {
	t.Helper()

	mem, err := memory.New(memory.DefaultConfig(), nil)
	assert.NoError(t, err)
	_, err = mem.LoadROM([]byte{0xF3, 0xC3, 0x00, 0x01})
	assert.NoError(t, err)

	r := &rig{
		mem:   mem,
		dev:   device.New(),
		disks: disk.New(),
		clock: fixed,
	}
	r.d = New(r.mem, r.dev, r.disks, nil, WithClock(func() time.Time { return r.clock }))
	return r
}

// call invokes the given function and unit, and returns the effect.
func (r *rig) call(fn uint8, unit uint8) Effect {
	r.regs.BC.Hi = fn
	r.regs.BC.Lo = unit
	return r.d.Handle(&r.regs)
}

// status returns the status the last call left in A.
func (r *rig) status() Code {
	return Code(int8(r.regs.AF.Hi))
}

func TestUnknownFunction(t *testing.T) {
	r := newRig(t)

	for _, fn := range []uint8{0x07, 0x1C, 0x30, 0x80, 0xE0, 0xFD, 0xFF} {
		r.regs.AF.Hi = 0x42
		assert.Equal(t, EffectNone, r.call(fn, 0))
		assert.Equal(t, ErrNoFunc, r.status())
	}
}

func TestTableNames(t *testing.T) {
	r := newRig(t)

	for fn, h := range r.d.Functions {
		if h.Desc == "" || h.Handler == nil {
			t.Fatalf("function 0x%02X is incomplete", fn)
		}
	}
	assert.Equal(t, "CIOIN", r.d.Functions[0x00].Desc)
	assert.Equal(t, "SYSBNKCPY", r.d.Functions[0xF5].Desc)
}

func TestCIO(t *testing.T) {
	r := newRig(t)
	r.dev.SetStatus(device.Running)

	// Nothing queued: the call must be retried.
	assert.Equal(t, EffectWaitInput, r.call(0x00, 0))
	assert.Equal(t, device.NeedsInput, r.dev.Status())

	r.dev.QueueString("hi")
	assert.Equal(t, device.Running, r.dev.Status())

	// Status reports the pending count.
	assert.Equal(t, EffectNone, r.call(0x02, 0))
	assert.Equal(t, uint8(2), r.regs.AF.Hi)

	assert.Equal(t, EffectNone, r.call(0x00, CIOConsole))
	assert.Equal(t, Success, r.status())
	assert.Equal(t, uint8('h'), r.regs.DE.Lo)

	assert.Equal(t, EffectNone, r.call(0x00, 0))
	assert.Equal(t, uint8('i'), r.regs.DE.Lo)

	r.call(0x02, 0)
	assert.Equal(t, uint8(0), r.regs.AF.Hi)

	// Output.
	for _, c := range []byte("ok") {
		r.regs.DE.Lo = c
		r.call(0x01, 0)
		assert.Equal(t, Success, r.status())
	}
	assert.Equal(t, "ok", string(r.dev.DrainOutput()))

	r.call(0x03, 0)
	assert.Equal(t, uint8(1), r.regs.AF.Hi)

	r.call(0x05, 0)
	assert.Equal(t, uint16(CIOLineConfig), r.regs.DE.U16())

	r.call(0x06, 0)
	assert.Equal(t, Success, r.status())
	assert.Equal(t, uint8(CIODeviceUART), r.regs.DE.Hi)

	// Only the console exists.
	r.call(0x01, 3)
	assert.Equal(t, ErrNoUnit, r.status())
}

func TestDIO(t *testing.T) {
	r := newRig(t)

	img := make([]byte, 2*disk.SectorSize)
	for i := range img {
		img[i] = byte(i / disk.SectorSize)
	}
	img[0] = 0xAA
	assert.NoError(t, r.disks.Load(1, img))

	// Empty and impossible units.
	r.call(0x10, 0)
	assert.Equal(t, ErrNoMedia, r.status())
	r.call(0x10, 0x40)
	assert.Equal(t, ErrNoUnit, r.status())
	r.call(0x10, 1)
	assert.Equal(t, Success, r.status())

	r.call(0x18, 0)
	assert.Equal(t, ErrNoMedia, r.status())
	assert.Equal(t, uint8(MediaNone), r.regs.DE.Lo)
	r.call(0x18, 1)
	assert.Equal(t, uint8(MediaHD), r.regs.DE.Lo)

	// Capacity: one slice.
	r.call(0x1A, 1)
	assert.Equal(t, Success, r.status())
	assert.Equal(t, uint32(disk.SectorsPerSlice), getDEHL(&Call{Regs: &r.regs}))
	assert.Equal(t, uint16(disk.SectorSize), r.regs.BC.U16())

	r.call(0x1B, 1)
	assert.Equal(t, uint16(disk.SectorsPerSlice/256), r.regs.HL.U16())
	assert.Equal(t, uint8(0x90), r.regs.DE.Hi)
	assert.Equal(t, uint8(16), r.regs.DE.Lo)

	// Seek to block 0 in LBA mode, and read two blocks into RAM at 0x1000.
	r.regs.DE.SetU16(0x8000)
	r.regs.HL.SetU16(0)
	r.call(0x12, 1)
	assert.Equal(t, Success, r.status())

	r.regs.HL.SetU16(0x1000)
	r.regs.DE.Hi = 0x81
	r.regs.DE.Lo = 2
	r.call(0x13, 1)
	assert.Equal(t, Success, r.status())
	assert.Equal(t, uint8(2), r.regs.DE.Lo)

	v, err := r.mem.ReadBank(0x81, 0x1000)
	assert.NoError(t, err)
	assert.Equal(t, uint8(0xAA), v)
	v, err = r.mem.ReadBank(0x81, 0x1000+disk.SectorSize)
	assert.NoError(t, err)
	assert.Equal(t, uint8(1), v)

	// The position advanced to block 2, which is padding.
	r.regs.HL.SetU16(0x2000)
	r.regs.DE.Hi = 0x81
	r.regs.DE.Lo = 1
	r.call(0x13, 1)
	assert.Equal(t, Success, r.status())
	v, _ = r.mem.ReadBank(0x81, 0x2000)
	assert.Equal(t, uint8(disk.Fill), v)

	// Write a block from RAM back to block 0, via CHS addressing.
	assert.NoError(t, r.mem.WriteBank(0x81, 0x3000, 0x55))
	r.regs.HL.SetU16(0)
	r.regs.DE.SetU16(0)
	r.call(0x12, 1)
	r.regs.HL.SetU16(0x3000)
	r.regs.DE.Hi = 0x81
	r.regs.DE.Lo = 1
	r.call(0x14, 1)
	assert.Equal(t, Success, r.status())
	assert.Equal(t, uint8(1), r.regs.DE.Lo)

	out, err := r.disks.ReadSector(1, 0)
	assert.NoError(t, err)
	assert.Equal(t, uint8(0x55), out[0])

	// Unsupported.
	r.call(0x16, 1)
	assert.Equal(t, ErrNoFunc, r.status())
	r.call(0x19, 1)
	assert.Equal(t, ErrNoFunc, r.status())
}

func TestDIOBounds(t *testing.T) {
	r := newRig(t)
	assert.NoError(t, r.disks.Load(0, nil))

	// Seek to the last block, and read two: one succeeds.
	r.regs.DE.SetU16(0x8000 | uint16((disk.SectorsPerSlice-1)>>16))
	r.regs.HL.SetU16(uint16(disk.SectorsPerSlice - 1))
	r.call(0x12, 0)

	r.regs.HL.SetU16(0x1000)
	r.regs.DE.Hi = 0x80
	r.regs.DE.Lo = 2
	r.call(0x13, 0)
	assert.Equal(t, ErrRange, r.status())
	assert.Equal(t, uint8(1), r.regs.DE.Lo)

	// A bad buffer bank.
	r.call(0x11, 0)
	r.regs.DE.Hi = 0xC0
	r.regs.DE.Lo = 1
	r.call(0x13, 0)
	assert.Equal(t, ErrRange, r.status())
	assert.Equal(t, uint8(0), r.regs.DE.Lo)

	// Verify beyond the end.
	r.regs.DE.SetU16(0x8000 | uint16(disk.SectorsPerSlice>>16))
	r.regs.HL.SetU16(uint16(disk.SectorsPerSlice))
	r.call(0x12, 0)
	r.regs.DE.Lo = 1
	r.call(0x15, 0)
	assert.Equal(t, ErrRange, r.status())

	// Growing the unit makes it valid.
	assert.NoError(t, r.disks.SetSliceCount(0, 2))
	r.regs.DE.Lo = 1
	r.call(0x15, 0)
	assert.Equal(t, Success, r.status())
}

func TestRTC(t *testing.T) {
	r := newRig(t)
	assert.NoError(t, r.mem.SelectBank(0x8E))

	r.regs.HL.SetU16(0x0100)
	r.call(0x20, 0)
	assert.Equal(t, Success, r.status())
	assert.True(t, bytes.Equal([]byte{0x24, 0x03, 0x09, 0x13, 0x45, 0x07}, r.mem.GetRange(0x0100, 6)))

	r.call(0x21, 0)
	assert.Equal(t, Success, r.status())

	// NVRAM bytes.
	r.regs.DE.Hi = 5
	r.regs.DE.Lo = 0x99
	r.call(0x23, 0)
	assert.Equal(t, Success, r.status())

	r.regs.DE.Lo = 0
	r.call(0x22, 0)
	assert.Equal(t, uint8(0x99), r.regs.DE.Lo)

	r.regs.DE.Hi = NVRAMSize
	r.call(0x22, 0)
	assert.Equal(t, ErrRange, r.status())

	// Blocks.
	r.regs.HL.SetU16(0x0200)
	r.call(0x24, 0)
	assert.Equal(t, uint8(0x99), r.mem.Get(0x0205))

	r.mem.Set(0x0200, 0x11)
	r.call(0x25, 0)
	assert.Equal(t, uint8(0x11), r.d.NVRAM()[0])

	// NVRAM survives a reset.
	r.d.Reset()
	assert.Equal(t, uint8(0x99), r.d.NVRAM()[5])

	r.call(0x26, 0)
	assert.Equal(t, ErrNoFunc, r.status())
	r.call(0x28, 0)
	assert.Equal(t, Success, r.status())
}

func TestBCD(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, fromBCD(toBCD(i)))
	}
	assert.Equal(t, uint8(0x24), toBCD(2024))
}

func TestSysReset(t *testing.T) {
	r := newRig(t)

	assert.Equal(t, EffectWarmReset, r.call(0xF0, ResetWarm))
	assert.Equal(t, EffectColdReset, r.call(0xF0, ResetCold))

	// Internal resets forget the heap.
	r.regs.HL.SetU16(0x10)
	r.call(0xF6, 0)
	assert.Equal(t, EffectNone, r.call(0xF0, ResetInternal))
	assert.Equal(t, Success, r.status())
	r.regs.HL.SetU16(0x10)
	r.call(0xF6, 0)
	assert.Equal(t, uint16(HeapStart), r.regs.HL.U16())

	assert.Equal(t, EffectNone, r.call(0xF0, 0x07))
	assert.Equal(t, ErrRange, r.status())
}

func TestSysBanks(t *testing.T) {
	r := newRig(t)

	r.call(0xF1, 0)
	assert.Equal(t, uint16(Version), r.regs.DE.U16())
	assert.Equal(t, uint8(Platform), r.regs.HL.Lo)

	r.call(0xF2, 0x81)
	assert.Equal(t, Success, r.status())
	assert.Equal(t, uint8(0x00), r.regs.BC.Lo)
	assert.Equal(t, memory.BankID(0x81), r.mem.CurrentBank())
	assert.True(t, r.mem.Initialized(0x81))

	r.call(0xF3, 0)
	assert.Equal(t, uint8(0x81), r.regs.BC.Lo)

	r.call(0xF2, 0xC0)
	assert.Equal(t, ErrRange, r.status())
	assert.Equal(t, memory.BankID(0x81), r.mem.CurrentBank())

	// PEEK and POKE.
	r.regs.DE.Hi = 0x82
	r.regs.DE.Lo = 0x5A
	r.regs.HL.SetU16(0x0400)
	r.call(0xFB, 0)
	assert.Equal(t, Success, r.status())

	r.regs.DE.Lo = 0
	r.call(0xFA, 0)
	assert.Equal(t, uint8(0x5A), r.regs.DE.Lo)

	// The ROM can be read, but not written.
	r.regs.DE.Hi = 0x00
	r.regs.HL.SetU16(0x0001)
	r.call(0xFA, 0)
	assert.Equal(t, uint8(0xC3), r.regs.DE.Lo)

	r.regs.DE.Hi = 0x7F
	r.call(0xFA, 0)
	assert.Equal(t, ErrRange, r.status())
}

func TestSysBankCopy(t *testing.T) {
	r := newRig(t)

	src := []byte("HELLO, WORLD")
	for i, c := range src {
		assert.NoError(t, r.mem.WriteBank(0x82, 0x7FFA+uint16(i), c))
	}

	// Copy from 0x82:7FFA to 0x83:0100; the source crosses into common.
	r.regs.DE.Hi = 0x83
	r.regs.DE.Lo = 0x82
	r.regs.HL.SetU16(uint16(len(src)))
	r.call(0xF4, 0)
	assert.Equal(t, Success, r.status())

	r.regs.HL.SetU16(0x7FFA)
	r.regs.DE.SetU16(0x0100)
	r.call(0xF5, 0)
	assert.Equal(t, Success, r.status())
	assert.Equal(t, uint16(0x7FFA+len(src)), r.regs.HL.U16())
	assert.Equal(t, uint16(0x0100+len(src)), r.regs.DE.U16())

	for i, c := range src {
		v, err := r.mem.ReadBank(0x83, 0x0100+uint16(i))
		assert.NoError(t, err)
		assert.Equal(t, c, v)
	}

	// The tail of the source really was in the common bank.
	v, err := r.mem.ReadBank(r.mem.CommonBank(), 0x8000)
	assert.NoError(t, err)
	assert.Equal(t, src[6], v)

	// Bad banks.
	r.regs.DE.Hi = 0xF0
	r.call(0xF4, 0)
	r.call(0xF5, 0)
	assert.Equal(t, ErrRange, r.status())
}

func TestSysAlloc(t *testing.T) {
	r := newRig(t)

	r.regs.HL.SetU16(0x100)
	r.call(0xF6, 0)
	assert.Equal(t, Success, r.status())
	assert.Equal(t, uint16(HeapStart), r.regs.HL.U16())

	r.regs.HL.SetU16(0x100)
	r.call(0xF6, 0)
	assert.Equal(t, uint16(HeapStart+0x100), r.regs.HL.U16())

	r.regs.HL.SetU16(HeapEnd - HeapStart)
	r.call(0xF6, 0)
	assert.Equal(t, ErrNoMem, r.status())

	r.call(0xF7, 0)
	assert.Equal(t, ErrNoFunc, r.status())
}

func TestSysGetSet(t *testing.T) {
	r := newRig(t)
	assert.NoError(t, r.disks.Load(2, nil))

	r.call(0xF8, SysGetCIOCount)
	assert.Equal(t, uint8(1), r.regs.DE.Lo)

	r.call(0xF8, SysGetDIOCount)
	assert.Equal(t, uint8(3), r.regs.DE.Lo)

	r.call(0xF8, SysGetVDACount)
	assert.Equal(t, uint8(0), r.regs.DE.Lo)

	r.call(0xF8, SysGetMemInfo)
	assert.Equal(t, uint8(16), r.regs.DE.Hi)
	assert.Equal(t, uint8(16), r.regs.DE.Lo)

	r.call(0xF8, SysGetBankInfo)
	assert.Equal(t, uint8(0x80), r.regs.DE.Hi)
	assert.Equal(t, uint8(0x8E), r.regs.DE.Lo)

	r.call(0xF8, SysGetCPUInfo)
	assert.Equal(t, uint16(CPUSpeed), r.regs.DE.U16())

	// The timer runs at 50Hz.
	r.clock = r.clock.Add(2 * time.Second)
	r.call(0xF8, SysTimer)
	assert.Equal(t, uint32(100), getDEHL(&Call{Regs: &r.regs}))
	r.call(0xF8, SysSecs)
	assert.Equal(t, uint32(2), getDEHL(&Call{Regs: &r.regs}))

	// Setting the seconds counter.
	r.regs.DE.SetU16(0)
	r.regs.HL.SetU16(1000)
	r.call(0xF9, SysSecs)
	assert.Equal(t, Success, r.status())
	r.clock = r.clock.Add(time.Second)
	r.call(0xF8, SysSecs)
	assert.Equal(t, uint32(1001), getDEHL(&Call{Regs: &r.regs}))

	// Boot information round-trips.
	r.regs.DE.Hi = 2
	r.regs.DE.Lo = 3
	r.call(0xF9, SysBootInfo)
	r.regs.DE.SetU16(0)
	r.call(0xF8, SysBootInfo)
	assert.Equal(t, uint8(2), r.regs.DE.Hi)
	assert.Equal(t, uint8(3), r.regs.DE.Lo)
	u, s := r.d.BootInfo()
	assert.Equal(t, uint8(2), u)
	assert.Equal(t, uint8(3), s)

	// Unknown subfunctions never crash.
	r.call(0xF8, 0x99)
	assert.Equal(t, ErrNoFunc, r.status())
	r.call(0xF9, SysGetMemInfo)
	assert.Equal(t, ErrNoFunc, r.status())
	r.call(0xFC, 0x01)
	assert.Equal(t, ErrNoFunc, r.status())
	r.call(0xFC, SysIntInfo)
	assert.Equal(t, Success, r.status())
}

func TestCodes(t *testing.T) {
	assert.Equal(t, uint8(0xFF), ErrNoFunc.Byte())
	assert.Equal(t, uint8(0xF5), ErrInternal.Byte())
	assert.Equal(t, "no media", ErrNoMedia.Error())
	assert.Equal(t, "HBIOS error -99", Code(-99).Error())
	assert.Equal(t, "wait-input", EffectWaitInput.String())
}
