// This file implements the system functions: reset, version, banking,
// memory, and the various information queries.

package hbios

import (
	"fmt"
	"log/slog"

	"github.com/skx/romulator/memory"
)

const (
	// Version is the HBIOS version we claim to be, 3.5.0.
	Version = 0x3500

	// Platform is the platform identifier we report, a generic SBC.
	Platform = 0x01

	// BIOSBank is the RAM bank the HBIOS lives within.
	BIOSBank = memory.RAMFlag

	// HeapStart and HeapEnd bound the HBIOS heap, within BIOSBank.
	HeapStart = 0x4000
	HeapEnd   = 0x8000

	// CPUSpeed is the clock speed we report, in kHz.
	CPUSpeed = 8000

	// TicksPerSecond is the rate of the HBIOS timer.
	TicksPerSecond = 50
)

// Reset types for SYSRESET, in C.
const (
	ResetInternal = 0x00
	ResetWarm     = 0x01
	ResetCold     = 0x02
)

// Subfunctions of SYSGET and SYSSET, in C.
const (
	SysGetCIOCount  = 0x00
	SysGetDIOCount  = 0x10
	SysGetRTCCount  = 0x20
	SysGetDSKYCount = 0x30
	SysGetVDACount  = 0x40
	SysGetSNDCount  = 0x50
	SysTimer        = 0xD0
	SysSecs         = 0xD1
	SysBootInfo     = 0xE0
	SysGetCPUInfo   = 0xF0
	SysGetMemInfo   = 0xF1
	SysGetBankInfo  = 0xF2
)

// SysIntInfo is the only SYSINT subfunction we support.
const SysIntInfo = 0x00

var sysFunctions = map[uint8]Handler{
	0xF0: {Desc: "SYSRESET", Handler: SysReset},
	0xF1: {Desc: "SYSVER", Handler: SysVersion},
	0xF2: {Desc: "SYSSETBNK", Handler: SysSetBank},
	0xF3: {Desc: "SYSGETBNK", Handler: SysGetBank},
	0xF4: {Desc: "SYSSETCPY", Handler: SysSetCopy},
	0xF5: {Desc: "SYSBNKCPY", Handler: SysBankCopy},
	0xF6: {Desc: "SYSALLOC", Handler: SysAlloc},
	0xF7: {Desc: "SYSFREE", Handler: unsupported},
	0xF8: {Desc: "SYSGET", Handler: SysGet},
	0xF9: {Desc: "SYSSET", Handler: SysSet},
	0xFA: {Desc: "SYSPEEK", Handler: SysPeek},
	0xFB: {Desc: "SYSPOKE", Handler: SysPoke},
	0xFC: {Desc: "SYSINT", Handler: SysInt},
}

// SysReset restarts the system, the type of reset is given in C.
//
// An internal reset only reinitializes our own state.
func SysReset(d *Dispatcher, c *Call) (Effect, error) {
	switch c.Unit {
	case ResetInternal:
		d.Reset()
		return EffectNone, nil
	case ResetWarm:
		d.logger.Info("warm boot requested")
		return EffectWarmReset, nil
	case ResetCold:
		d.logger.Info("cold boot requested")
		return EffectColdReset, nil
	}
	return EffectNone, ErrRange
}

// SysVersion returns the version in DE, and the platform in L.
func SysVersion(d *Dispatcher, c *Call) (Effect, error) {
	c.Regs.DE.SetU16(Version)
	c.Regs.HL.Lo = Platform
	return EffectNone, nil
}

// SysSetBank selects the bank in C, returning the previous one in C.
func SysSetBank(d *Dispatcher, c *Call) (Effect, error) {
	prev := c.Memory.CurrentBank()
	if err := c.Memory.SelectBank(memory.BankID(c.Unit)); err != nil {
		return EffectNone, err
	}
	c.Regs.BC.Lo = uint8(prev)
	return EffectNone, nil
}

// SysGetBank returns the current bank in C.
func SysGetBank(d *Dispatcher, c *Call) (Effect, error) {
	c.Regs.BC.Lo = uint8(c.Memory.CurrentBank())
	return EffectNone, nil
}

// SysSetCopy records the banks and length of the next SYSBNKCPY: the
// destination bank in D, source bank in E, and byte count in HL.
func SysSetCopy(d *Dispatcher, c *Call) (Effect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.copyDst = memory.BankID(c.Regs.DE.Hi)
	d.copySrc = memory.BankID(c.Regs.DE.Lo)
	d.copyLen = c.Regs.HL.U16()
	return EffectNone, nil
}

// SysBankCopy copies between banks, from HL to DE, as configured by
// SYSSETCPY.  HL and DE are advanced past the copied bytes.
//
// Each address is routed separately, so a copy which crosses into the
// common area continues there.
func SysBankCopy(d *Dispatcher, c *Call) (Effect, error) {
	d.mu.Lock()
	src, dst, n := d.copySrc, d.copyDst, d.copyLen
	d.mu.Unlock()

	if !c.Memory.Valid(src) || !c.Memory.Valid(dst) {
		return EffectNone, ErrRange
	}

	from := c.Regs.HL.U16()
	to := c.Regs.DE.U16()
	for i := uint16(0); i < n; i++ {
		v, err := c.Memory.ReadBank(src, from)
		if err != nil {
			return EffectNone, err
		}
		if err = c.Memory.WriteBank(dst, to, v); err != nil {
			return EffectNone, err
		}
		from++
		to++
	}

	c.Regs.HL.SetU16(from)
	c.Regs.DE.SetU16(to)
	return EffectNone, nil
}

// SysAlloc allocates HL bytes from the heap, returning the address in HL.
// There's no way to free memory again, short of a reset.
func SysAlloc(d *Dispatcher, c *Call) (Effect, error) {
	size := uint32(c.Regs.HL.U16())

	d.mu.Lock()
	defer d.mu.Unlock()

	if uint32(d.heap)+size > HeapEnd {
		return EffectNone, ErrNoMem
	}
	c.Regs.HL.SetU16(d.heap)
	d.heap += uint16(size)
	return EffectNone, nil
}

// elapsed returns the timer ticks, and seconds, since the epoch.
//
// The caller must hold the lock.
func (d *Dispatcher) elapsed() (uint32, uint32) {
	since := d.now().Sub(d.epoch)
	ticks := d.ticks + uint32(since.Milliseconds()*TicksPerSecond/1000)
	secs := d.secs + uint32(since.Seconds())
	return ticks, secs
}

// setDEHL stores a 32-bit value in DE:HL.
func setDEHL(c *Call, v uint32) {
	c.Regs.DE.SetU16(uint16(v >> 16))
	c.Regs.HL.SetU16(uint16(v))
}

// getDEHL returns the 32-bit value in DE:HL.
func getDEHL(c *Call) uint32 {
	return uint32(c.Regs.DE.U16())<<16 | uint32(c.Regs.HL.U16())
}

// unknownSubfunction logs, and reports, a subfunction we don't handle.
func (d *Dispatcher) unknownSubfunction(name string, c *Call) (Effect, error) {
	d.logger.Warn("unimplemented HBIOS subfunction",
		slog.String("name", name),
		slog.String("subfunction", fmt.Sprintf("0x%02X", c.Unit)))
	return EffectNone, ErrNoFunc
}

// SysGet returns information about the system, as selected by C.
func SysGet(d *Dispatcher, c *Call) (Effect, error) {
	switch c.Unit {
	case SysGetCIOCount, SysGetRTCCount:
		c.Regs.DE.Lo = 1
	case SysGetDIOCount:
		c.Regs.DE.Lo = uint8(c.Disks.Units())
	case SysGetDSKYCount, SysGetVDACount, SysGetSNDCount:
		c.Regs.DE.Lo = 0
	case SysTimer:
		d.mu.Lock()
		ticks, _ := d.elapsed()
		d.mu.Unlock()
		setDEHL(c, ticks)
		c.Regs.BC.Lo = TicksPerSecond
	case SysSecs:
		d.mu.Lock()
		ticks, secs := d.elapsed()
		d.mu.Unlock()
		setDEHL(c, secs)
		c.Regs.BC.Lo = uint8(ticks % TicksPerSecond)
	case SysBootInfo:
		d.mu.Lock()
		c.Regs.DE.Hi = d.bootUnit
		c.Regs.DE.Lo = d.bootSlice
		d.mu.Unlock()
		c.Regs.HL.Lo = 0x00
	case SysGetCPUInfo:
		c.Regs.HL.Hi = 0x00
		c.Regs.HL.Lo = CPUSpeed / 1000
		c.Regs.DE.SetU16(CPUSpeed)
	case SysGetMemInfo:
		cfg := c.Memory.Config()
		c.Regs.DE.Hi = uint8(cfg.ROMBanks)
		c.Regs.DE.Lo = uint8(cfg.RAMBanks)
	case SysGetBankInfo:
		c.Regs.DE.Hi = uint8(BIOSBank)
		c.Regs.DE.Lo = uint8(c.Memory.CommonBank() - 1)
	default:
		return d.unknownSubfunction("SYSGET", c)
	}
	return EffectNone, nil
}

// SysSet changes system settings, as selected by C.
func SysSet(d *Dispatcher, c *Call) (Effect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch c.Unit {
	case SysTimer:
		_, secs := d.elapsed()
		d.ticks = getDEHL(c)
		d.secs = secs
		d.epoch = d.now()
	case SysSecs:
		ticks, _ := d.elapsed()
		d.secs = getDEHL(c)
		d.ticks = ticks
		d.epoch = d.now()
	case SysBootInfo:
		d.bootUnit = c.Regs.DE.Hi
		d.bootSlice = c.Regs.DE.Lo
	default:
		return d.unknownSubfunction("SYSSET", c)
	}
	return EffectNone, nil
}

// SysPeek returns, in E, the byte at HL in bank D.
func SysPeek(d *Dispatcher, c *Call) (Effect, error) {
	v, err := c.Memory.ReadBank(memory.BankID(c.Regs.DE.Hi), c.Regs.HL.U16())
	if err != nil {
		return EffectNone, err
	}
	c.Regs.DE.Lo = v
	return EffectNone, nil
}

// SysPoke stores E at HL in bank D.
func SysPoke(d *Dispatcher, c *Call) (Effect, error) {
	return EffectNone, c.Memory.WriteBank(memory.BankID(c.Regs.DE.Hi), c.Regs.HL.U16(), c.Regs.DE.Lo)
}

// SysInt reports on interrupt handling, of which there is none.
func SysInt(d *Dispatcher, c *Call) (Effect, error) {
	if c.Unit != SysIntInfo {
		return d.unknownSubfunction("SYSINT", c)
	}
	c.Regs.DE.Hi = 0
	c.Regs.DE.Lo = 0
	return EffectNone, nil
}
