// This file implements the real-time clock functions.
//
// The clock reads the host time; the guest may not change it.  The
// clock's NVRAM is emulated in memory, and lost on exit.

package hbios

import (
	"log/slog"
	"time"
)

const (
	// NVRAMSize is the number of bytes of battery-backed RAM.
	NVRAMSize = 64

	// RTCDeviceHost is the device type we report for the clock.
	RTCDeviceHost = 0x00
)

var rtcFunctions = map[uint8]Handler{
	0x20: {Desc: "RTCGETTIM", Handler: RTCGetTime},
	0x21: {Desc: "RTCSETTIM", Handler: RTCSetTime},
	0x22: {Desc: "RTCGETBYT", Handler: RTCGetByte},
	0x23: {Desc: "RTCSETBYT", Handler: RTCSetByte},
	0x24: {Desc: "RTCGETBLK", Handler: RTCGetBlock},
	0x25: {Desc: "RTCSETBLK", Handler: RTCSetBlock},
	0x26: {Desc: "RTCGETALM", Handler: unsupported},
	0x27: {Desc: "RTCSETALM", Handler: unsupported},
	0x28: {Desc: "RTCDEVICE", Handler: RTCDevice},
}

// toBCD converts 0-99 to binary-coded decimal.
func toBCD(v int) uint8 {
	v %= 100
	return uint8(v/10)<<4 | uint8(v%10)
}

// fromBCD converts binary-coded decimal to binary.
func fromBCD(v uint8) int {
	return int(v>>4)*10 + int(v&0x0F)
}

// RTCGetTime writes the date and time to the buffer at HL, as six BCD
// bytes: year, month, day, hour, minute, second.
func RTCGetTime(d *Dispatcher, c *Call) (Effect, error) {
	now := d.now()

	c.Memory.SetRange(c.Regs.HL.U16(),
		toBCD(now.Year()),
		toBCD(int(now.Month())),
		toBCD(now.Day()),
		toBCD(now.Hour()),
		toBCD(now.Minute()),
		toBCD(now.Second()))
	return EffectNone, nil
}

// RTCSetTime accepts a new time from the buffer at HL, but we don't
// change the host clock.
func RTCSetTime(d *Dispatcher, c *Call) (Effect, error) {
	buf := c.Memory.GetRange(c.Regs.HL.U16(), 6)

	t := time.Date(2000+fromBCD(buf[0]), time.Month(fromBCD(buf[1])), fromBCD(buf[2]),
		fromBCD(buf[3]), fromBCD(buf[4]), fromBCD(buf[5]), 0, time.Local)

	d.logger.Debug("ignoring attempt to set the clock",
		slog.Time("time", t))
	return EffectNone, nil
}

// RTCGetByte returns, in E, the NVRAM byte indexed by D.
func RTCGetByte(d *Dispatcher, c *Call) (Effect, error) {
	idx := int(c.Regs.DE.Hi)
	if idx >= NVRAMSize {
		return EffectNone, ErrRange
	}

	d.mu.Lock()
	c.Regs.DE.Lo = d.nvram[idx]
	d.mu.Unlock()
	return EffectNone, nil
}

// RTCSetByte stores E into the NVRAM byte indexed by D.
func RTCSetByte(d *Dispatcher, c *Call) (Effect, error) {
	idx := int(c.Regs.DE.Hi)
	if idx >= NVRAMSize {
		return EffectNone, ErrRange
	}

	d.mu.Lock()
	d.nvram[idx] = c.Regs.DE.Lo
	d.mu.Unlock()
	return EffectNone, nil
}

// RTCGetBlock copies the NVRAM to the buffer at HL.
func RTCGetBlock(d *Dispatcher, c *Call) (Effect, error) {
	d.mu.Lock()
	buf := d.nvram
	d.mu.Unlock()

	c.Memory.SetRange(c.Regs.HL.U16(), buf[:]...)
	return EffectNone, nil
}

// RTCSetBlock copies the buffer at HL into the NVRAM.
func RTCSetBlock(d *Dispatcher, c *Call) (Effect, error) {
	buf := c.Memory.GetRange(c.Regs.HL.U16(), NVRAMSize)

	d.mu.Lock()
	copy(d.nvram[:], buf)
	d.mu.Unlock()
	return EffectNone, nil
}

// RTCDevice describes the clock: type in D, number in E.
func RTCDevice(d *Dispatcher, c *Call) (Effect, error) {
	c.Regs.DE.Hi = RTCDeviceHost
	c.Regs.DE.Lo = 0
	return EffectNone, nil
}
