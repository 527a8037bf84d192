// This file implements the disk I/O functions.
//
// The guest addresses disks by logical block, each of which is 512 bytes.
// Each unit remembers its position, set by DIOSEEK, which reads and writes
// advance.

package hbios

import (
	"github.com/skx/romulator/disk"
	"github.com/skx/romulator/memory"
)

const (
	// DIODeviceHDSK is the device type we report: a host-backed disk.
	DIODeviceHDSK = 0x90

	// DIOAttributes is reported by DIODEVICE: a high-capacity, fixed,
	// disk.
	DIOAttributes = 0x20

	// MediaNone is reported by DIOMEDIA for an empty unit.
	MediaNone = 0x00

	// MediaHD is reported by DIOMEDIA for a hard disk.
	MediaHD = 0x04

	// Heads and SectorsPerTrack are the geometry we report, and use to
	// convert cylinder/head/sector addresses.
	Heads           = 16
	SectorsPerTrack = 16

	// lbaFlag is set in the high bit of a seek address in LBA mode.
	lbaFlag = 0x80000000
)

var dioFunctions = map[uint8]Handler{
	0x10: {Desc: "DIOSTATUS", Handler: DIOStatus},
	0x11: {Desc: "DIORESET", Handler: DIOReset},
	0x12: {Desc: "DIOSEEK", Handler: DIOSeek},
	0x13: {Desc: "DIOREAD", Handler: DIORead},
	0x14: {Desc: "DIOWRITE", Handler: DIOWrite},
	0x15: {Desc: "DIOVERIFY", Handler: DIOVerify},
	0x16: {Desc: "DIOFORMAT", Handler: unsupported},
	0x17: {Desc: "DIODEVICE", Handler: DIODevice},
	0x18: {Desc: "DIOMEDIA", Handler: DIOMedia},
	0x19: {Desc: "DIODEFMED", Handler: unsupported},
	0x1A: {Desc: "DIOCAP", Handler: DIOCapacity},
	0x1B: {Desc: "DIOGEOM", Handler: DIOGeometry},
}

// unsupported is used for calls we know of, but don't implement.
func unsupported(d *Dispatcher, c *Call) (Effect, error) {
	return EffectNone, ErrNoFunc
}

// dioUnit checks the unit is one we could have.
func dioUnit(c *Call) (int, error) {
	unit := int(c.Unit)
	if unit >= disk.MaxUnits {
		return 0, ErrNoUnit
	}
	return unit, nil
}

// dioLoaded checks the unit holds media.
func dioLoaded(c *Call) (int, error) {
	unit, err := dioUnit(c)
	if err != nil {
		return 0, err
	}
	if !c.Disks.Loaded(unit) {
		return 0, ErrNoMedia
	}
	return unit, nil
}

// DIOStatus reports whether the unit is usable.
func DIOStatus(d *Dispatcher, c *Call) (Effect, error) {
	_, err := dioLoaded(c)
	return EffectNone, err
}

// DIOReset returns the unit to the first block.
func DIOReset(d *Dispatcher, c *Call) (Effect, error) {
	unit, err := dioUnit(c)
	if err != nil {
		return EffectNone, err
	}

	d.mu.Lock()
	d.lba[unit] = 0
	d.mu.Unlock()
	return EffectNone, nil
}

// DIOSeek sets the position of the unit from DEHL.
//
// With the high bit set DEHL is a logical block address, otherwise HL is
// the cylinder, D the head, and E the sector.
func DIOSeek(d *Dispatcher, c *Call) (Effect, error) {
	unit, err := dioUnit(c)
	if err != nil {
		return EffectNone, err
	}

	addr := uint32(c.Regs.DE.U16())<<16 | uint32(c.Regs.HL.U16())

	var lba uint32
	if addr&lbaFlag != 0 {
		lba = addr &^ lbaFlag
	} else {
		cyl := uint32(c.Regs.HL.U16())
		head := uint32(c.Regs.DE.Hi & 0x7F)
		sec := uint32(c.Regs.DE.Lo)
		if head >= Heads || sec >= SectorsPerTrack {
			return EffectNone, ErrRange
		}
		lba = (cyl*Heads+head)*SectorsPerTrack + sec
	}

	d.mu.Lock()
	d.lba[unit] = lba
	d.mu.Unlock()
	return EffectNone, nil
}

// transfer moves E blocks between the unit and the buffer at HL in the
// bank in D.  The number of blocks moved is returned in E.
func transfer(d *Dispatcher, c *Call, write bool) (Effect, error) {
	count := int(c.Regs.DE.Lo)
	c.Regs.DE.Lo = 0

	unit, err := dioLoaded(c)
	if err != nil {
		return EffectNone, err
	}

	bank := memory.BankID(c.Regs.DE.Hi)
	if !c.Memory.Valid(bank) {
		return EffectNone, ErrRange
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	addr := c.Regs.HL.U16()
	for i := 0; i < count; i++ {
		if write {
			buf := make([]byte, disk.SectorSize)
			for j := range buf {
				buf[j], err = c.Memory.ReadBank(bank, addr+uint16(j))
				if err != nil {
					return EffectNone, err
				}
			}
			err = c.Disks.WriteSector(unit, d.lba[unit], buf)
		} else {
			var buf []byte
			buf, err = c.Disks.ReadSector(unit, d.lba[unit])
			for j := 0; err == nil && j < len(buf); j++ {
				err = c.Memory.WriteBank(bank, addr+uint16(j), buf[j])
			}
		}
		if err != nil {
			return EffectNone, err
		}

		addr += disk.SectorSize
		d.lba[unit]++
		c.Regs.DE.Lo++
	}
	return EffectNone, nil
}

// DIORead reads blocks into memory.
func DIORead(d *Dispatcher, c *Call) (Effect, error) {
	return transfer(d, c, false)
}

// DIOWrite writes blocks from memory.
func DIOWrite(d *Dispatcher, c *Call) (Effect, error) {
	return transfer(d, c, true)
}

// DIOVerify confirms the next E blocks exist.
func DIOVerify(d *Dispatcher, c *Call) (Effect, error) {
	count := uint32(c.Regs.DE.Lo)
	c.Regs.DE.Lo = 0

	unit, err := dioLoaded(c)
	if err != nil {
		return EffectNone, err
	}

	d.mu.Lock()
	lba := d.lba[unit]
	d.mu.Unlock()

	if lba+count > c.Disks.Sectors(unit) {
		return EffectNone, ErrRange
	}
	c.Regs.DE.Lo = uint8(count)
	return EffectNone, nil
}

// DIODevice describes the unit: type in D, number in E, attributes in C.
func DIODevice(d *Dispatcher, c *Call) (Effect, error) {
	unit, err := dioUnit(c)
	if err != nil {
		return EffectNone, err
	}
	c.Regs.DE.Hi = DIODeviceHDSK
	c.Regs.DE.Lo = uint8(unit)
	c.Regs.BC.Lo = DIOAttributes
	return EffectNone, nil
}

// DIOMedia returns the media type in E.
func DIOMedia(d *Dispatcher, c *Call) (Effect, error) {
	c.Regs.DE.Lo = MediaNone
	if _, err := dioLoaded(c); err != nil {
		return EffectNone, err
	}
	c.Regs.DE.Lo = MediaHD
	return EffectNone, nil
}

// DIOCapacity returns the number of blocks in DEHL, and the block size
// in BC.
func DIOCapacity(d *Dispatcher, c *Call) (Effect, error) {
	unit, err := dioLoaded(c)
	if err != nil {
		return EffectNone, err
	}

	n := c.Disks.Sectors(unit)
	c.Regs.DE.SetU16(uint16(n >> 16))
	c.Regs.HL.SetU16(uint16(n))
	c.Regs.BC.SetU16(disk.SectorSize)
	return EffectNone, nil
}

// DIOGeometry returns cylinders in HL, heads in D (with the LBA-capable
// flag), sectors per track in E, and the block size in BC.
func DIOGeometry(d *Dispatcher, c *Call) (Effect, error) {
	unit, err := dioLoaded(c)
	if err != nil {
		return EffectNone, err
	}

	cyls := c.Disks.Sectors(unit) / (Heads * SectorsPerTrack)
	if cyls > 0xFFFF {
		cyls = 0xFFFF
	}
	c.Regs.HL.SetU16(uint16(cyls))
	c.Regs.DE.Hi = Heads | 0x80
	c.Regs.DE.Lo = SectorsPerTrack
	c.Regs.BC.SetU16(disk.SectorSize)
	return EffectNone, nil
}
