// This file contains the I/O port handlers, which the CPU calls for every
// IN and OUT instruction.

package emulator

import (
	"fmt"
	"log/slog"

	"github.com/skx/romulator/device"
	"github.com/skx/romulator/memory"
)

// The ports we respond to.
const (
	// PortUARTData is the console data register.
	PortUARTData = 0x68

	// PortUARTStatus is the console line-status register.
	PortUARTStatus = 0x6D

	// PortRAMLatch selects a RAM bank.
	PortRAMLatch = 0x78

	// PortROMLatch selects a ROM bank.
	PortROMLatch = 0x7C

	// PortSignal carries the boot handshake.
	PortSignal = 0xEE

	// PortDispatch invokes the HBIOS call described by the registers.
	PortDispatch = 0xEF
)

// Bits of the UART line-status register.
const (
	lsrDataReady = 0x01
	lsrTxEmpty   = 0x60
)

// In is called to handle the I/O reading of a Z80 port.
//
// This is called by our embedded Z80 emulator.
func (e *Emulator) In(addr uint8) uint8 {
	switch addr {
	case PortUARTData:
		c, ok := e.Device.ReadInput()
		if !ok {
			return 0x00
		}
		return c

	case PortUARTStatus:
		status := uint8(lsrTxEmpty)
		if e.Device.PendingInput() > 0 {
			status |= lsrDataReady
		}
		return status

	case PortRAMLatch:
		bank := e.Memory.CurrentBank()
		if !bank.IsRAM() {
			return 0x00
		}
		return uint8(bank.Index())

	case PortROMLatch:
		return uint8(e.Memory.CurrentBank())

	case PortSignal:
		if e.Device.Registered() {
			return 0x01
		}
		return 0x00
	}

	e.Logger.Debug("I/O IN from unknown port",
		slog.String("port", fmt.Sprintf("0x%02X", addr)))
	return 0xFF
}

// Out is called to handle the I/O writing to a Z80 port.
//
// This is called by our embedded Z80 emulator.
func (e *Emulator) Out(addr uint8, val uint8) {
	switch addr {
	case PortUARTData:
		e.Device.WriteOutput(val)

	case PortRAMLatch:
		e.selectBank(memory.RAMFlag | memory.BankID(val))

	case PortROMLatch:
		// With the high bit set this selects RAM, like the RAM latch.
		e.selectBank(memory.BankID(val))

	case PortSignal:
		e.signal(val)

	case PortDispatch:
		e.pending = e.HBIOS.Handle(&e.CPU.States)

	default:
		e.Logger.Debug("I/O OUT to unknown port",
			slog.String("port", fmt.Sprintf("0x%02X", addr)),
			slog.Int("value", int(val)))
	}
}

// selectBank changes the bank, complaining about impossible banks.
func (e *Emulator) selectBank(bank memory.BankID) {
	if err := e.Memory.SelectBank(bank); err != nil {
		e.Logger.Warn("bank selection failed",
			slog.String("bank", bank.String()),
			slog.String("error", err.Error()))
	}
}

// signal advances the boot handshake.
func (e *Emulator) signal(val uint8) {
	step, ok := e.Device.Signal(val)
	if !ok {
		e.Logger.Warn("unexpected value on signal port",
			slog.String("value", fmt.Sprintf("0x%02X", val)))
		return
	}

	e.Logger.Debug("boot handshake",
		slog.String("step", step.String()))

	if step != device.StepRegistered {
		return
	}

	addr := e.Device.Trampoline()
	if addr < memory.CommonBase {
		// The trampoline must be reachable whichever bank is selected.
		e.Logger.Warn("HBIOS proxy registered outside common memory",
			slog.String("address", fmt.Sprintf("0x%04X", addr)))
		return
	}
	e.Logger.Info("HBIOS proxy registered",
		slog.String("address", fmt.Sprintf("0x%04X", addr)))
}
