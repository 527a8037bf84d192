// Package memory provides the banked address space the emulated Z80
// executes within.
//
// The lower 32K of the 64K address space is a window onto whichever bank
// is currently selected, which may be any ROM bank or any RAM bank.  The
// upper 32K is the "common" area, which always maps onto the highest RAM
// bank regardless of the selection.
//
// Bank identifiers follow the RomWBW convention: 0x00-0x7F are ROM banks,
// and 0x80 onwards are RAM banks.
package memory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	// BankSize is the size of a single bank of ROM or RAM.
	BankSize = 0x8000

	// CommonBase is the first logical address of the common area.
	CommonBase = 0x8000

	// RAMFlag is set in a BankID when that bank refers to RAM.
	RAMFlag BankID = 0x80

	// BootstrapSize is the number of bytes copied from ROM bank 0 into
	// each RAM bank the first time it is selected: page zero plus the
	// HBIOS configuration block.
	BootstrapSize = 0x0200

	// APITypeOffset is the offset, within the configuration block
	// in bank 0, of the byte which selects the host-services API.
	APITypeOffset = 0x0112

	// APITypeHBIOS is the value written to APITypeOffset to select the
	// HBIOS API.
	APITypeHBIOS = 0x00

	// APITypeUNA is the alternative value for APITypeOffset.
	APITypeUNA = 0xFF

	// maxRAMBanks is bounded by the width of our initialization bitmap.
	maxRAMBanks = 64
)

var (
	// ErrBankRange is returned when a bank identifier doesn't refer to
	// a bank we have.
	ErrBankRange = errors.New("bank out of range")

	// ErrEmptyROM is returned when attempting to load a zero-byte ROM.
	ErrEmptyROM = errors.New("ROM image is empty")

	// ErrConfig is returned for an unusable bank configuration.
	ErrConfig = errors.New("invalid memory configuration")
)

// BankID identifies a single bank of ROM or RAM.
type BankID uint8

// IsRAM returns true if the bank refers to RAM.
func (b BankID) IsRAM() bool {
	return b&RAMFlag != 0
}

// Index returns the index of the bank within either the ROM or the RAM
// array.
func (b BankID) Index() int {
	return int(b &^ RAMFlag)
}

// String implements fmt.Stringer.
func (b BankID) String() string {
	return fmt.Sprintf("0x%02X", uint8(b))
}

// Address is a validated bank-relative location.
type Address struct {
	// Bank is the bank the offset refers to.
	Bank BankID

	// Offset is the position within the bank, always < BankSize.
	Offset uint16
}

// Config holds the number of banks of each type we emulate.
type Config struct {
	// ROMBanks is the number of 32K ROM banks, 1-128.
	ROMBanks int

	// RAMBanks is the number of 32K RAM banks, 2-64.
	RAMBanks int
}

// DefaultConfig returns the configuration of a board with 512K of ROM
// and 512K of RAM.
func DefaultConfig() Config {
	return Config{ROMBanks: 16, RAMBanks: 16}
}

// Memory holds our ROM and RAM banks, and the current selection.
type Memory struct {
	rom [][BankSize]uint8
	ram [][BankSize]uint8

	// active is the bank visible below CommonBase.
	active BankID

	// common is the bank which is visible at, and above, CommonBase.
	common BankID

	// initialized has one bit per RAM bank that has received its
	// bootstrap copy from ROM bank 0.
	initialized uint64

	// apiType is re-applied to every bootstrapped bank.
	apiType uint8

	logger *slog.Logger
}

// New creates memory with the specified number of banks.
func New(cfg Config, logger *slog.Logger) (*Memory, error) {
	if cfg.ROMBanks < 1 || cfg.ROMBanks > int(RAMFlag) {
		return nil, fmt.Errorf("%w: %d ROM banks", ErrConfig, cfg.ROMBanks)
	}
	if cfg.RAMBanks < 2 || cfg.RAMBanks > maxRAMBanks {
		return nil, fmt.Errorf("%w: %d RAM banks", ErrConfig, cfg.RAMBanks)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Memory{
		rom:     make([][BankSize]uint8, cfg.ROMBanks),
		ram:     make([][BankSize]uint8, cfg.RAMBanks),
		common:  RAMFlag | BankID(cfg.RAMBanks-1),
		apiType: APITypeHBIOS,
		logger:  logger,
	}
	return m, nil
}

// Config returns the bank configuration of this memory.
func (m *Memory) Config() Config {
	return Config{ROMBanks: len(m.rom), RAMBanks: len(m.ram)}
}

// CommonBank returns the bank which is mapped at CommonBase.
func (m *Memory) CommonBank() BankID {
	return m.common
}

// CurrentBank returns the bank currently mapped below CommonBase.
func (m *Memory) CurrentBank() BankID {
	return m.active
}

// Valid returns true if the given bank exists.
func (m *Memory) Valid(bank BankID) bool {
	if bank.IsRAM() {
		return bank.Index() < len(m.ram)
	}
	return bank.Index() < len(m.rom)
}

// SelectBank maps the given bank below CommonBase.
//
// Selecting a RAM bank for the first time copies page zero and the
// configuration block into it from ROM bank 0.  An unknown bank is
// rejected and the current selection is left untouched.
func (m *Memory) SelectBank(bank BankID) error {
	if !m.Valid(bank) {
		return fmt.Errorf("%w: %s", ErrBankRange, bank)
	}
	if bank.IsRAM() {
		m.bootstrap(bank)
	}
	m.active = bank
	return nil
}

// Initialized returns true if the given RAM bank has been bootstrapped.
func (m *Memory) Initialized(bank BankID) bool {
	if !bank.IsRAM() || !m.Valid(bank) {
		return false
	}
	return m.initialized&(1<<uint(bank.Index())) != 0
}

// EnsureInitialized bootstraps the given RAM bank, if required, without
// changing the selection.
func (m *Memory) EnsureInitialized(bank BankID) error {
	if !bank.IsRAM() || !m.Valid(bank) {
		return fmt.Errorf("%w: %s", ErrBankRange, bank)
	}
	m.bootstrap(bank)
	return nil
}

// bootstrap copies page zero and the configuration block from ROM bank 0,
// once per bank.
func (m *Memory) bootstrap(bank BankID) {
	bit := uint64(1) << uint(bank.Index())
	if m.initialized&bit != 0 {
		return
	}

	dst := &m.ram[bank.Index()]
	copy(dst[:BootstrapSize], m.rom[0][:BootstrapSize])
	dst[APITypeOffset] = m.apiType
	m.initialized |= bit

	m.logger.Debug("RAM bank bootstrapped",
		slog.String("bank", bank.String()))
}

// ResetBanks forgets which RAM banks have been bootstrapped and selects
// ROM bank 0.
func (m *Memory) ResetBanks() {
	m.initialized = 0
	m.active = 0
}

// Resolve turns a bank and a logical address into a validated location.
//
// Offsets at or above CommonBase refer to the common bank, whatever the
// requested bank is.
func (m *Memory) Resolve(bank BankID, addr uint16) (Address, error) {
	if addr >= CommonBase {
		return Address{Bank: m.common, Offset: addr - CommonBase}, nil
	}
	if !m.Valid(bank) {
		return Address{}, fmt.Errorf("%w: %s", ErrBankRange, bank)
	}
	return Address{Bank: bank, Offset: addr}, nil
}

// slot returns the storage for a resolved address.
func (m *Memory) slot(a Address) *uint8 {
	if a.Bank.IsRAM() {
		return &m.ram[a.Bank.Index()][a.Offset]
	}
	return &m.rom[a.Bank.Index()][a.Offset]
}

// ReadBank reads a byte from the given bank, with common-area routing.
func (m *Memory) ReadBank(bank BankID, addr uint16) (uint8, error) {
	a, err := m.Resolve(bank, addr)
	if err != nil {
		return 0, err
	}
	return *m.slot(a), nil
}

// WriteBank writes a byte to the given bank, with common-area routing.
//
// Writes to ROM are silently discarded, as they would be on hardware.
func (m *Memory) WriteBank(bank BankID, addr uint16, value uint8) error {
	a, err := m.Resolve(bank, addr)
	if err != nil {
		return err
	}
	if !a.Bank.IsRAM() {
		return nil
	}
	*m.slot(a) = value
	return nil
}

// Get returns a byte at addr of memory, via the current bank.
//
// This is part of the z80.Memory interface.
func (m *Memory) Get(addr uint16) uint8 {
	if addr >= CommonBase {
		return m.ram[m.common.Index()][addr-CommonBase]
	}
	if m.active.IsRAM() {
		return m.ram[m.active.Index()][addr]
	}
	return m.rom[m.active.Index()][addr]
}

// Set sets a byte at addr of memory, via the current bank.
//
// This is part of the z80.Memory interface.
func (m *Memory) Set(addr uint16, value uint8) {
	if addr >= CommonBase {
		m.ram[m.common.Index()][addr-CommonBase] = value
		return
	}
	if !m.active.IsRAM() {
		m.logger.Debug("write to ROM ignored",
			slog.String("bank", m.active.String()),
			slog.String("addr", fmt.Sprintf("0x%04X", addr)))
		return
	}
	m.ram[m.active.Index()][addr] = value
}

// GetU16 returns a word from the given address of memory.
func (m *Memory) GetU16(addr uint16) uint16 {
	l := m.Get(addr)
	h := m.Get(addr + 1)
	return (uint16(h) << 8) | uint16(l)
}

// SetRange copies bytes from the given data to the specified
// starting address, via the current bank.
func (m *Memory) SetRange(addr uint16, data ...uint8) {
	for _, d := range data {
		m.Set(addr, d)
		addr++
	}
}

// FillRange fills an area of memory with the given byte
func (m *Memory) FillRange(addr uint16, size int, char uint8) {
	for size > 0 {
		m.Set(addr, char)
		addr++
		size--
	}
}

// GetRange returns the contents of a given range
func (m *Memory) GetRange(addr uint16, size int) []uint8 {
	ret := make([]uint8, 0, size)
	for size > 0 {
		ret = append(ret, m.Get(addr))
		addr++
		size--
	}
	return ret
}

// ClearRAM zeroes every RAM bank, and forgets their bootstrap state.
func (m *Memory) ClearRAM() {
	for i := range m.ram {
		m.ram[i] = [BankSize]uint8{}
	}
	m.initialized = 0
}

// LoadROM copies the given image into ROM, starting at bank 0, and
// returns the number of bytes used.
//
// Images larger than the configured ROM are truncated; the caller decides
// whether that deserves a warning.
func (m *Memory) LoadROM(data []uint8) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyROM
	}

	for i := range m.rom {
		m.rom[i] = [BankSize]uint8{}
	}

	n := 0
	for i := range m.rom {
		if n >= len(data) {
			break
		}
		n += copy(m.rom[i][:], data[n:])
	}
	return n, nil
}

// LoadROMFile reads the named file and loads it via LoadROM.
func (m *Memory) LoadROMFile(name string) (int, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return 0, err
	}
	return m.LoadROM(data)
}

// PatchROM overwrites a single byte of ROM bank 0.  It is used to select
// the API type within the configuration block.
func (m *Memory) PatchROM(offset uint16, value uint8) {
	if offset >= BankSize {
		return
	}
	m.rom[0][offset] = value
	if offset == APITypeOffset {
		m.apiType = value
	}
}
