package memory

import (
	"errors"
	"math/rand"
	"os"
	"testing"
)

// newMemory creates memory with the default configuration, failing the
// test if that isn't possible.
func newMemory(t *testing.T) *Memory {
	t.Helper()

	mem, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("failed to create memory: %s", err)
	}
	return mem
}

// TestMemoryTrivial just does basic get/set tests
func TestMemoryTrivial(t *testing.T) {

	mem := newMemory(t)

	// ROM bank 0 is selected by default, so select some RAM.
	err := mem.SelectBank(0x81)
	if err != nil {
		t.Fatalf("failed to select RAM bank: %s", err)
	}

	// Set
	mem.Set(0x00, 0x01)
	mem.Set(0x01, 0x02)

	// Get
	if mem.Get(0x00) != 0x01 {
		t.Fatalf("failed to get expected result")
	}
	if mem.Get(0x01) != 0x02 {
		t.Fatalf("failed to get expected result")
	}
	// GetU16
	if mem.GetU16(0x00) != 0x0201 {
		t.Fatalf("failed to get expected result")
	}

	// Fill with 0xCD
	mem.FillRange(0x00, 0xFFFF, 0xCD)

	if mem.Get(0xFFFE) != 0xCD {
		t.Fatalf("failed to get expected result")
	}
	// GetU16
	if mem.GetU16(0x0100) != 0xCDCD {
		t.Fatalf("failed to get expected result")
	}

	// Get a random range
	out := mem.GetRange(0x300, 0x00FF)
	if len(out) != 0xFF {
		t.Fatalf("wrong length from GetRange: %d", len(out))
	}
	for _, d := range out {
		if d != 0xCD {
			t.Fatalf("wrong result in GetRange")
		}
	}

	// Put a (small) range
	mem.SetRange(0x0000, 0x01, 0x02, 0x03)

	if mem.GetU16(0x02) != 0xCD03 {
		t.Fatalf("failed to get expected result")
	}
}

// TestCommonArea ensures the upper half of memory doesn't change with the
// bank selection.
func TestCommonArea(t *testing.T) {

	mem := newMemory(t)

	if mem.CommonBank() != 0x8F {
		t.Fatalf("unexpected common bank %s", mem.CommonBank())
	}

	mem.Set(0x9000, 0x42)
	mem.Set(0x1000, 0x42)

	for _, bank := range []BankID{0x00, 0x03, 0x80, 0x84, 0x8F} {
		err := mem.SelectBank(bank)
		if err != nil {
			t.Fatalf("failed to select %s: %s", bank, err)
		}
		if mem.Get(0x9000) != 0x42 {
			t.Fatalf("common area changed with bank %s", bank)
		}
	}

	// The low-write went to ROM, so it was discarded.
	if err := mem.SelectBank(0x00); err != nil {
		t.Fatalf("failed to select ROM: %s", err)
	}
	if mem.Get(0x1000) != 0x00 {
		t.Fatalf("write to ROM wasn't ignored")
	}

	// Bank 0x8F at offset 0x1000 is logical 0x9000.
	v, err := mem.ReadBank(0x8F, 0x1000)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v != 0x42 {
		t.Fatalf("common bank not aliased to the upper half")
	}
}

// TestSelectBankRange throws random, and hostile, bank IDs at the memory
// to make sure nothing indexes outside the bank arrays.
func TestSelectBankRange(t *testing.T) {

	mem := newMemory(t)

	if err := mem.SelectBank(0x82); err != nil {
		t.Fatalf("failed to select bank: %s", err)
	}

	check := func(id BankID) {
		before := mem.CurrentBank()
		err := mem.SelectBank(id)

		if mem.Valid(id) {
			if err != nil {
				t.Fatalf("valid bank %s rejected: %s", id, err)
			}
			return
		}

		if !errors.Is(err, ErrBankRange) {
			t.Fatalf("bank %s: expected ErrBankRange, got %v", id, err)
		}
		if mem.CurrentBank() != before {
			t.Fatalf("failed selection changed the bank")
		}

		// Reading via the failed bank must also be safe.
		_, err = mem.ReadBank(id, 0x0000)
		if !errors.Is(err, ErrBankRange) {
			t.Fatalf("expected error reading bank %s", id)
		}
		err = mem.WriteBank(id, 0x7FFF, 0x00)
		if !errors.Is(err, ErrBankRange) {
			t.Fatalf("expected error writing bank %s", id)
		}
	}

	// Every possible value.
	for i := 0; i < 256; i++ {
		check(BankID(i))
	}

	// Random values, including negative numbers truncated to a byte.
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		check(BankID(int8(r.Intn(256) - 128)))
		mem.Get(uint16(r.Intn(0x10000)))
	}
}

// TestLazyBootstrap ensures that RAM banks receive their copy of page zero
// once, and only once.
func TestLazyBootstrap(t *testing.T) {

	mem := newMemory(t)

	rom := make([]uint8, BankSize)
	for i := range rom {
		rom[i] = uint8(i)
	}
	_, err := mem.LoadROM(rom)
	if err != nil {
		t.Fatalf("failed to load ROM: %s", err)
	}
	mem.PatchROM(APITypeOffset, APITypeHBIOS)

	if mem.Initialized(0x83) {
		t.Fatalf("bank initialized before selection")
	}

	err = mem.SelectBank(0x83)
	if err != nil {
		t.Fatalf("failed to select bank: %s", err)
	}
	if !mem.Initialized(0x83) {
		t.Fatalf("bank not initialized after selection")
	}

	// Page zero + configuration block were copied.
	if mem.Get(0x0038) != 0x38 || mem.Get(0x01FF) != 0xFF {
		t.Fatalf("bootstrap copy missing")
	}
	if mem.Get(APITypeOffset) != APITypeHBIOS {
		t.Fatalf("API type not patched in RAM bank")
	}
	// But nothing beyond.
	if mem.Get(0x0200) != 0x00 {
		t.Fatalf("bootstrap copied too much")
	}

	// Scribble on the vectors, then reselect many times.
	mem.Set(0x0038, 0xAA)
	for i := 0; i < 10; i++ {
		if err := mem.SelectBank(0x00); err != nil {
			t.Fatalf("select failed: %s", err)
		}
		if err := mem.SelectBank(0x83); err != nil {
			t.Fatalf("select failed: %s", err)
		}
	}
	if mem.Get(0x0038) != 0xAA {
		t.Fatalf("bank was bootstrapped more than once")
	}

	// Clearing RAM resets the state.
	mem.ClearRAM()
	if mem.Initialized(0x83) {
		t.Fatalf("ClearRAM didn't forget bootstrap state")
	}
	if mem.Initialized(0x05) {
		t.Fatalf("ROM banks are never initialized")
	}
}

// TestResolve covers the bank+offset resolution.
func TestResolve(t *testing.T) {

	mem := newMemory(t)

	a, err := mem.Resolve(0x81, 0x1234)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if a.Bank != 0x81 || a.Offset != 0x1234 {
		t.Fatalf("wrong resolution %v", a)
	}

	a, err = mem.Resolve(0xFF, 0xF000)
	if err != nil {
		t.Fatalf("common addresses ignore the bank: %s", err)
	}
	if a.Bank != mem.CommonBank() || a.Offset != 0x7000 {
		t.Fatalf("wrong resolution %v", a)
	}

	_, err = mem.Resolve(0x40, 0x0000)
	if !errors.Is(err, ErrBankRange) {
		t.Fatalf("expected range error, got %v", err)
	}
}

// TestConfig ensures bogus configurations are rejected.
func TestConfig(t *testing.T) {

	bogus := []Config{
		{ROMBanks: 0, RAMBanks: 16},
		{ROMBanks: 129, RAMBanks: 16},
		{ROMBanks: 16, RAMBanks: 1},
		{ROMBanks: 16, RAMBanks: 65},
	}
	for _, cfg := range bogus {
		_, err := New(cfg, nil)
		if !errors.Is(err, ErrConfig) {
			t.Fatalf("expected config error for %v", cfg)
		}
	}

	mem, err := New(Config{ROMBanks: 1, RAMBanks: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if mem.Config().RAMBanks != 2 || mem.CommonBank() != 0x81 {
		t.Fatalf("wrong configuration")
	}
}

// TestLoadROM ensures we can load a file
func TestLoadROM(t *testing.T) {

	mem := newMemory(t)

	_, err := mem.LoadROMFile("/this/file-does/not/exist")
	if err == nil {
		t.Fatalf("expected error, got none")
	}

	_, err = mem.LoadROM(nil)
	if !errors.Is(err, ErrEmptyROM) {
		t.Fatalf("expected empty ROM error, got %v", err)
	}

	// Now write out a temporary file, with static contents.
	var file *os.File
	file, err = os.CreateTemp("", "tst-*.rom")
	if err != nil {
		t.Fatalf("failed to create temporary file")
	}
	defer os.Remove(file.Name())

	// Write some known-text to the file
	_, err = file.WriteString("Steve Kemp")
	if err != nil {
		t.Fatalf("failed to write ROM to temporary file")
	}
	file.Close()

	n, err := mem.LoadROMFile(file.Name())
	if err != nil {
		t.Errorf("failed to load file")
	}
	if n != 10 {
		t.Fatalf("wrong size loaded %d", n)
	}

	// Confirm the contents are OK
	x := "Steve Kemp"
	for i, c := range x {
		chr := mem.Get(uint16(i))
		if string(chr) != string(c) {
			t.Fatalf("ROM had wrong contents at %d: %c != %c\n", i, c, chr)
		}
	}

	// A ROM spanning banks, and too big to fit.
	big := make([]uint8, (16*BankSize)+100)
	big[BankSize] = 0x99
	n, err = mem.LoadROM(big)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if n != 16*BankSize {
		t.Fatalf("oversized ROM wasn't truncated: %d", n)
	}
	v, _ := mem.ReadBank(0x01, 0x0000)
	if v != 0x99 {
		t.Fatalf("second bank has the wrong content")
	}
}
