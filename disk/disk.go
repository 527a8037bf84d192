// Package disk holds the hard-disk images the emulated system boots
// from.
//
// A disk image is a raw binary file, with no header, which is logically
// split into a number of fixed-size "slices".  Each slice is presented to
// the guest operating system as if it were an independent drive.  Unused
// space is filled with 0xE5, which CP/M treats as an empty directory.
//
// The subsystem is shared between the goroutine running the emulator and
// the goroutine which saves images back to the host, so all access is
// serialized by a mutex.
package disk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const (
	// SliceSize is the size of a single slice, 8MiB.
	SliceSize = 8 * 1024 * 1024

	// MaxSlices is the largest number of slices a unit may expose.
	MaxSlices = 8

	// MaxUnits is the number of disk units we support.
	MaxUnits = 16

	// SectorSize is the size of a logical block, as used by the guest.
	SectorSize = 512

	// SectorsPerSlice is the number of logical blocks within one slice.
	SectorsPerSlice = SliceSize / SectorSize

	// Fill is the byte used to pad images, an empty CP/M directory entry.
	Fill = 0xE5
)

var (
	// ErrUnitRange is returned for a unit number we don't support.
	ErrUnitRange = errors.New("disk unit out of range")

	// ErrNotLoaded is returned when a unit has no image.
	ErrNotLoaded = errors.New("no disk loaded")

	// ErrTooLarge is returned for images bigger than MaxSlices slices.
	ErrTooLarge = errors.New("disk image too large")

	// ErrOutOfRange is returned for reads/writes outside the addressable
	// part of a unit.
	ErrOutOfRange = errors.New("disk access out of range")

	// ErrChecksum is returned when an image doesn't have the expected hash.
	ErrChecksum = errors.New("disk image checksum mismatch")
)

// Unit holds the state of a single disk.
type Unit struct {
	// ID is the unit number.
	ID int

	// data is the backing buffer, always a multiple of SliceSize.
	data []byte

	// slices is the number of externally addressable slices.
	slices int
}

// Subsystem holds all our disk units.
type Subsystem struct {
	mu    sync.RWMutex
	units [MaxUnits]*Unit
}

// New returns a subsystem with no disks loaded.
func New() *Subsystem {
	return &Subsystem{}
}

// pad returns a copy of the data, padded with Fill to the next slice
// boundary.  An empty image becomes a single empty slice.
func pad(data []byte) []byte {
	n := (len(data) + SliceSize - 1) / SliceSize
	if n == 0 {
		n = 1
	}

	buf := make([]byte, n*SliceSize)
	copy(buf, data)
	for i := len(data); i < len(buf); i++ {
		buf[i] = Fill
	}
	return buf
}

// Load stores a copy of the given image as the specified unit, replacing
// any image already there.
func (s *Subsystem) Load(unit int, data []byte) error {
	if unit < 0 || unit >= MaxUnits {
		return fmt.Errorf("%w: %d", ErrUnitRange, unit)
	}
	if len(data) > MaxSlices*SliceSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	buf := pad(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.units[unit] = &Unit{
		ID:     unit,
		data:   buf,
		slices: len(buf) / SliceSize,
	}
	return nil
}

// LoadVerified is like Load, but first confirms the image has the given
// SHA-256 hash, expressed in hex.  A mismatch leaves the unit untouched.
func (s *Subsystem) LoadVerified(unit int, data []byte, sum string) error {
	got := sha256.Sum256(data)
	if !strings.EqualFold(hex.EncodeToString(got[:]), strings.TrimSpace(sum)) {
		return fmt.Errorf("%w: unit %d", ErrChecksum, unit)
	}
	return s.Load(unit, data)
}

// LoadFile reads the named image and loads it into the given unit.
func (s *Subsystem) LoadFile(unit int, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.Load(unit, data)
}

// get returns the given unit, which must be loaded.
//
// The caller must hold the lock.
func (s *Subsystem) get(unit int) (*Unit, error) {
	if unit < 0 || unit >= MaxUnits {
		return nil, fmt.Errorf("%w: %d", ErrUnitRange, unit)
	}
	u := s.units[unit]
	if u == nil {
		return nil, fmt.Errorf("%w: unit %d", ErrNotLoaded, unit)
	}
	return u, nil
}

// SetSliceCount changes the number of slices the unit exposes, clamped
// to 1-MaxSlices.
//
// Growing pads the image with empty slices, shrinking only hides the
// trailing slices - their content is retained.
func (s *Subsystem) SetSliceCount(unit int, n int) error {
	if n < 1 {
		n = 1
	}
	if n > MaxSlices {
		n = MaxSlices
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(unit)
	if err != nil {
		return err
	}

	if need := n * SliceSize; need > len(u.data) {
		grown := make([]byte, need)
		copy(grown, u.data)
		for i := len(u.data); i < need; i++ {
			grown[i] = Fill
		}
		u.data = grown
	}
	u.slices = n
	return nil
}

// Slices returns the number of addressable slices of the given unit, or
// zero if nothing is loaded.
func (s *Subsystem) Slices(unit int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.get(unit)
	if err != nil {
		return 0
	}
	return u.slices
}

// Sectors returns the number of addressable logical blocks of a unit.
func (s *Subsystem) Sectors(unit int) uint32 {
	return uint32(s.Slices(unit)) * SectorsPerSlice
}

// Loaded returns true if the given unit holds an image.
func (s *Subsystem) Loaded(unit int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.get(unit)
	return err == nil
}

// Units returns one more than the highest loaded unit number, which is
// the count the guest sees.
func (s *Subsystem) Units() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i, u := range s.units {
		if u != nil {
			count = i + 1
		}
	}
	return count
}

// span validates an access and returns the offset within the image.
func span(u *Unit, slice int, offset int, length int) (int, error) {
	if slice < 0 || slice >= u.slices {
		return 0, fmt.Errorf("%w: slice %d of %d", ErrOutOfRange, slice, u.slices)
	}
	if offset < 0 || length < 0 || length > SliceSize || offset > SliceSize-length {
		return 0, fmt.Errorf("%w: offset %d length %d", ErrOutOfRange, offset, length)
	}
	return slice*SliceSize + offset, nil
}

// Read returns a copy of length bytes at offset within the given slice.
func (s *Subsystem) Read(unit int, slice int, offset int, length int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.get(unit)
	if err != nil {
		return nil, err
	}
	start, err := span(u, slice, offset, length)
	if err != nil {
		return nil, err
	}

	out := make([]byte, length)
	copy(out, u.data[start:start+length])
	return out, nil
}

// Write stores data at offset within the given slice.
func (s *Subsystem) Write(unit int, slice int, offset int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(unit)
	if err != nil {
		return err
	}
	start, err := span(u, slice, offset, len(data))
	if err != nil {
		return err
	}

	copy(u.data[start:], data)
	return nil
}

// locate converts a logical block address into a slice and offset.
func locate(lba uint32) (int, int) {
	return int(lba / SectorsPerSlice), int(lba%SectorsPerSlice) * SectorSize
}

// ReadSector returns the logical block at the given address.
func (s *Subsystem) ReadSector(unit int, lba uint32) ([]byte, error) {
	slice, offset := locate(lba)
	return s.Read(unit, slice, offset, SectorSize)
}

// WriteSector replaces the logical block at the given address.
func (s *Subsystem) WriteSector(unit int, lba uint32, data []byte) error {
	if len(data) != SectorSize {
		return fmt.Errorf("%w: %d byte sector", ErrOutOfRange, len(data))
	}
	slice, offset := locate(lba)
	return s.Write(unit, slice, offset, data)
}

// Data returns a copy of the whole backing buffer of the given unit, so
// that the caller may save it.
func (s *Subsystem) Data(unit int) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.get(unit)
	if err != nil {
		return nil
	}
	out := make([]byte, len(u.data))
	copy(out, u.data)
	return out
}

// SaveFile writes the given unit's image to the named file.
func (s *Subsystem) SaveFile(unit int, path string) error {
	data := s.Data(unit)
	if data == nil {
		return fmt.Errorf("%w: unit %d", ErrNotLoaded, unit)
	}
	return os.WriteFile(path, data, 0644)
}

// Close releases a single unit.
func (s *Subsystem) Close(unit int) {
	if unit < 0 || unit >= MaxUnits {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[unit] = nil
}

// CloseAll releases every unit, and should be used before the mapping of
// images to units is changed.
func (s *Subsystem) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.units {
		s.units[i] = nil
	}
}
