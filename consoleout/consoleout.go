// Package consoleout is an abstraction over console output.
//
// The emulator hands us the bytes the guest wrote to its console, and
// a driver, chosen by name, decides what to do with them.
package consoleout

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownDriver is returned for a driver name we don't recognize.
var ErrUnknownDriver = errors.New("unknown output driver")

// ConsoleOutput is the interface that must be implemented by anything
// that wishes to be used as a console driver.
//
// Providing this interface is implemented an object may register itself,
// by name, via the Register method.
type ConsoleOutput interface {

	// PutCharacter will output the specified character to the defined writer.
	//
	// The writer will default to STDOUT, but can be changed, via SetWriter.
	PutCharacter(c uint8)

	// GetName will return the name of the driver.
	GetName() string

	// SetWriter will update the writer.
	SetWriter(io.Writer)
}

// ConsoleRecorder is an interface that allows returning the contents that
// have been previously sent to the console.
type ConsoleRecorder interface {

	// GetOutput returns the contents which have been displayed.
	GetOutput() string

	// Reset removes any stored state.
	Reset()
}

// This is a map of known-drivers
var handlers = struct {
	m  map[string]Constructor
	mu sync.RWMutex
}{m: make(map[string]Constructor)}

// Constructor is the signature of a constructor-function
// which is used to instantiate an instance of a driver.
type Constructor func() ConsoleOutput

// Register makes a console driver available, by name.
func Register(name string, obj Constructor) {
	handlers.mu.Lock()
	handlers.m[strings.ToLower(name)] = obj
	handlers.mu.Unlock()
}

func lookup(name string) (Constructor, error) {
	handlers.mu.RLock()
	ctor, ok := handlers.m[strings.ToLower(name)]
	handlers.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownDriver, name)
	}
	return ctor, nil
}

// ConsoleOut holds our state, which is basically just a
// pointer to the object handling our output.
//
// The emulator may flush output from the goroutine running the guest
// while the CLI changes drivers, so access is serialized.
type ConsoleOut struct {
	mu sync.Mutex

	// driver is the thing that actually writes our output.
	driver ConsoleOutput
}

// New is our constructor, it creates an output device which uses
// the specified driver.
func New(name string) (*ConsoleOut, error) {
	ctor, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return &ConsoleOut{driver: ctor()}, nil
}

// GetDriver allows getting our driver at runtime.
func (co *ConsoleOut) GetDriver() ConsoleOutput {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.driver
}

// ChangeDriver allows changing our driver at runtime.
func (co *ConsoleOut) ChangeDriver(name string) error {
	ctor, err := lookup(name)
	if err != nil {
		return err
	}

	co.mu.Lock()
	co.driver = ctor()
	co.mu.Unlock()
	return nil
}

// GetName returns the name of our selected driver.
func (co *ConsoleOut) GetName() string {
	return co.GetDriver().GetName()
}

// GetDrivers returns all available driver-names, sorted.
//
// We hide the internal "null", and "logger" drivers.
func (co *ConsoleOut) GetDrivers() []string {
	handlers.mu.RLock()
	defer handlers.mu.RUnlock()

	valid := []string{}
	for x := range handlers.m {
		if x != "null" && x != "logger" {
			valid = append(valid, x)
		}
	}
	sort.Strings(valid)
	return valid
}

// SetWriter changes where our driver sends its output.
func (co *ConsoleOut) SetWriter(w io.Writer) {
	co.mu.Lock()
	co.driver.SetWriter(w)
	co.mu.Unlock()
}

// PutCharacter outputs a character, using our selected driver.
//
// It has the signature the emulator expects of an output handler.
func (co *ConsoleOut) PutCharacter(c byte) {
	co.mu.Lock()
	co.driver.PutCharacter(c)
	co.mu.Unlock()
}
