// Package consolein handles the reading of console input for our
// emulator.
//
// Input is read from the host by one of several drivers, chosen by name,
// and passed on to the emulator one byte at a time.  The emulator queues
// it until the guest asks for it, so drivers never need to know what the
// guest is doing.
package consolein

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// QuitKey is the byte which ends the session, Ctrl-].
const QuitKey = 0x1D

var (
	// ErrQuit is returned by Pump when the user pressed QuitKey.
	ErrQuit = errors.New("quit key pressed")

	// ErrUnknownDriver is returned for a driver name we don't recognize.
	ErrUnknownDriver = errors.New("unknown input driver")
)

// ConsoleInput is the interface that must be implemented by anything
// that wishes to be used as an input driver.
type ConsoleInput interface {

	// Setup performs any specific setup which is required.
	Setup() error

	// TearDown performs any specific cleanup which is required.
	TearDown() error

	// PendingInput returns true if there is pending input available
	// to be read.
	PendingInput() bool

	// BlockForCharacterNoEcho reads a single character from the
	// console, blocking until one is available, without echoing it.
	BlockForCharacterNoEcho() (byte, error)

	// GetName returns the name of the driver.
	GetName() string
}

// Finite is implemented by drivers whose input can run out, such as
// the file driver.
type Finite interface {
	Exhausted() bool
}

// Constructor is the signature of a constructor-function which is used
// to instantiate an instance of a driver.
type Constructor func() ConsoleInput

// handlers is our registry of drivers.
var handlers = struct {
	m  map[string]Constructor
	mu sync.RWMutex
}{m: make(map[string]Constructor)}

// Register makes a console driver available, by name.
//
// When one needs to be created the constructor can be called to create
// an instance of it.
func Register(name string, obj Constructor) {
	handlers.mu.Lock()
	handlers.m[name] = obj
	handlers.mu.Unlock()
}

// Sink receives the bytes we read.
type Sink interface {
	QueueInput(c byte)
}

// ConsoleIn holds our state, which is basically just a pointer to the
// object handling our input.
type ConsoleIn struct {
	// driver is the thing that actually reads our input.
	driver ConsoleInput

	// poll is how long Pump sleeps when there is no input.
	poll time.Duration
}

// New is our constructor, it creates an input device which uses the
// specified driver.
func New(name string) (*ConsoleIn, error) {
	handlers.mu.RLock()
	ctor, ok := handlers.m[name]
	handlers.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, name)
	}

	return &ConsoleIn{
		driver: ctor(),
		poll:   5 * time.Millisecond,
	}, nil
}

// GetDriver returns the driver we're using.
func (co *ConsoleIn) GetDriver() ConsoleInput {
	return co.driver
}

// GetName returns the name of our selected driver.
func (co *ConsoleIn) GetName() string {
	return co.driver.GetName()
}

// GetDrivers returns all available driver-names, sorted.
func (co *ConsoleIn) GetDrivers() []string {
	handlers.mu.RLock()
	defer handlers.mu.RUnlock()

	valid := []string{}
	for x := range handlers.m {
		valid = append(valid, x)
	}
	sort.Strings(valid)
	return valid
}

// Setup proxies into our registered console-input driver.
func (co *ConsoleIn) Setup() error {
	return co.driver.Setup()
}

// TearDown proxies into our registered console-input driver.
func (co *ConsoleIn) TearDown() error {
	return co.driver.TearDown()
}

// PendingInput proxies into our registered console-input driver.
func (co *ConsoleIn) PendingInput() bool {
	return co.driver.PendingInput()
}

// BlockForCharacterNoEcho proxies into our registered console-input
// driver.
func (co *ConsoleIn) BlockForCharacterNoEcho() (byte, error) {
	return co.driver.BlockForCharacterNoEcho()
}

// Pump copies input to the sink until the context is cancelled, the
// input is exhausted, or the user presses QuitKey.
//
// We only read when the driver says input is pending, so that
// cancellation is noticed promptly.
func (co *ConsoleIn) Pump(ctx context.Context, sink Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if f, ok := co.driver.(Finite); ok && f.Exhausted() {
			return nil
		}

		if !co.driver.PendingInput() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(co.poll):
			}
			continue
		}

		c, err := co.driver.BlockForCharacterNoEcho()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if c == QuitKey {
			return ErrQuit
		}
		sink.QueueInput(c)
	}
}
