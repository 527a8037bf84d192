//go:build unix

// drv_stty creates a console input-driver which uses the
// `stty` binary to turn off echoing for the session, and select(2)
// to notice pending keystrokes without blocking.
//
// This is obviously not portable outwith Unix-like systems.

package consolein

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// sttyPoll is how long PendingInput waits for a keystroke.
const sttyPoll = 200 * time.Microsecond

// STTYInput is an input-driver that executes the 'stty' binary
// to disable echoing of character input, for the duration of our
// session.
//
// The guest echoes what it reads, so the host must not.
type STTYInput struct {
	// in is the terminal we read, os.Stdin unless testing.
	in *os.File

	// wait bounds each select(2) in PendingInput.
	wait time.Duration

	mu sync.Mutex

	// echoOff is set while stty has echo disabled.
	echoOff bool

	// stuffed holds fake input which is returned before anything
	// typed.
	stuffed []byte
}

// stty runs the stty binary against the controlling terminal.
func stty(arg string) error {
	if err := exec.Command("stty", "-F", "/dev/tty", arg).Run(); err != nil {
		return fmt.Errorf("stty %s failed: %w", arg, err)
	}
	return nil
}

// Setup disables echo.
func (si *STTYInput) Setup() error {
	si.mu.Lock()
	defer si.mu.Unlock()

	if err := stty("-echo"); err != nil {
		return err
	}
	si.echoOff = true
	return nil
}

// TearDown restores echo, if we turned it off.
func (si *STTYInput) TearDown() error {
	si.mu.Lock()
	defer si.mu.Unlock()

	if !si.echoOff {
		return nil
	}
	si.echoOff = false
	return stty("echo")
}

// fd returns the descriptor of the terminal we read.
func (si *STTYInput) fd() int {
	if si.in == nil {
		si.in = os.Stdin
	}
	return int(si.in.Fd())
}

// ready uses select(2) to see whether a read of fd would succeed
// within the given time.
func ready(fd int, wait time.Duration) bool {
	fds := &unix.FdSet{}
	fds.Set(fd)

	tv := unix.NsecToTimeval(wait.Nanoseconds())
	n, err := unix.Select(fd+1, fds, nil, nil, &tv)
	return err == nil && n > 0
}

// PendingInput returns true if there is stuffed input, or a keystroke
// waiting on the terminal.
//
// The terminal is in raw mode while we look, without that input is only
// available once a whole line has been typed.
func (si *STTYInput) PendingInput() bool {
	si.mu.Lock()
	stuffed := len(si.stuffed) > 0
	si.mu.Unlock()
	if stuffed {
		return true
	}

	fd := si.fd()
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return false
	}
	defer term.Restore(fd, oldState)

	wait := si.wait
	if wait <= 0 {
		wait = sttyPoll
	}
	return ready(fd, wait)
}

// StuffInput queues fake input, returned before anything typed.
func (si *STTYInput) StuffInput(input string) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.stuffed = append(si.stuffed, input...)
}

// BlockForCharacterNoEcho returns the next character from the console, blocking until
// one is available.
func (si *STTYInput) BlockForCharacterNoEcho() (byte, error) {
	si.mu.Lock()
	if len(si.stuffed) > 0 {
		c := si.stuffed[0]
		si.stuffed = si.stuffed[1:]
		si.mu.Unlock()
		return c, nil
	}
	si.mu.Unlock()

	fd := si.fd()
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return 0x00, fmt.Errorf("error making raw terminal: %w", err)
	}

	b := make([]byte, 1)
	_, err = si.in.Read(b)

	if rerr := term.Restore(fd, oldState); rerr != nil && err == nil {
		err = fmt.Errorf("error restoring terminal state: %w", rerr)
	}
	if err != nil {
		return 0x00, fmt.Errorf("error reading from the terminal: %w", err)
	}
	return b[0], nil
}

// GetName is part of the module API, and returns the name of this driver.
func (si *STTYInput) GetName() string {
	return "stty"
}

// init registers our driver, by name.
func init() {
	Register("stty", func() ConsoleInput {
		return new(STTYInput)
	})
}
