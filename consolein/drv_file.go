// drv_file creates a console input-driver which reads and
// returns fake console input from a file.
//
// The intent is that this driver will be useful for scripted
// automation, for example booting a disk and running a command.
// A "#" character in the file is replaced by a pause, since a
// freshly booted system ignores input which arrives too early.

package consolein

import (
	"io"
	"os"
	"sync"
	"time"
)

// FileInput is an input-driver that returns fake "console input"
// by reading the content of the file named by $INPUT_FILE, or
// "input.txt" if that is unset.
type FileInput struct {
	mu sync.Mutex

	// offset shows the offset into the buffer we're at
	offset int

	// content contains the content of the input file
	content []byte

	// delayUntil is used to see if we're in the middle of a delay,
	// where we pretend we have no input.
	delayUntil time.Time

	// delayLarge is the pause a "#" causes.
	delayLarge time.Duration
}

// Setup reads the contents of the input file, and saves it away as a
// source of fake console input.
func (fi *FileInput) Setup() error {
	fileName := os.Getenv("INPUT_FILE")
	if fileName == "" {
		fileName = "input.txt"
	}

	dat, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}

	fi.load(dat)
	return nil
}

// load resets our state to return the given content.
func (fi *FileInput) load(dat []byte) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	fi.offset = 0
	fi.content = dat
	fi.delayUntil = time.Now()
	if fi.delayLarge == 0 {
		fi.delayLarge = 5 * time.Second
	}
}

// TearDown is a NOP.
func (fi *FileInput) TearDown() error {
	return nil
}

// PendingInput returns true if there is pending input which we can
// return.  This is always true unless we've exhausted the contents of
// our input-file, or we're pausing.
func (fi *FileInput) PendingInput() bool {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if time.Now().Before(fi.delayUntil) {
		return false
	}

	// A pause starts now, rather than when the next character is read.
	if fi.offset < len(fi.content) && fi.content[fi.offset] == '#' {
		fi.offset++
		fi.delayUntil = time.Now().Add(fi.delayLarge)
		return false
	}
	return fi.offset < len(fi.content)
}

// Exhausted returns true once all the content has been returned.
func (fi *FileInput) Exhausted() bool {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.offset >= len(fi.content)
}

// BlockForCharacterNoEcho returns the next character from the file we
// use to fake our input.
func (fi *FileInput) BlockForCharacterNoEcho() (byte, error) {
	for {
		fi.mu.Lock()

		if fi.offset >= len(fi.content) {
			fi.mu.Unlock()
			return 0x00, io.EOF
		}

		wait := time.Until(fi.delayUntil)
		if wait > 0 {
			fi.mu.Unlock()
			time.Sleep(wait)
			continue
		}

		x := fi.content[fi.offset]
		fi.offset++

		if x != '#' {
			fi.mu.Unlock()
			return x, nil
		}

		fi.delayUntil = time.Now().Add(fi.delayLarge)
		fi.mu.Unlock()
	}
}

// GetName is part of the module API, and returns the name of this driver.
func (fi *FileInput) GetName() string {
	return "file"
}

// init registers our driver, by name.
func init() {
	Register("file", func() ConsoleInput {
		return new(FileInput)
	})
}
