package consoleout

import (
	"io"
	"os"
)

// RawOutputDriver holds our state.
//
// RomWBW drives its console with ANSI sequences, which any modern terminal
// understands, so bytes are passed through untouched.
type RawOutputDriver struct {
	// writer is where we send our output
	writer io.Writer

	// buf avoids an allocation per character.
	buf [1]byte
}

// GetName returns the name of this driver.
//
// This is part of the OutputDriver interface.
func (rd *RawOutputDriver) GetName() string {
	return "raw"
}

// PutCharacter writes the specified character to the console.
//
// This is part of the OutputDriver interface.
func (rd *RawOutputDriver) PutCharacter(c uint8) {
	rd.buf[0] = c
	_, _ = rd.writer.Write(rd.buf[:])
}

// SetWriter will update the writer.
func (rd *RawOutputDriver) SetWriter(w io.Writer) {
	rd.writer = w
}

// init registers our driver, by name.
func init() {
	Register("raw", func() ConsoleOutput {
		return &RawOutputDriver{
			writer: os.Stdout,
		}
	})
}
