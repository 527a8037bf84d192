package consoleout

import (
	"io"
	"os"
)

// NullOutputDriver discards everything; it is useful for benchmarking
// a ROM without a terminal attached.
type NullOutputDriver struct {

	// writer is where we would send our output
	writer io.Writer
}

// GetName returns the name of this driver.
func (no *NullOutputDriver) GetName() string {
	return "null"
}

// PutCharacter discards the character.
func (no *NullOutputDriver) PutCharacter(c uint8) {
}

// SetWriter will update the writer.
func (no *NullOutputDriver) SetWriter(w io.Writer) {
	no.writer = w
}

// init registers our driver, by name.
func init() {
	Register("null", func() ConsoleOutput {
		return &NullOutputDriver{
			writer: os.Stdout,
		}
	})
}
