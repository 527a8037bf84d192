//go:build unix

package consolein

import (
	"os"
	"testing"
	"time"
)

func TestSTTYStuffed(t *testing.T) {
	x := &STTYInput{}
	ch := ConsoleIn{driver: x}

	if ch.GetName() != "stty" {
		t.Fatalf("wrong name %s", ch.GetName())
	}

	x.StuffInput("hi")
	if !ch.PendingInput() {
		t.Fatalf("expected pending input")
	}

	str := ""
	for i := 0; i < 2; i++ {
		c, err := ch.BlockForCharacterNoEcho()
		if err != nil {
			t.Fatalf("failed to read: %s", err)
		}
		str += string(c)
	}
	if str != "hi" {
		t.Fatalf("unexpected input %q", str)
	}
}

func TestReady(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %s", err)
	}
	defer r.Close()
	defer w.Close()

	fd := int(r.Fd())
	if ready(fd, time.Millisecond) {
		t.Fatalf("empty pipe reported ready")
	}

	if _, err = w.Write([]byte("x")); err != nil {
		t.Fatalf("failed to write: %s", err)
	}
	if !ready(fd, time.Millisecond) {
		t.Fatalf("pipe with data reported not ready")
	}
}

func TestSTTYNotTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %s", err)
	}
	defer r.Close()
	defer w.Close()

	x := &STTYInput{in: r, wait: time.Millisecond}

	// A pipe can't be put into raw mode.
	if x.PendingInput() {
		t.Fatalf("expected no pending input")
	}
	if _, err = x.BlockForCharacterNoEcho(); err == nil {
		t.Fatalf("expected an error reading a pipe")
	}

	// Echo was never disabled, so there is nothing to restore.
	if err = x.TearDown(); err != nil {
		t.Fatalf("teardown failed: %s", err)
	}
}
