// Integration tests :)

package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skx/romulator/consoleout"
	"github.com/skx/romulator/disk"
	"github.com/skx/romulator/emulator"
)

// doubler reads a character via CIOIN, writes it twice via CIOOUT,
// then halts.
var doubler = []byte{
	0x06, 0x00, // LD B,CIOIN
	0x0E, 0x80, // LD C,0x80
	0xD3, 0xEF, // OUT (0xEF),A
	0x06, 0x01, // LD B,CIOOUT
	0xD3, 0xEF, // OUT (0xEF),A
	0xD3, 0xEF, // OUT (0xEF),A
	0x76, // HALT
}

// write creates a file in a temporary directory, returning its path.
func write(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %s", name, err)
	}
	return path
}

// quiet is a logger which discards everything.
func quiet() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-disk1", "hd.img", "-slices", "2", "-input", "file", "rom.bin"}, io.Discard)
	if err != nil {
		t.Fatalf("failed to parse: %s", err)
	}
	if cfg.rom != "rom.bin" {
		t.Fatalf("wrong rom %q", cfg.rom)
	}
	if cfg.disks[1] != "hd.img" || cfg.disks[0] != "" {
		t.Fatalf("wrong disks %v", cfg.disks)
	}
	if cfg.slices != 2 || cfg.input != "file" || cfg.output != "raw" {
		t.Fatalf("wrong settings %+v", cfg)
	}
	if cfg.batch != emulator.DefaultBatchSize {
		t.Fatalf("wrong batch size %d", cfg.batch)
	}

	if _, err = parseFlags([]string{"-bogus"}, io.Discard); err == nil {
		t.Fatalf("expected an error with an unknown flag")
	}
}

func TestParseDisk(t *testing.T) {
	sum := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	type TestCase struct {
		arg  string
		path string
		sum  string
	}

	tests := []TestCase{
		{"hd.img", "hd.img", ""},
		{"hd.img:" + sum, "hd.img", sum},
		{"c:/images/hd.img", "c:/images/hd.img", ""},
		{"hd.img:abc", "hd.img:abc", ""},
	}

	for _, tc := range tests {
		path, got := parseDisk(tc.arg)
		if path != tc.path || got != tc.sum {
			t.Fatalf("%s: got %s %s", tc.arg, path, got)
		}
	}
}

func TestSessionErrors(t *testing.T) {
	if _, err := newSession(&config{input: "file", output: "null"}, quiet()); !errors.Is(err, emulator.ErrNoROM) {
		t.Fatalf("expected no ROM, got %v", err)
	}

	rom := write(t, "rom.bin", doubler)
	if _, err := newSession(&config{rom: rom, input: "file", output: "steve"}, quiet()); !errors.Is(err, consoleout.ErrUnknownDriver) {
		t.Fatalf("expected an unknown driver, got %v", err)
	}

	// A checksum which doesn't match is fatal.
	img := write(t, "hd.img", make([]byte, disk.SectorSize))
	cfg := &config{rom: rom, input: "file", output: "null"}
	cfg.disks[0] = img + ":" + hex.EncodeToString(make([]byte, sha256.Size))
	if _, err := newSession(cfg, quiet()); !errors.Is(err, disk.ErrChecksum) {
		t.Fatalf("expected a checksum failure, got %v", err)
	}
}

func TestSession(t *testing.T) {
	t.Setenv("INPUT_FILE", write(t, "input.txt", []byte("x")))

	data := bytes.Repeat([]byte{0xE5}, disk.SectorSize)
	sum := sha256.Sum256(data)
	img := write(t, "hd.img", data)

	cfg := &config{
		rom:    write(t, "rom.bin", doubler),
		input:  "file",
		output: "logger",
		batch:  100,
		save:   true,
	}
	cfg.disks[2] = img + ":" + hex.EncodeToString(sum[:])

	s, err := newSession(cfg, quiet())
	if err != nil {
		t.Fatalf("failed to create session: %s", err)
	}
	if !s.emu.IsDiskLoaded(2) {
		t.Fatalf("disk wasn't loaded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = s.run(ctx); err != nil {
		t.Fatalf("failed to run: %s", err)
	}

	rec, ok := s.out.GetDriver().(consoleout.ConsoleRecorder)
	if !ok {
		t.Fatalf("failed to cast output driver")
	}
	if rec.GetOutput() != "xx" {
		t.Fatalf("unexpected output %q", rec.GetOutput())
	}

	if err = s.close(); err != nil {
		t.Fatalf("failed to close: %s", err)
	}

	saved, err := os.ReadFile(img)
	if err != nil {
		t.Fatalf("failed to read saved image: %s", err)
	}
	if !bytes.Equal(saved[:disk.SectorSize], data) {
		t.Fatalf("saved image differs")
	}
}
