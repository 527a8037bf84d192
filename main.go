// romulator boots a RomWBW ROM image, with HBIOS services provided by
// the host rather than by the ROM's own drivers.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/skx/romulator/consolein"
	"github.com/skx/romulator/consoleout"
	"github.com/skx/romulator/disk"
	"github.com/skx/romulator/emulator"
	"github.com/skx/romulator/version"
)

// checksum matches the optional suffix of a disk argument.
var checksum = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// config holds our command-line settings.
type config struct {
	rom     string
	disks   [4]string
	slices  int
	boot    string
	input   string
	output  string
	batch   int
	save    bool
	version bool
}

// parseFlags parses the given arguments, which exclude the program name.
func parseFlags(args []string, stderr io.Writer) (*config, error) {
	cfg := &config{}

	fs := flag.NewFlagSet("romulator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.rom, "rom", "", "The RomWBW `image` to boot.")
	for i := range cfg.disks {
		fs.StringVar(&cfg.disks[i], fmt.Sprintf("disk%d", i), "",
			fmt.Sprintf("The hard-disk image for unit %d, as `path[:sha256]`.", i))
	}
	fs.IntVar(&cfg.slices, "slices", 0, "Expose this many slices on each disk, zero for the image's size.")
	fs.StringVar(&cfg.boot, "boot", "", "Text to type at the boot loader, for example \"2\" to boot unit 2.")
	fs.StringVar(&cfg.input, "input", "term", "The console input driver to use.")
	fs.StringVar(&cfg.output, "output", "raw", "The console output driver to use.")
	fs.IntVar(&cfg.batch, "batch", emulator.DefaultBatchSize, "Instructions to run between checks for input.")
	fs.BoolVar(&cfg.save, "save", false, "Write the disk images back to their files on exit.")
	fs.BoolVar(&cfg.version, "version", false, "Report our version, and exit.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.rom == "" && !cfg.version && fs.NArg() > 0 {
		cfg.rom = fs.Arg(0)
	}
	return cfg, nil
}

// parseDisk splits a disk argument into the path and the expected hash,
// which may be empty.
func parseDisk(arg string) (string, string) {
	i := strings.LastIndex(arg, ":")
	if i < 0 || !checksum.MatchString(arg[i+1:]) {
		return arg, ""
	}
	return arg[:i], arg[i+1:]
}

// session is a configured emulator, with its console drivers.
type session struct {
	cfg    *config
	logger *slog.Logger

	emu *emulator.Emulator
	in  *consolein.ConsoleIn
	out *consoleout.ConsoleOut

	// paths holds the file each disk unit was loaded from.
	paths map[int]string
}

// newSession creates the drivers and the emulator, and loads the images.
func newSession(cfg *config, logger *slog.Logger) (*session, error) {
	if cfg.rom == "" {
		return nil, emulator.ErrNoROM
	}

	out, err := consoleout.New(cfg.output)
	if err != nil {
		return nil, err
	}
	in, err := consolein.New(cfg.input)
	if err != nil {
		return nil, err
	}

	emu, err := emulator.New(
		emulator.WithLogger(logger),
		emulator.WithOutputHandler(out.PutCharacter),
		emulator.WithBatchSize(cfg.batch),
	)
	if err != nil {
		return nil, err
	}

	if err = emu.LoadROMFile(cfg.rom); err != nil {
		return nil, err
	}

	s := &session{
		cfg:    cfg,
		logger: logger,
		emu:    emu,
		in:     in,
		out:    out,
		paths:  make(map[int]string),
	}

	for unit, arg := range cfg.disks {
		if arg == "" {
			continue
		}
		if err = s.loadDisk(unit, arg); err != nil {
			return nil, err
		}
	}

	emu.SetBootString(cfg.boot)
	return s, nil
}

// loadDisk loads, and optionally verifies, a single disk image.
func (s *session) loadDisk(unit int, arg string) error {
	path, sum := parseDisk(arg)

	if sum == "" {
		if err := s.emu.LoadDiskFile(unit, path); err != nil {
			return err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load disk %d: %w", unit, err)
		}
		if err = s.emu.LoadDiskVerified(unit, data, sum); err != nil {
			return err
		}
	}

	if s.cfg.slices > 0 {
		if err := s.emu.SetDiskSliceCount(unit, s.cfg.slices); err != nil {
			return err
		}
	}

	s.paths[unit] = path
	s.logger.Debug("loaded disk",
		slog.Int("unit", unit),
		slog.String("path", path),
		slog.Bool("verified", sum != ""))
	return nil
}

// run boots the ROM, and runs until the guest halts, the user quits,
// or the context is cancelled.
func (s *session) run(ctx context.Context) error {
	if err := s.emu.Start(); err != nil {
		return err
	}

	if err := s.in.Setup(); err != nil {
		return err
	}
	defer func() {
		if err := s.in.TearDown(); err != nil {
			s.logger.Error("failed to restore the console",
				slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// Once the guest is done there is nothing to read input for.
	g.Go(func() error {
		defer cancel()

		err := s.emu.Run(gctx)
		switch {
		case errors.Is(err, emulator.ErrHalted):
			s.logger.Info("guest halted",
				slog.Uint64("instructions", s.emu.InstructionCount()))
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		}
		return err
	})

	// Running out of scripted input leaves the guest running.
	g.Go(func() error {
		err := s.in.Pump(gctx, s.emu)
		if err == nil {
			return nil
		}

		s.emu.Stop()
		if errors.Is(err, consolein.ErrQuit) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// saveDisks writes each disk image back to the file it came from.
func (s *session) saveDisks() error {
	var errs []error
	for unit, path := range s.paths {
		if !s.emu.IsDiskLoaded(unit) {
			continue
		}
		if err := s.emu.SaveDisk(unit, path); err != nil {
			errs = append(errs, fmt.Errorf("failed to save disk %d: %w", unit, err))
		}
	}
	return errors.Join(errs...)
}

// close releases the session's resources, saving the disks if requested.
func (s *session) close() error {
	var err error
	if s.cfg.save {
		err = s.saveDisks()
	}
	s.emu.CloseAllDisks()
	return err
}

func main() {

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(1)
	}

	if cfg.version {
		fmt.Print(version.GetVersionBanner())
		return
	}

	// Setup our logging level - default to warnings or higher
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)

	// But show "everything" if $DEBUG is non-empty
	if os.Getenv("DEBUG") != "" {
		lvl.Set(slog.LevelDebug)
	}

	//
	// Create our logging handler, using the level we've just setup
	//
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))

	s, err := newSession(cfg, log)
	if err != nil {
		if errors.Is(err, disk.ErrChecksum) {
			fmt.Fprintf(os.Stderr, "Disk image does not match its checksum: %s\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error starting: %s\n", err)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// Run the ROM until it halts, or we're told to stop.
	//
	err = s.run(ctx)

	if cerr := s.close(); cerr != nil {
		log.Error("failed to close session", slog.String("error", cerr.Error()))
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "\r\nError running %s: %s\r\n", cfg.rom, err)
		os.Exit(1)
	}
}
