// Package fileprocessor handles file loading and processing operations
package fileprocessor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/retroenv/retrogolib/log"

	"github.com/retroenv/binlift/internal/arch"
	"github.com/retroenv/binlift/internal/arch/arm64"
	"github.com/retroenv/binlift/internal/arch/x86"
	"github.com/retroenv/binlift/internal/disasm"
	"github.com/retroenv/binlift/internal/objfile"
	"github.com/retroenv/binlift/internal/options"
	"github.com/retroenv/binlift/internal/symbols"
	"github.com/retroenv/binlift/internal/writer"
)

// ProcessFile handles the complete file processing workflow
func ProcessFile(ctx context.Context, logger *log.Logger, opts options.Program,
	disasmOptions options.Disassembler) error {

	file, err := objfile.Open(opts.Input, disasmOptions.LoadSlide)
	if err != nil {
		return fmt.Errorf("opening binary: %w", err)
	}
	defer func() { _ = file.Close() }()

	logger.Info("Processing binary",
		log.String("file", opts.Input),
		log.String("format", file.Format()),
		log.String("machine", file.Machine()))

	architecture, err := createArchitecture(file.Machine())
	if err != nil {
		return err
	}

	manager := symbols.New(file.Symbols(), file.ImportStubs())

	dis := disasm.New(logger, architecture, file, manager, disasmOptions)
	mod, err := dis.BuildModule(ctx, !opts.Flat)
	if err != nil {
		return fmt.Errorf("disassembling: %w", err)
	}

	out, err := createWriter(opts)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if closer, ok := out.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	if err := writer.New(mod, manager, out).Write(); err != nil {
		return fmt.Errorf("writing listing: %w", err)
	}

	logStatistics(logger, dis.Stats())
	logInitializers(logger, file)
	return nil
}

// GetFilesToProcess returns list of files to process based on options
func GetFilesToProcess(opts *options.Program) ([]string, error) {
	if opts.Batch != "" {
		matches, err := filepath.Glob(opts.Batch)
		if err != nil {
			return nil, fmt.Errorf("globbing batch pattern: %w", err)
		}
		return matches, nil
	}
	return []string{opts.Input}, nil
}

// GenerateOutputFilename generates output filename for a given input file
func GenerateOutputFilename(inputFile string) string {
	ext := filepath.Ext(inputFile)
	return inputFile[:len(inputFile)-len(ext)] + ".lst"
}

// createArchitecture returns the architecture support matching the machine
// of the binary.
func createArchitecture(machine string) (arch.Architecture, error) {
	switch machine {
	case "x86_64":
		return x86.New(64), nil
	case "x86":
		return x86.New(32), nil
	case "arm64":
		return arm64.New(), nil
	default:
		return nil, fmt.Errorf("unsupported machine type '%s'", machine)
	}
}

func createWriter(opts options.Program) (io.Writer, error) {
	if opts.Output == "" {
		return os.Stdout, nil
	}

	file, err := os.Create(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("creating output file %s: %w", opts.Output, err)
	}
	return file, nil
}

func logStatistics(logger *log.Logger, stats disasm.Stats) {
	logger.Info("Disassembly finished",
		log.Int("functions", stats.Functions),
		log.Int("blocks", stats.Blocks),
		log.Int("instructions", stats.Decoded),
		log.Int("cache_hits", stats.CacheHits),
		log.Int("atoms_created", stats.AtomsCreated),
		log.Int("atoms_split", stats.AtomsSplit),
		log.Int("tail_calls", stats.TailCalls))
}

// logInitializers reports the static initializer and finalizer tables of
// the binary. Formats without such tables are silently skipped.
func logInitializers(logger *log.Logger, file objfile.File) {
	inits, err := file.StaticInitializers()
	if err != nil {
		logger.Debug("Reading static initializers", log.Err(err))
	}
	for _, addr := range inits {
		logger.Info("Static initializer", log.Hex("address", addr))
	}

	finis, err := file.StaticFinalizers()
	if err != nil {
		logger.Debug("Reading static finalizers", log.Err(err))
	}
	for _, addr := range finis {
		logger.Info("Static finalizer", log.Hex("address", addr))
	}
}

// PrintBanner prints application version information
func PrintBanner(logger *log.Logger, opts options.Program, version, commit, date string) {
	if opts.Quiet {
		return
	}

	versionString := version
	if commit != "" {
		if len(commit) > 7 {
			commit = commit[:7]
		}
		versionString += fmt.Sprintf(" (%s)", commit)
	}

	logger.Info("binlift", log.String("version", versionString))

	if date != "" && !strings.Contains(date, "unknown") {
		logger.Info("Build", log.String("date", date))
	}
}
