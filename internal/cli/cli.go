// Package cli handles command line interface logic
package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/retroenv/binlift/internal/options"
)

// ParseFlags parses command line flags and returns program and disassembler options
func ParseFlags() (options.Program, options.Disassembler, error) {
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	var opts options.Program
	readOptionFlags(flags, &opts)

	err := flags.Parse(os.Args[1:])
	args := flags.Args()
	if err != nil || (len(args) == 0 && opts.Batch == "") {
		return opts, options.Disassembler{}, &UsageError{flags: flags}
	}

	if err := validateArgs(flags, args); err != nil {
		return opts, options.Disassembler{}, err
	}

	if opts.Batch == "" {
		opts.Input = args[0]
	}

	disasmOptions, err := createDisasmOptions(opts)
	if err != nil {
		return opts, options.Disassembler{}, err
	}

	return opts, disasmOptions, nil
}

// UsageError represents an error that should show usage information
type UsageError struct {
	flags *flag.FlagSet
	msg   string
}

func (e *UsageError) Error() string {
	return e.msg
}

func (e *UsageError) ShowUsage() {
	fmt.Printf("usage: binlift [options] <file to disassemble>\n\n")
	e.flags.PrintDefaults()
	fmt.Println()
}

// validateArgs checks if arguments are in correct order
func validateArgs(flags *flag.FlagSet, args []string) error {
	for i, arg := range args {
		if i > 0 && arg[0] == '-' {
			return &UsageError{
				flags: flags,
				msg:   fmt.Sprintf("Potential argument %s found after file to disassemble, please pass the file to disassemble as last argument", arg),
			}
		}
	}
	return nil
}

// createDisasmOptions creates disassembler options based on program options
func createDisasmOptions(opts options.Program) (options.Disassembler, error) {
	disasmOptions := options.NewDisassembler()

	if opts.NoCache {
		disasmOptions.CacheEnabled = false
	}
	if opts.CacheSize > 0 {
		disasmOptions.CacheCapacity = opts.CacheSize
	}

	if opts.LoadSlide != "" {
		slide, err := strconv.ParseUint(opts.LoadSlide, 0, 64)
		if err != nil {
			return disasmOptions, fmt.Errorf("invalid load slide '%s'", opts.LoadSlide)
		}
		disasmOptions.LoadSlide = slide
	}

	return disasmOptions, nil
}

func readOptionFlags(flags *flag.FlagSet, opts *options.Program) {
	flags.StringVar(&opts.Output, "o", "", "name of the output listing file, printed on console if no name given")
	flags.StringVar(&opts.Batch, "batch", "", "process a batch of given path and file mask and automatically name the output files, for example *.so")
	flags.StringVar(&opts.LoadSlide, "slide", "", "load address slide to apply to the image, prefix hexadecimal values with 0x")
	flags.IntVar(&opts.CacheSize, "cachesize", 0, "maximum number of instruction byte patterns to keep in the decode cache")
	flags.BoolVar(&opts.Flat, "flat", false, "output all sections as flat atoms without recovering the control flow")
	flags.BoolVar(&opts.NoCache, "nocache", false, "disable the instruction decode cache")
	flags.BoolVar(&opts.Debug, "debug", false, "enable debugging options for extended logging")
	flags.BoolVar(&opts.Quiet, "q", false, "perform operations quietly")
}
