// Crunch CLI - runs, verifies and disassembles .crunched programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/crunch/manifest"
	"github.com/chazu/crunch/pkg/bytecode"
	"github.com/chazu/crunch/vm"
)

var log = commonlog.GetLogger("crunch.cli")

// errUsage marks errors already explained by a usage message.
var errUsage = errors.New("usage")

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: crunch <command> [options] [program%s]\n\n", bytecode.Extension)
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  run      Execute a program\n")
	fmt.Fprintf(w, "  verify   Check a program for structural defects\n")
	fmt.Fprintf(w, "  dis      Print a disassembly listing\n")
	fmt.Fprintf(w, "  init     Write a crunch.toml and a sample program\n")
	fmt.Fprintf(w, "\nWithout a program argument, the entry named in the nearest crunch.toml is used.\n")
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  crunch init countdown          # crunch.toml + countdown%s\n", bytecode.Extension)
	fmt.Fprintf(w, "  crunch run                     # run the manifest entry\n")
	fmt.Fprintf(w, "  crunch run -jit -v 2 prog%s  # compile first, debug logging\n", bytecode.Extension)
	fmt.Fprintf(w, "  crunch dis prog%s\n", bytecode.Extension)
}

func main() {
	if err := dispatch(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			reportError(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func dispatch(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "run":
		return runCommand(rest, stdout, stderr)
	case "verify":
		return verifyCommand(rest, stdout, stderr)
	case "dis":
		return disCommand(rest, stdout, stderr)
	case "init":
		return initCommand(rest, stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n", cmd)
		usage(stderr)
		return errUsage
	}
}

// exitCode maps VM error kinds to distinct process exit statuses so that
// scripts can tell a stack overflow from a bad file.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	case vm.KindOf(err) != 0:
		return 10 + int(vm.KindOf(err))
	default:
		return 1
	}
}

func reportError(w *os.File, err error) {
	prefix := "error:"
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		prefix = "\x1b[1;31merror:\x1b[0m"
	}
	fmt.Fprintf(w, "%s %v\n", prefix, err)
}

// ---------------------------------------------------------------------------
// Shared flags
// ---------------------------------------------------------------------------

type commonFlags struct {
	verbosity int
	logFile   string
	registers int
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&c.verbosity, "v", -1, "log verbosity (0 notices, 1 info, 2 debug); overrides crunch.toml")
	fs.StringVar(&c.logFile, "log", "", "write logs to this file instead of stderr")
	fs.IntVar(&c.registers, "registers", 0, "register file size (1-256); overrides crunch.toml")
}

// target resolves the program path and the project manifest. An explicit
// path wins over the manifest entry; the manifest still supplies VM and
// log settings when one is found.
func (c *commonFlags) target(fs *flag.FlagSet) (string, *manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return "", nil, err
	}

	c.configureLogging(m)

	switch fs.NArg() {
	case 0:
		if m == nil {
			fmt.Fprintf(fs.Output(), "No program given and no %s found\n", manifest.FileName)
			return "", nil, errUsage
		}
		return m.EntryPath(), m, nil
	case 1:
		return fs.Arg(0), m, nil
	default:
		fmt.Fprintf(fs.Output(), "Expected one program, got %d\n", fs.NArg())
		return "", nil, errUsage
	}
}

func (c *commonFlags) configureLogging(m *manifest.Manifest) {
	verbosity := 0
	var path *string
	if m != nil {
		verbosity = m.Log.Verbosity
		if m.Log.File != "" {
			path = &m.Log.File
		}
	}
	if c.verbosity >= 0 {
		verbosity = c.verbosity
	}
	if c.logFile != "" {
		path = &c.logFile
	}
	commonlog.Configure(verbosity, path)
}

func (c *commonFlags) options(path string, m *manifest.Manifest) vm.Options {
	opts := vm.NewOptionBuilder(path).Build()
	if m != nil {
		opts = m.Options()
		opts.File = path
	}
	if c.registers > 0 {
		opts.Registers = c.registers
	}
	return opts
}
