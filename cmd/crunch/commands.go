package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/chazu/crunch/manifest"
	"github.com/chazu/crunch/pkg/bytecode"
	"github.com/chazu/crunch/vm"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("run", stderr)
	var common commonFlags
	common.register(fs)
	jit := fs.Bool("jit", false, "compile main before running; functions are compiled on first call")
	trace := fs.Bool("trace", false, "log every executed instruction at debug level")
	noVerify := fs.Bool("no-verify", false, "skip structural validation before running")
	profile := fs.Bool("profile", false, "print function call counts to stderr after the run")
	hot := fs.Uint64("hot", 0, "calls before a function is compiled under -jit (default 1)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, m, err := common.target(fs)
	if err != nil {
		return err
	}
	opts := common.options(path, m)
	if *jit {
		opts.JIT = true
	}
	if *trace {
		opts.Trace = true
	}
	if *hot > 0 {
		opts.HotThreshold = *hot
	}
	var report io.Writer
	if *profile {
		report = stderr
	}
	return runProgram(path, opts, !*noVerify, stdout, report)
}

// runProgram loads and executes one program. A Yield at any call depth
// hands control back here; the program is resumed until it finishes. A non-nil
// report receives the call profile once the program ends.
func runProgram(path string, opts vm.Options, verify bool, stdout, report io.Writer) (err error) {
	machine := vm.New(opts, stdout)
	defer func() {
		if cerr := machine.Close(); err == nil {
			err = cerr
		}
	}()

	p, err := bytecode.ReadFile(path, machine.Collector())
	if err != nil {
		return err
	}
	if verify {
		if err := bytecode.Validate(p, opts.Registers); err != nil {
			return fmt.Errorf("%s failed verification:\n%w", path, err)
		}
	}
	p.Install(machine)

	log.Infof("running %s (%s) jit=%t", path, p.ID, opts.JIT)
	err = start(machine, p, opts.JIT)
	for err == nil && machine.Yielded() {
		log.Debugf("resuming after yield at %d", machine.IP())
		err = machine.Resume()
	}
	if report != nil {
		writeProfile(report, machine.Profiler())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("finished %s in %s", path, machine.Elapsed())
	return nil
}

func writeProfile(w io.Writer, p *vm.Profiler) {
	stats := p.Stats()
	fmt.Fprintf(w, "; %d calls into %d functions, %d hot (threshold %d)\n",
		stats.Invocations, stats.Functions, stats.Hot, p.HotThreshold)
	for _, fn := range p.TopFunctions(10) {
		mark := ""
		if fn.IsHot {
			mark = " hot"
		}
		fmt.Fprintf(w, ";   fn%-4d %8d%s\n", fn.Index, fn.Invocations, mark)
	}
}

func start(machine *vm.VM, p *bytecode.Program, jit bool) error {
	if jit {
		f, err := vm.Compile(p.Main)
		if err == nil {
			return machine.RunCompiled(f)
		}
		log.Warningf("main does not compile, interpreting instead: %s", err)
	}
	return vm.Interpret(p.Main, machine)
}

// ---------------------------------------------------------------------------
// verify
// ---------------------------------------------------------------------------

func verifyCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("verify", stderr)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, m, err := common.target(fs)
	if err != nil {
		return err
	}
	opts := common.options(path, m)

	p, err := bytecode.ReadFile(path, nil)
	if err != nil {
		return err
	}
	if err := bytecode.Validate(p, opts.Registers); err != nil {
		return fmt.Errorf("%s failed verification:\n%w", path, err)
	}

	fmt.Fprintf(stdout, "%s: ok (%d instructions in main, %d functions)\n", path, len(p.Main), len(p.Functions))

	failures := bytecode.CheckCompiles(p)
	keys := make([]int, 0, len(failures))
	for k := range failures {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		name := "main"
		if k >= 0 {
			name = fmt.Sprintf("fn%d", k)
		}
		fmt.Fprintf(stdout, "  %s will be interpreted: %v\n", name, failures[k])
	}
	return nil
}

// ---------------------------------------------------------------------------
// dis
// ---------------------------------------------------------------------------

func disCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("dis", stderr)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, _, err := common.target(fs)
	if err != nil {
		return err
	}
	p, err := bytecode.ReadFile(path, nil)
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, p.Disassemble())
	return err
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func initCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("init", stderr)
	dir := fs.String("dir", ".", "project directory")
	force := fs.Bool("force", false, "overwrite an existing crunch.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := "main"
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}

	if _, err := os.Stat(filepath.Join(*dir, manifest.FileName)); err == nil && !*force {
		return fmt.Errorf("%s already exists in %s (use -force to overwrite)", manifest.FileName, *dir)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(*dir, 0755); err != nil {
		return err
	}

	m := &manifest.Manifest{
		Project: manifest.Project{Name: name, Version: "0.1.0", Entry: name + bytecode.Extension},
		Log:     manifest.LogConfig{Verbosity: 0},
	}
	if err := m.Write(*dir); err != nil {
		return err
	}
	program := filepath.Join(*dir, m.Project.Entry)
	if err := bytecode.WriteFile(program, sampleProgram(), nil); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Wrote %s and %s\n", filepath.Join(*dir, manifest.FileName), program)
	return nil
}

// sampleProgram counts down from 3 and then calls fn0, which prints a
// message and returns.
func sampleProgram() *bytecode.Program {
	return bytecode.NewProgram(
		[]vm.Instruction{
			vm.Load(vm.I32(3), 0), vm.Load(vm.I32(1), 1), vm.Load(vm.I32(0), 2),
			vm.JumpPoint(0),
			vm.Print(0), vm.Sub(0, 1), vm.OpToReg(0),
			vm.GreaterThan(0, 2), vm.JumpComp(-5),
			vm.Func(0),
		},
		[]vm.Instruction{vm.Load(vm.Str(" liftoff\n"), 3), vm.Print(3), vm.Return()},
	)
}
