package bytecode

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/crunch/vm"
)

func TestValidateCleanProgram(t *testing.T) {
	if err := Validate(sampleProgram(), 0); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	p := NewProgram(
		[]vm.Instruction{
			vm.Jump(-1),           // before the first instruction
			vm.Func(2),            // undefined
			vm.Illegal(),          // always fails
			vm.Print(9),           // outside an 8-register file
			{Op: vm.Opcode(0x77)}, // unknown
			vm.JumpComp(1),        // to one past the end: fine
		},
		[]vm.Instruction{vm.Jump(5)},
	)
	err := Validate(p, 8)
	if err == nil {
		t.Fatal("expected problems")
	}

	want := []string{
		"main:0000: JUMP -1 lands outside",
		"main:0001: call to function 2",
		"main:0002: illegal instruction",
		"main:0003: PRINT uses r9 outside 8 registers",
		"main:0004: unknown opcode 0x77",
		"fn0:0000: JUMP +5 lands outside",
	}
	msg := err.Error()
	for _, w := range want {
		if !strings.Contains(msg, w) {
			t.Errorf("missing %q in:\n%s", w, msg)
		}
	}
	if strings.Contains(msg, "main:0005") {
		t.Errorf("jump to the end was reported:\n%s", msg)
	}

	var problem Problem
	if !errors.As(err, &problem) {
		t.Error("problems should unwrap to Problem")
	}
}

func TestCheckCompiles(t *testing.T) {
	p := NewProgram(
		[]vm.Instruction{vm.Jump(2), vm.NoOp(), vm.JumpPoint(0)},
		[]vm.Instruction{vm.Jump(2), vm.NoOp(), vm.NoOp()},
	)
	failures := CheckCompiles(p)
	if _, ok := failures[-1]; ok {
		t.Errorf("main should compile: %v", failures[-1])
	}
	if err := failures[0]; vm.KindOf(err) != vm.KindCompileError {
		t.Errorf("fn0 failure = %v, want a compile error", err)
	}
}
