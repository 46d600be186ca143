package vm

import (
	"testing"
)

func TestProfilerInvocation(t *testing.T) {
	p := NewProfiler(5)

	// First invocation
	if p.RecordInvocation(2) {
		t.Error("function should not be hot after 1 invocation")
	}
	profile := p.Profile(2)
	if profile == nil {
		t.Fatal("profile should exist after invocation")
	}
	if profile.Invocations != 1 {
		t.Errorf("expected 1 invocation, got %d", profile.Invocations)
	}

	// Invoke 4 more times (total 5)
	var becameHot bool
	for i := 0; i < 4; i++ {
		becameHot = p.RecordInvocation(2)
	}

	// Should become hot at exactly threshold
	if !becameHot {
		t.Error("function should become hot at threshold")
	}
	if !p.IsHot(2) {
		t.Error("IsHot should return true")
	}

	// Additional invocations should not re-trigger hot
	if p.RecordInvocation(2) {
		t.Error("function should not re-trigger hot")
	}
}

func TestProfilerDefaults(t *testing.T) {
	p := NewProfiler(0)
	if p.HotThreshold != DefaultHotThreshold {
		t.Errorf("threshold = %d, want %d", p.HotThreshold, DefaultHotThreshold)
	}
	if p.Profile(0) != nil || p.IsHot(0) {
		t.Error("unseen function should have no profile")
	}
	if !p.RecordInvocation(0) {
		t.Error("default threshold should make the first call hot")
	}
}

func TestProfilerOnHot(t *testing.T) {
	p := NewProfiler(2)
	var fired []int
	p.OnHot = func(fp *FunctionProfile) { fired = append(fired, fp.Index) }

	for _, index := range []int{1, 3, 1, 1, 3} {
		p.RecordInvocation(index)
	}
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 3 {
		t.Errorf("OnHot fired for %v, want [1 3]", fired)
	}
}

func TestProfilerStatsAndTop(t *testing.T) {
	p := NewProfiler(3)
	calls := map[int]int{0: 1, 1: 4, 2: 3, 5: 4}
	for index, n := range calls {
		for i := 0; i < n; i++ {
			p.RecordInvocation(index)
		}
	}

	stats := p.Stats()
	if stats.Functions != 4 || stats.Hot != 3 || stats.Invocations != 12 {
		t.Errorf("stats = %+v", stats)
	}

	hot := p.HotFunctions()
	if len(hot) != 3 || hot[0] != 1 || hot[1] != 2 || hot[2] != 5 {
		t.Errorf("HotFunctions = %v, want [1 2 5]", hot)
	}

	top := p.TopFunctions(3)
	if len(top) != 3 {
		t.Fatalf("TopFunctions(3) returned %d", len(top))
	}
	// 1 and 5 tie at 4 calls; lower index first
	if top[0].Index != 1 || top[1].Index != 5 || top[2].Index != 2 {
		t.Errorf("TopFunctions = %+v", top)
	}
	if all := p.TopFunctions(10); len(all) != 4 {
		t.Errorf("TopFunctions(10) returned %d", len(all))
	}

	p.Reset()
	if stats := p.Stats(); stats.Functions != 0 || stats.Hot != 0 {
		t.Errorf("stats after Reset = %+v", stats)
	}
}

// A callee below the threshold runs interpreted; once hot it is compiled
// and cached.
func TestHotThresholdGatesCompilation(t *testing.T) {
	opts := NewOptionBuilder("").JIT(true).HotThreshold(3).Build()
	m, out := newTestVM(t, opts)
	m.SetFunctions([][]Instruction{
		{Print(0), Return()},
	})

	main := []Instruction{Load(I32(7), 0)}
	for i := 0; i < 4; i++ {
		main = append(main, Func(0))
	}
	f, err := Compile(main)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if err := m.RunCompiled(f); err != nil {
		t.Fatalf("RunCompiled: %v", err)
	}
	if out.String() != "7777" {
		t.Errorf("output = %q", out.String())
	}
	if profile := m.Profiler().Profile(0); profile == nil || profile.Invocations != 4 || !profile.IsHot {
		t.Errorf("profile = %+v", profile)
	}
	if m.compiled[0] == nil {
		t.Error("hot function was not compiled")
	}
}

func TestInterpretedCallsAreProfiled(t *testing.T) {
	m, _ := newTestVM(t, DefaultOptions())
	m.SetFunctions([][]Instruction{{Return()}, {Func(0), Return()}})

	if err := Interpret([]Instruction{Func(1), Func(0)}, m); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if got := m.Profiler().Profile(0).Invocations; got != 2 {
		t.Errorf("fn0 invocations = %d, want 2", got)
	}
	if got := m.Profiler().Profile(1).Invocations; got != 1 {
		t.Errorf("fn1 invocations = %d, want 1", got)
	}
	if len(m.compiled) != 0 {
		t.Error("the interpreter should not compile callees")
	}

	m.SetFunctions(nil)
	if m.Profiler().Stats().Functions != 0 {
		t.Error("SetFunctions should reset the profile")
	}
}
