package vm

import "sort"

// Profiler counts function invocations so that compiled code only pays
// for compiling callees that are actually called often. A function is hot
// once it has been entered HotThreshold times; compiledCallee compiles
// hot functions and interprets the rest.

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	Index       int
	Invocations uint64
	IsHot       bool // true once Invocations reached the threshold
}

// Profiler manages profiles for every function of a program.
type Profiler struct {
	profiles map[int]*FunctionProfile

	// HotThreshold is the invocation count at which a function becomes
	// hot. 1 compiles on first call.
	HotThreshold uint64

	// OnHot is called once per function, on the invocation that made it
	// hot.
	OnHot func(p *FunctionProfile)

	hotCount int
}

// DefaultHotThreshold compiles a callee on its first call.
const DefaultHotThreshold = 1

// NewProfiler creates a profiler with the given threshold. Zero means
// DefaultHotThreshold.
func NewProfiler(threshold uint64) *Profiler {
	if threshold == 0 {
		threshold = DefaultHotThreshold
	}
	return &Profiler{
		profiles:     make(map[int]*FunctionProfile),
		HotThreshold: threshold,
	}
}

// RecordInvocation increments the invocation count for function index.
// Returns true if this invocation made the function hot.
func (p *Profiler) RecordInvocation(index int) bool {
	profile, ok := p.profiles[index]
	if !ok {
		profile = &FunctionProfile{Index: index}
		p.profiles[index] = profile
	}
	profile.Invocations++

	if !profile.IsHot && profile.Invocations >= p.HotThreshold {
		profile.IsHot = true
		p.hotCount++
		if p.OnHot != nil {
			p.OnHot(profile)
		}
		return true
	}
	return false
}

// Profile returns the profile for function index, or nil if it was never
// entered.
func (p *Profiler) Profile(index int) *FunctionProfile {
	return p.profiles[index]
}

// IsHot returns true if the function has reached the hot threshold.
func (p *Profiler) IsHot(index int) bool {
	profile := p.profiles[index]
	return profile != nil && profile.IsHot
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Functions   int    // functions entered at least once
	Hot         int    // functions past the threshold
	Invocations uint64 // total Func calls
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	stats := ProfilerStats{Functions: len(p.profiles), Hot: p.hotCount}
	for _, profile := range p.profiles {
		stats.Invocations += profile.Invocations
	}
	return stats
}

// HotFunctions returns the indices of all hot functions in ascending order.
func (p *Profiler) HotFunctions() []int {
	var hot []int
	for index, profile := range p.profiles {
		if profile.IsHot {
			hot = append(hot, index)
		}
	}
	sort.Ints(hot)
	return hot
}

// TopFunctions returns the n most frequently invoked functions, most
// invoked first. Ties are broken by index.
func (p *Profiler) TopFunctions(n int) []FunctionProfile {
	all := make([]FunctionProfile, 0, len(p.profiles))
	for _, profile := range p.profiles {
		all = append(all, *profile)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Invocations != all[j].Invocations {
			return all[i].Invocations > all[j].Invocations
		}
		return all[i].Index < all[j].Index
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles = make(map[int]*FunctionProfile)
	p.hotCount = 0
}
