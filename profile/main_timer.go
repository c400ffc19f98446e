package profile

import "github.com/Austionian/peach-profiler/metrics"

// MainFrame spans the whole program: created as the first statement of main
// and ended as the last. End derives the effective CPU frequency from the
// two counter spans and writes the report.
//
// MainFrame is compiled under both build modes; without the profile tag its
// End prints the baseline total-time line and nothing else.
type MainFrame struct {
	osStart  uint64
	cpuStart uint64
}

// BeginMain starts the program-lifetime timer:
//
//	func main() {
//		defer profile.BeginMain().End()
//		...
//	}
//
// The deferred End observes every exit path from main, including an error
// return funneled through a helper.
func BeginMain() MainFrame {
	return MainFrame{
		osStart:  metrics.ReadOSTimer(),
		cpuStart: metrics.ReadCPUTimer(),
	}
}

// End stops both counters and writes the report to the configured sink.
func (m MainFrame) End() {
	cpuEnd := metrics.ReadCPUTimer()
	osEnd := metrics.ReadOSTimer()

	report(osEnd-m.osStart, cpuEnd-m.cpuStart)
}
