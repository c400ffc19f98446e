package profile

import (
	"fmt"
	"io"

	"github.com/Austionian/peach-profiler/metrics"
)

// effectiveCPUFreq derives cycles per second from the two measured spans.
// Returns 0 if the wall clock failed to advance, in which case throughput
// figures are suppressed.
func effectiveCPUFreq(totalOS, totalCPU uint64) float64 {
	if totalOS == 0 {
		return 0
	}

	return float64(metrics.OSTimeFreq()) * float64(totalCPU) / float64(totalOS)
}

func printBaseline(w io.Writer, totalOS uint64, cpuFreq float64) {
	fmt.Fprintf(w, "\n______________________________________________________\n")
	fmt.Fprintf(w, "Total time: %.4fms (CPU freq %.0f)\n", float64(totalOS)/1_000.0, cpuFreq)
}

func percent(part uint64, total uint64) float64 {
	if total == 0 {
		return 0
	}

	return float64(part) / float64(total) * 100.0
}
