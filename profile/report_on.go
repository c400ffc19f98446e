//go:build profile

package profile

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

// report walks the anchor table in index order and prints every slot that
// saw at least one completed scope. Slot ordering is the anchor index, so
// the report is deterministic for identical counter reads.
func report(totalOS, totalCPU uint64) {
	w := output
	cpuFreq := effectiveCPUFreq(totalOS, totalCPU)

	printBaseline(w, totalOS, cpuFreq)

	for i := range anchors {
		a := &anchors[i]
		if a.ElapsedInclusive == 0 {
			continue
		}

		printAnchor(w, a, totalCPU, cpuFreq)
	}
}

func printAnchor(w io.Writer, a *Anchor, totalCPU uint64, cpuFreq float64) {
	fmt.Fprintf(w, "\t%s[%d]: %d, (%.2f%%",
		labelString(a.Label), a.HitCount, a.ElapsedExclusive,
		percent(a.ElapsedExclusive, totalCPU))

	if a.ElapsedExclusive != a.ElapsedInclusive {
		fmt.Fprintf(w, ", %.2f%% w/children", percent(a.ElapsedInclusive, totalCPU))
	}

	fmt.Fprintf(w, ")")

	if a.ProcessedByteCount > 0 && cpuFreq > 0 {
		seconds := float64(a.ElapsedInclusive) / cpuFreq
		megabytes := float64(a.ProcessedByteCount) / (1 << 20)
		gigabytesPerSecond := float64(a.ProcessedByteCount) / seconds / (1 << 30)

		fmt.Fprintf(w, " %.3fmb at %.2fgb/s", megabytes, gigabytesPerSecond)
	}

	fmt.Fprintf(w, "\n")
}

// labelString renders an anchor label: trailing zero padding is stripped and
// a label clipped mid-rune falls back to a placeholder.
func labelString(label [LabelLength]byte) string {
	b := bytes.TrimRight(label[:], "\x00")
	if !utf8.Valid(b) {
		return "invalid name"
	}

	return string(b)
}
