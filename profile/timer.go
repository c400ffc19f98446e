//go:build profile

package profile

import "github.com/Austionian/peach-profiler/metrics"

// Frame is the stack-resident record of one live scope entry. End commits
// the measurement, so every Begin must be paired with exactly one End on
// every exit path; deferring it from the top of a function covers normal
// returns, early returns and panics:
//
//	defer profile.Begin("decompress", decompressSite).End()
type Frame struct {
	start          uint64
	index          uint32
	parentIndex    uint32
	savedInclusive uint64
	bytes          uint64
}

// Begin enters the scope at index: it records the current parent, snapshots
// the anchor's inclusive count, writes the label and makes index the parent
// of any scope entered before End.
func Begin(label string, index uint32) Frame {
	return BeginBytes(label, index, 0)
}

// BeginBytes is Begin with a byte count credited to the anchor's throughput
// counter when the frame ends.
func BeginBytes(label string, index uint32, bytes uint64) Frame {
	a := &anchors[index]

	f := Frame{
		start:          metrics.ReadCPUTimer(),
		index:          index,
		parentIndex:    globalParent,
		savedInclusive: a.ElapsedInclusive,
		bytes:          bytes,
	}

	writeLabel(&a.Label, label)
	checkCollision(index, label)
	globalParent = index

	return f
}

// End exits the scope: it restores the parent index, credits the elapsed
// cycles to this anchor's exclusive count, debits them from the parent's,
// and folds the inclusive span over the value saved at entry. The debit can
// transiently underflow the parent's counter while that parent is still
// live; exclusive counters are wrapping quantities until the outermost scope
// closes. The saved-inclusive overwrite is what keeps recursion from double
// counting: only the outermost exit of a recursive scope commits the full
// span.
func (f Frame) End() {
	elapsed := metrics.ReadCPUTimer() - f.start

	globalParent = f.parentIndex

	anchors[f.parentIndex].ElapsedExclusive -= elapsed

	a := &anchors[f.index]
	a.ElapsedExclusive += elapsed
	a.ElapsedInclusive = f.savedInclusive + elapsed
	a.HitCount++
	a.ProcessedByteCount += f.bytes
}

func writeLabel(dst *[LabelLength]byte, label string) {
	copy(dst[:], label)
}
