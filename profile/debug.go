//go:build profile && profiledebug

package profile

import (
	"fmt"
	"os"
)

// debugAnchors mirrors the first label written to each slot, packed into the
// same fixed width as Anchor.Label. A later entry carrying a different label
// means two call sites hashed to one slot and their counters would
// commingle.
var debugAnchors [NumAnchors][LabelLength]byte

func checkCollision(index uint32, label string) {
	var packed [LabelLength]byte
	copy(packed[:], label)

	stored := &debugAnchors[index]
	if *stored == ([LabelLength]byte{}) {
		*stored = packed

		return
	}

	if *stored != packed {
		fmt.Fprintf(os.Stderr, "profile: hash collision at anchor %d: %q and %q share a slot\n",
			index, labelString(*stored), labelString(packed))
		os.Exit(1)
	}
}

func resetDebug() {
	debugAnchors = [NumAnchors][LabelLength]byte{}
}
