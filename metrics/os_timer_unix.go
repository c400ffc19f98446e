//go:build unix

package metrics

import "golang.org/x/sys/unix"

// OSTimeFreq returns the wall-clock counter's tick rate in Hertz. The
// gettimeofday clock has microsecond resolution on every unix target.
func OSTimeFreq() uint64 {
	return 1_000_000
}

// ReadOSTimer returns elapsed microseconds since the epoch.
func ReadOSTimer() uint64 {
	var tv unix.Timeval
	if err := unix.Gettimeofday(&tv); err != nil {
		return 0
	}

	return OSTimeFreq()*uint64(tv.Sec) + uint64(tv.Usec)
}
