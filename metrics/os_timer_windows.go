//go:build windows

package metrics

import "golang.org/x/sys/windows"

// OSTimeFreq returns the frequency of the high-resolution performance
// counter in Hertz.
func OSTimeFreq() uint64 {
	var freq int64
	if err := windows.QueryPerformanceFrequency(&freq); err != nil {
		return 0
	}

	return uint64(freq)
}

// ReadOSTimer returns the current value of the high-resolution performance
// counter.
func ReadOSTimer() uint64 {
	var counter int64
	if err := windows.QueryPerformanceCounter(&counter); err != nil {
		return 0
	}

	return uint64(counter)
}
