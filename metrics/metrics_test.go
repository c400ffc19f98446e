package metrics

import (
	"testing"
	"time"
)

func TestReadCPUTimerMonotonic(t *testing.T) {
	prev := ReadCPUTimer()
	for i := 0; i < 1000; i++ {
		cur := ReadCPUTimer()
		if cur < prev {
			t.Fatalf("cycle counter went backwards. prev=%d, cur=%d", prev, cur)
		}
		prev = cur
	}
}

func TestReadOSTimerAdvances(t *testing.T) {
	start := ReadOSTimer()
	time.Sleep(10 * time.Millisecond)
	end := ReadOSTimer()

	if end <= start {
		t.Fatalf("wall clock did not advance. start=%d, end=%d", start, end)
	}

	// 10ms of sleep must register as at least 1ms of wall-clock ticks.
	elapsed := end - start
	min := OSTimeFreq() / 1000
	if elapsed < min {
		t.Fatalf("wall clock advanced too little. expected>=%d ticks, got=%d", min, elapsed)
	}
}

func TestOSTimeFreq(t *testing.T) {
	if freq := OSTimeFreq(); freq == 0 {
		t.Fatal("wall-clock frequency is zero")
	}
}

func TestEstimateCPUFreq(t *testing.T) {
	freq := EstimateCPUFreq(20)
	if freq == 0 {
		t.Fatal("estimated CPU frequency is zero")
	}

	// Anything below 1MHz or above 10GHz is not a plausible clock or
	// system counter rate on supported hardware.
	if freq < 1_000_000 || freq > 10_000_000_000 {
		t.Fatalf("estimated CPU frequency implausible. got=%d", freq)
	}
}
