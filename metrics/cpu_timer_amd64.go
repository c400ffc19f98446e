package metrics

// ReadCPUTimer returns the processor's time-stamp counter (RDTSC), a
// monotonically non-decreasing tick count at roughly the core clock rate.
// Implemented in cpu_timer_amd64.s.
func ReadCPUTimer() uint64
