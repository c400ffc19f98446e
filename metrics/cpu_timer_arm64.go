package metrics

// ReadCPUTimer returns the virtual counter-timer (CNTVCT_EL0). It ticks at
// the fixed system counter frequency rather than the core clock, which is
// fine here: the report calibrates against the wall clock rather than
// trusting the tick rate. Implemented in cpu_timer_arm64.s.
func ReadCPUTimer() uint64
