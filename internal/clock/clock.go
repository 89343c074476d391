package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Since reports elapsed wall time from t through NowFunc so that run and
// step durations stay deterministic under a stubbed clock.
func Since(t time.Time) time.Duration { return NowFunc().Sub(t) }
