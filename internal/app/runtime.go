package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv switches the binaries into test mode: they return before
// dialling Postgres, Redis or the legacy API.
const TestModeEnv = "PROFITS_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether PROFITS_TEST_MODE holds a true value. The
// environment is read on first use.
func InTestMode() bool {
	if on := testMode.Load(); on != nil {
		return *on
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.Store(&on)
	return on
}
