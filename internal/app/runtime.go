package app

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const testModeEnv = "BILLING_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(testModeEnv))) {
	case "1", "true", "yes":
		testModeFlag.Store(true)
	default:
		testModeFlag.Store(false)
	}
}

// InTestMode reports whether binaries should skip connecting to Postgres and
// Redis. Set BILLING_TEST_MODE=1 to enable.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
