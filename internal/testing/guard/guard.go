// Package guard switches binaries into test mode when imported from tests,
// so calling main() returns before touching Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

// EnvVar is the switch read by app.InTestMode.
const EnvVar = "BILLING_TEST_MODE"

var once sync.Once

func init() {
	Enable()
}

// Enable sets EnvVar unless the caller already chose a value.
func Enable() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
