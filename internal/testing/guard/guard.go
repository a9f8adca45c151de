// Package guard switches the process into test mode when imported, so
// binaries exercised from tests never dial Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PROFITS_TEST_MODE") == "" {
			_ = os.Setenv("PROFITS_TEST_MODE", "1")
		}
		if os.Getenv("PROFITS_PROVIDER") == "" {
			_ = os.Setenv("PROFITS_PROVIDER", "memory")
		}
	})
}
