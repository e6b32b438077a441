// Package guard forces test mode before any runtime code consults it.
// Import it for side effect from packages whose tests must never start
// servers or workers.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("VANTAGE_TEST_MODE") == "" {
			_ = os.Setenv("VANTAGE_TEST_MODE", "1")
		}
	})
}
