// Package testing pins the environment for the portal's test binaries.
// Packages whose tests boot portal components import it blank.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var envOnce sync.Once

func ensureTestMode() {
	envOnce.Do(func() {
		_ = os.Setenv("CAMPUS_TEST_MODE", "1")
		if os.Getenv("AUTH_API_URL") == "" {
			_ = os.Setenv("AUTH_API_URL", "http://127.0.0.1:0")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
