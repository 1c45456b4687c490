package app

import (
	"os"
	"sync"
)

const testModeEnv = "CAMPUS_TEST_MODE"

var (
	testModeOnce sync.Once
	testMode     bool
)

// InTestMode reports whether the process runs under the test harness, where
// boot skips external side effects. The environment is read once.
func InTestMode() bool {
	testModeOnce.Do(func() {
		testMode = os.Getenv(testModeEnv) == "1"
	})
	return testMode
}
