package ndp

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no package tests leak goroutines, mirroring the
// teacher netstack's use of goleak.VerifyTestMain. This package's only
// long-lived goroutines are the blocking DAD waiters started by dad_test.go
// (dadTask.wait) and engine_test.go's TestScenarioDadSuccess (DadStart with
// DadBlocking); each such test waits for its goroutine's result before
// returning, so no exceptions are needed here.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
