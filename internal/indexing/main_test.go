package indexing

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain fails the package if a rebuilder, watcher or load goroutine
// outlives its test
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
