package netmux

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enforces that no test in this package leaks a goroutine past
// its own completion, turning §8 property 5 ("every Connected/Opened is
// eventually paired with Disconnected/Closed") into an automatically
// checked invariant at the goroutine level.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
