package testutil

import (
	"fmt"
	"testing"

	"airbnbsync-backend/lib/telemetry"
)

// Setup initializes logging and telemetry for a test. The returned
// cleanup flushes any exporters that got configured.
func Setup(t testing.TB, name string) func() {
	return telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", name))
}
