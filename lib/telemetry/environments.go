package telemetry

import (
	"context"
	"os"
	"testing"
)

var setupTestEnvironments = map[string]bool{}

// sets up telemetry in a testing environment, ensuring that it isn't
// set up more than once. tests run fine without a telemetry.json5, the
// default no-op providers stay in place.
func SetupForTesting(t testing.TB, serviceName string) func() {
	_, setupAlready := setupTestEnvironments[serviceName]
	if setupAlready {
		return func() {}
	}
	setupTestEnvironments[serviceName] = true

	InitSlog(true)

	tel, err := SetupFromEnv(context.Background(), serviceName)
	if os.IsNotExist(err) {
		return func() {}
	}
	if err != nil {
		t.Fatal(err)
	}
	return func() {
		err := tel.Shutdown(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}
}
