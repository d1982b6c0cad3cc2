package ollama

import (
	"os"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// fail the package if any test leaks a goroutine
	defer goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}
