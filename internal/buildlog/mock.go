package buildlog

import (
	"context"
	"strings"
	"time"
)

// MockClient returns fixture keyword sets without calling any backend.
// Used for local runs and tests.
type MockClient struct {
	// Delay simulates backend latency. Zero means no delay.
	Delay time.Duration
}

// QueryErrors returns canned error keywords keyed on the reference text.
func (c *MockClient) QueryErrors(ctx context.Context, ref string) ([]string, error) {
	if c.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Delay):
		}
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.Contains(lower, "jenkins"):
		return []string{
			"BUILD FAILED",
			"Compilation failed",
			"Missing dependency",
			"Permission denied",
		}, nil
	case strings.Contains(lower, "gitlab"):
		return []string{
			"Pipeline failed",
			"Test failure",
			"Docker build error",
			"Memory limit exceeded",
		}, nil
	default:
		return []string{
			"Build error",
			"Compilation error",
			"Test failure",
		}, nil
	}
}
