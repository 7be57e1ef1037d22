package reflection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// TestStatus summarises a test run.
type TestStatus string

const (
	TestsPassed  TestStatus = "passed"
	TestsFailed  TestStatus = "failed"
	TestsTimeout TestStatus = "timeout"
	TestsNone    TestStatus = "none"
)

// ParseTestStatus maps user input onto a TestStatus. Unknown values are
// TestsNone.
func ParseTestStatus(s string) TestStatus {
	switch TestStatus(s) {
	case TestsPassed, TestsFailed, TestsTimeout:
		return TestStatus(s)
	}
	return TestsNone
}

// Evidence is the execution feedback available for an edit.
type Evidence struct {
	TestStatus TestStatus `json:"test_status"`
	ErrorLogs  string     `json:"error_logs,omitempty"`
	Output     string     `json:"output,omitempty"`
	HasTests   bool       `json:"has_tests"`
}

// NoEvidence is used when no test command is configured or runnable.
func NoEvidence() Evidence {
	return Evidence{TestStatus: TestsNone}
}

const (
	maxErrorLogBytes = 500
	maxOutputBytes   = 300
)

// GatherEvidence runs the test command and classifies the result. A
// command that cannot be started yields NoEvidence; one that exceeds
// timeout yields TestsTimeout.
func GatherEvidence(ctx context.Context, command []string, timeout time.Duration) Evidence {
	if len(command) == 0 {
		return NoEvidence()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Evidence{
			TestStatus: TestsTimeout,
			ErrorLogs:  fmt.Sprintf("tests timed out after %s", timeout),
			HasTests:   true,
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return NoEvidence()
	}

	status := TestsPassed
	if err != nil {
		status = TestsFailed
	}
	return Evidence{
		TestStatus: status,
		ErrorLogs:  tail(stderr.String(), maxErrorLogBytes),
		Output:     tail(stdout.String(), maxOutputBytes),
		HasTests:   true,
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
