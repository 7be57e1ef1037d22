package reflection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGatherEvidence(t *testing.T) {
	ctx := context.Background()

	t.Run("no command", func(t *testing.T) {
		assert.Equal(t, NoEvidence(), GatherEvidence(ctx, nil, time.Second))
	})

	t.Run("passed", func(t *testing.T) {
		ev := GatherEvidence(ctx, []string{"sh", "-c", "echo ok"}, 5*time.Second)
		assert.Equal(t, TestsPassed, ev.TestStatus)
		assert.True(t, ev.HasTests)
		assert.Equal(t, "ok\n", ev.Output)
	})

	t.Run("failed keeps the tail of stderr", func(t *testing.T) {
		ev := GatherEvidence(ctx, []string{"sh", "-c", "head -c 800 /dev/zero | tr '\\0' x >&2; exit 3"}, 5*time.Second)
		assert.Equal(t, TestsFailed, ev.TestStatus)
		assert.Len(t, ev.ErrorLogs, maxErrorLogBytes)
	})

	t.Run("timeout", func(t *testing.T) {
		ev := GatherEvidence(ctx, []string{"sleep", "5"}, 50*time.Millisecond)
		assert.Equal(t, TestsTimeout, ev.TestStatus)
		assert.True(t, ev.HasTests)
	})

	t.Run("missing binary", func(t *testing.T) {
		ev := GatherEvidence(ctx, []string{"ace-no-such-test-runner"}, time.Second)
		assert.Equal(t, TestsNone, ev.TestStatus)
		assert.False(t, ev.HasTests)
	})
}

func TestParseTestStatus(t *testing.T) {
	assert.Equal(t, TestsPassed, ParseTestStatus("passed"))
	assert.Equal(t, TestsTimeout, ParseTestStatus("timeout"))
	assert.Equal(t, TestsNone, ParseTestStatus("skipped"))
}
