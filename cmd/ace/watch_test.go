package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWatch_JudgesSavedFiles(t *testing.T) {
	setJSON(t, false)
	prev := watchTestStatus
	watchTestStatus = "passed"
	t.Cleanup(func() { watchTestStatus = prev })

	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(".aceignore", []byte("vendor/\n"), 0o644))
	require.NoError(t, os.Mkdir("vendor", 0o755))
	a := newTestApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, a, dir, 20*time.Millisecond, io.Discard) }()
	// Let the watcher register the tree.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join("vendor", "lib.py"), []byte("try:\n    x()\nexcept:\n    pass\n"), 0o644))
	require.NoError(t, os.WriteFile("notes.md", []byte("# notes"), 0o644))
	require.NoError(t, os.WriteFile("settings.py", []byte(typedConfig), 0o644))

	require.Eventually(t, func() bool {
		_, err := a.store.Get(context.Background(), "py-001")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}

	_, err := a.store.Get(context.Background(), "py-003")
	assert.Error(t, err, "ignored vendor file was never judged")
}

func TestWatchFilter(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfg := testConfig(t)
	cfg.Detect.Ignore = []string{"build/"}
	a := newTestApp(t, cfg)

	assert.True(t, a.watchFilter(filepath.Join(dir, "src"), true))
	assert.False(t, a.watchFilter(filepath.Join(dir, "build"), true))
	assert.True(t, a.watchFilter(filepath.Join(dir, "app.py"), false))
	assert.False(t, a.watchFilter(filepath.Join(dir, "main.go"), false))
	assert.False(t, a.watchFilter(filepath.Join(dir, "build", "out.js"), false))
}
