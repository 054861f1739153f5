package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tally/internal/daemon"
)

func TestPidFile_Path(t *testing.T) {
	dir := testEnv(t)
	assert.Equal(t, filepath.Join(dir, "tally-serve.pid"), pidFile().Path)
}

func TestServeLogPath(t *testing.T) {
	dir := testEnv(t)
	assert.Equal(t, filepath.Join(dir, "tally-serve.log"), serveLogPath())
}

func TestServeStatusRun_NotRunning(t *testing.T) {
	testEnv(t)
	assert.NoError(t, serveStatusRun())
}

func TestServeStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	err := serveStopRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestServeStartRun_AlreadyRunning(t *testing.T) {
	dir := testEnv(t)

	// The test process itself is alive.
	pf := daemon.NewPIDFile(filepath.Join(dir, "tally-serve.pid"))
	require.NoError(t, pf.Write())
	t.Cleanup(func() { _ = pf.Release() })

	err := serveStartRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestServeStatusRun_Running(t *testing.T) {
	dir := testEnv(t)
	pf := daemon.NewPIDFile(filepath.Join(dir, "tally-serve.pid"))
	require.NoError(t, pf.Write())
	t.Cleanup(func() { _ = pf.Release() })

	assert.NoError(t, serveStatusRun())
}
