package resource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/ids"
)

func writeSysfsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "value")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.RegisterThermalZone(0, "/dev/null"))
	err := m.RegisterThermalZone(0, "/dev/null")
	require.Error(t, err)
	assert.True(t, banderr.Is(err, banderr.Internal))
}

func TestGetBeforeSampleIsNotFound(t *testing.T) {
	m := New(Config{})
	_, err := m.GetThermal(0)
	require.Error(t, err)
	assert.True(t, banderr.Is(err, banderr.NotFound))
}

func TestSampleOnceUpdatesSnapshotAndNotifiesListeners(t *testing.T) {
	path := writeSysfsFile(t, "42500\n")
	m := New(Config{IntervalMs: 1})
	require.NoError(t, m.RegisterThermalZone(0, path))

	notified := make(chan struct{}, 1)
	m.AddListener(func() { notified <- struct{}{} })

	m.sampleOnce()

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("listener was not invoked after sampleOnce")
	}

	v, err := m.GetThermal(0)
	require.NoError(t, err)
	assert.Equal(t, 42500.0, v)
}

func TestSampleOnceKeepsLastValueOnReadFailure(t *testing.T) {
	path := writeSysfsFile(t, "100\n")
	m := New(Config{})
	require.NoError(t, m.RegisterDevFreq(ids.GPU, path))
	m.sampleOnce()

	require.NoError(t, os.Remove(path))
	m.sampleOnce()

	v, err := m.GetDevFreq(ids.GPU)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v, "a failed read must not clobber the last good value")
}

func TestStartStopLifecycle(t *testing.T) {
	m := New(Config{IntervalMs: 1})
	if !Available() {
		err := m.Start()
		require.Error(t, err)
		assert.True(t, banderr.Is(err, banderr.Unavailable))
		return
	}
	require.NoError(t, m.Start())
	require.NoError(t, m.Start()) // idempotent
	m.Stop()
	m.Stop() // idempotent
}

func TestGetCpuFreqRoundTrip(t *testing.T) {
	path := writeSysfsFile(t, "1800000")
	m := New(Config{})
	require.NoError(t, m.RegisterCPUFreq(ids.Big, path))
	m.sampleOnce()

	v, err := m.GetCpuFreq(ids.Big)
	require.NoError(t, err)
	assert.Equal(t, 1800000.0, v)
}
