// File: control/config_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/wsloop/api"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wsloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSettings_DefaultsWithoutFile(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	require.Equal(t, api.DefaultSettings(), s)
}

func TestLoadSettings_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
max_connections: 3
queue_size: 2
fragment_size: 16
tcp_nodelay: true
reconnect_max_interval: 5s
fatal_kinds: [internal, queue]
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	require.Equal(t, 3, s.MaxConnections)
	require.Equal(t, 2, s.QueueSize)
	require.Equal(t, 16, s.FragmentSize)
	require.True(t, s.TCPNoDelay)
	require.Equal(t, 5*time.Second, s.ReconnectMaxInterval)
	require.True(t, s.Fatal.Has(api.KindInternal))
	require.True(t, s.Fatal.Has(api.KindQueue))
	require.False(t, s.Fatal.Has(api.KindIO))
	require.Equal(t, api.DefaultSettings().InBufferCapacity, s.InBufferCapacity)
}

func TestLoadSettings_EnvironmentOverrides(t *testing.T) {
	t.Setenv("WSLOOP_MAX_CONNECTIONS", "7")
	t.Setenv("WSLOOP_TCP_NODELAY", "true")
	s, err := LoadSettings("")
	require.NoError(t, err)
	require.Equal(t, 7, s.MaxConnections)
	require.True(t, s.TCPNoDelay)
}

func TestLoadSettings_RejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "max_connections: 0\n")
	_, err := LoadSettings(path)
	require.Error(t, err)
}

func TestLoadSettings_RejectsUnknownFatalKind(t *testing.T) {
	path := writeConfig(t, "fatal_kinds: [banana]\n")
	_, err := LoadSettings(path)
	require.ErrorContains(t, err, "banana")
}

func TestLoadSettings_MissingFileFails(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
