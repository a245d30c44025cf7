package sshagent

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ackReader hands out success acks forever, standing in for the remote sink.
type ackReader struct{}

func (ackReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestSendTreeFraming(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Plc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CurrentConfig.xml"), []byte("<cfg/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Plc", "Port_851.app"), []byte("app-bytes"), 0o644))

	var in bytes.Buffer
	require.NoError(t, sendTree(&in, ackReader{}, dir))

	got := in.String()
	assert.Contains(t, got, "C0644 6 CurrentConfig.xml\n<cfg/>\x00")
	assert.Contains(t, got, "D0755 0 Plc\n")
	assert.Contains(t, got, "C0644 9 Port_851.app\napp-bytes\x00")
	// The Plc directory must be popped after its contents.
	assert.Greater(t, strings.Index(got, "E\n"), strings.Index(got, "Port_851.app"))
}

func TestReadAckReportsRemoteError(t *testing.T) {
	err := readAck(strings.NewReader("\x01scp: permission denied\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	assert.NoError(t, readAck(strings.NewReader("\x00")))
}
