package cli

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/inventory"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTrapInterruptExits130(t *testing.T) {
	codes := make(chan int, 1)
	stop := trapInterrupt(func(code int) { codes <- code })
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case code := <-codes:
		assert.Equal(t, interruptExitCode, code)
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt handler never fired")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	assert.Equal(t, 1, Run([]string{"frobnicate"}))
	assert.Equal(t, 1, Run(nil))
	assert.Equal(t, 0, Run([]string{"help"}))
}

func TestPreflightRejectsBadSchemaBeforeTouchingDevices(t *testing.T) {
	dir := t.TempDir()
	inv := writeFile(t, dir, "fleet.csv", "device,line\nplc-01,filling\n")
	common := &commonFlags{password: "1"}

	specs, err := preflight(zerolog.Nop(), inv, dir, common)

	var schemaErr *inventory.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Nil(t, specs, "no device may be touched after a schema failure")
}

func TestPreflightRejectsMissingInventoryFile(t *testing.T) {
	dir := t.TempDir()
	common := &commonFlags{password: "1"}

	_, err := preflight(zerolog.Nop(), filepath.Join(dir, "absent.csv"), dir, common)
	assert.Error(t, err)
}

func TestPreflightRejectsMissingSourceFolder(t *testing.T) {
	dir := t.TempDir()
	inv := writeFile(t, dir, "fleet.csv", "device,restart\nplc-01,no\n")
	common := &commonFlags{password: "1"}

	_, err := preflight(zerolog.Nop(), inv, filepath.Join(dir, "no-such-boot"), common)
	assert.Error(t, err)
}

func TestPreflightAcceptsValidRun(t *testing.T) {
	dir := t.TempDir()
	inv := writeFile(t, dir, "fleet.csv", "device,restart\nplc-01,yes\nplc-02,no\n")
	source := filepath.Join(dir, "Boot")
	require.NoError(t, os.Mkdir(source, 0o755))
	common := &commonFlags{password: "1"}

	specs, err := preflight(zerolog.Nop(), inv, source, common)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.True(t, specs[0].RestartRequested)
}

func TestValidateCredentials(t *testing.T) {
	dir := t.TempDir()
	key := writeFile(t, dir, "id_rsa", "not really a key")

	assert.NoError(t, validateCredentials(&commonFlags{password: "1"}))
	assert.NoError(t, validateCredentials(&commonFlags{identity: key}))
	assert.Error(t, validateCredentials(&commonFlags{}))
	assert.Error(t, validateCredentials(&commonFlags{identity: filepath.Join(dir, "missing")}))
}

func TestAnyNeedsDiscovery(t *testing.T) {
	assert.False(t, anyNeedsDiscovery([]inventory.DeviceSpec{{Name: "a", Address: "10.0.0.1"}}))
	assert.True(t, anyNeedsDiscovery([]inventory.DeviceSpec{
		{Name: "a", Address: "10.0.0.1"},
		{Name: "b"},
	}))
}
