package inventory

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRestartFlag(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"true", true},
		{"True", true},
		{"1", true},
		{"y", true},
		{"Yes", true},
		{" yes ", true},
		{"false", false},
		{"0", false},
		{"n", false},
		{"no", false},
		{"", false},
		{"maybe", false},
		{"2", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRestartFlag(tt.in), "input %q", tt.in)
	}
}

func TestParsePreservesOrderAndAliases(t *testing.T) {
	in := strings.Join([]string{
		"Device Name,Restart,IP Address,Line",
		"plc-03,yes,192.168.0.3,packaging",
		"plc-01,no,,filling",
		"plc-02,1,,mixing",
	}, "\n")

	specs, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.Equal(t, "plc-03", specs[0].Name)
	assert.Equal(t, "plc-01", specs[1].Name)
	assert.Equal(t, "plc-02", specs[2].Name)

	assert.True(t, specs[0].RestartRequested)
	assert.False(t, specs[1].RestartRequested)
	assert.True(t, specs[2].RestartRequested)

	assert.Equal(t, "192.168.0.3", specs[0].Address)
	assert.Empty(t, specs[1].Address)

	assert.Equal(t, "packaging", specs[0].Raw["line"])
}

func TestParseDropsCommentAndBlankRows(t *testing.T) {
	in := strings.Join([]string{
		"device,restart",
		"plc-01,no",
		",yes",
		"#plc-02,yes",
		"plc-03,no",
	}, "\n")

	specs, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "plc-01", specs[0].Name)
	assert.Equal(t, "plc-03", specs[1].Name)
}

func TestParseMissingRequiredColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("device,line\nplc-01,filling\n"))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "restart-flag", schemaErr.Missing)
	assert.Contains(t, schemaErr.Found, "device")
	assert.Contains(t, err.Error(), "restart-flag")
}

func TestParseMissingNameColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("restart,line\nyes,filling\n"))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "device-name", schemaErr.Missing)
}

func TestParseRejectsDuplicateDeviceNames(t *testing.T) {
	_, err := Parse(strings.NewReader("device,restart\nplc-01,no\nplc-01,yes\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate device")
}

func TestParseEmptyInventory(t *testing.T) {
	_, err := Parse(strings.NewReader("device,restart\n,yes\n#x,no\n"))
	assert.True(t, errors.Is(err, ErrEmptyInventory))
}

func TestParseRoutes(t *testing.T) {
	in := strings.Join([]string{
		"name,user,password,use_ip,ip",
		"plc-01,Administrator,1,yes,192.168.0.1",
		"plc-02,Administrator,1,no,",
	}, "\n")

	routes, err := ParseRoutes(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, "plc-01", routes[0].Name)
	assert.True(t, routes[0].UseIP)
	assert.Equal(t, "192.168.0.1", routes[0].IP)
	assert.False(t, routes[1].UseIP)
}

func TestParseRoutesEmptyFile(t *testing.T) {
	_, err := ParseRoutes(strings.NewReader("name,user,password\n,,\n"))
	require.ErrorIs(t, err, ErrNoRoutes)
	assert.Contains(t, err.Error(), "route")
}

func TestParseRoutesMissingPassword(t *testing.T) {
	_, err := ParseRoutes(strings.NewReader("name,user\nplc-01,admin\n"))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "password", schemaErr.Missing)
}
