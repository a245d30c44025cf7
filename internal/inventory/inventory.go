// Package inventory loads device and route records from operator-maintained
// CSV files.
package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrEmptyInventory reports an inventory with a valid header but no usable
// device rows.
var ErrEmptyInventory = errors.New("inventory contains no valid device rows")

// ErrNoRoutes is the route-file counterpart of ErrEmptyInventory.
var ErrNoRoutes = errors.New("route file contains no valid route rows")

// SchemaError reports a missing required column.
type SchemaError struct {
	Missing string
	Found   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("inventory schema: missing required column %q (found columns: %s)",
		e.Missing, strings.Join(e.Found, ", "))
}

// DeviceSpec is one row of the fleet inventory. It is built once by the
// loader and never mutated afterwards.
type DeviceSpec struct {
	// Name is the unique device key and the discovery lookup key.
	Name string
	// Address is the explicit target address, if the inventory provides one.
	Address string
	// RestartRequested asks for a TwinCAT restart after the file sync.
	RestartRequested bool
	// Raw holds every cell of the source row keyed by normalized column name.
	Raw map[string]string
}

// RouteSpec is one row of a route-registration credentials file.
type RouteSpec struct {
	Name     string
	User     string
	Password string
	UseIP    bool
	IP       string
}

// Column aliases accepted in headers, normalized (lowercased, separators
// collapsed to "-").
var (
	nameAliases     = []string{"device-name", "device", "name", "hostname", "machine"}
	restartAliases  = []string{"restart-flag", "restart", "restart-requested", "reboot"}
	addressAliases  = []string{"address", "ip", "ip-address", "ams-address"}
	userAliases     = []string{"user", "username", "ssh-user"}
	passwordAliases = []string{"password", "pass", "secret"}
	useIPAliases    = []string{"use-ip", "useip", "by-ip"}
)

// ParseRestartFlag implements the restart-flag grammar: "true", "1", "y" and
// "yes" (any case) mean true, everything else means false.
func ParseRestartFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "y", "yes":
		return true
	default:
		return false
	}
}

func normalizeColumn(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "\ufeff") // Excel BOM
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// columnIndex finds the first header cell matching any alias, or -1.
func columnIndex(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, col := range header {
			if normalizeColumn(col) == alias {
				return i
			}
		}
	}
	return -1
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// Load reads the fleet inventory file at path.
func Load(path string) ([]DeviceSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening inventory: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a fleet inventory from r, preserving source row order.
func Parse(r io.Reader) ([]DeviceSpec, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading inventory header: %w", err)
	}

	nameIdx := columnIndex(header, nameAliases)
	if nameIdx < 0 {
		return nil, &SchemaError{Missing: "device-name", Found: header}
	}
	restartIdx := columnIndex(header, restartAliases)
	if restartIdx < 0 {
		return nil, &SchemaError{Missing: "restart-flag", Found: header}
	}
	addressIdx := columnIndex(header, addressAliases)

	var specs []DeviceSpec
	seen := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading inventory row: %w", err)
		}

		name := cell(record, nameIdx)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		// The device name is the unique key; a repeated row would otherwise
		// produce two outcomes for one device.
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate device %q in inventory", name)
		}
		seen[name] = struct{}{}

		raw := make(map[string]string, len(header))
		for i, col := range header {
			raw[normalizeColumn(col)] = cell(record, i)
		}

		specs = append(specs, DeviceSpec{
			Name:             name,
			Address:          cell(record, addressIdx),
			RestartRequested: ParseRestartFlag(cell(record, restartIdx)),
			Raw:              raw,
		})
	}

	if len(specs) == 0 {
		return nil, ErrEmptyInventory
	}

	return specs, nil
}

// LoadRoutes reads a route-registration credentials file at path.
func LoadRoutes(path string) ([]RouteSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening route file: %w", err)
	}
	defer f.Close()

	return ParseRoutes(f)
}

// ParseRoutes reads route records from r. Required columns: name, user,
// password. Optional: use-ip flag and an explicit IP.
func ParseRoutes(r io.Reader) ([]RouteSpec, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading route header: %w", err)
	}

	nameIdx := columnIndex(header, nameAliases)
	if nameIdx < 0 {
		return nil, &SchemaError{Missing: "name", Found: header}
	}
	userIdx := columnIndex(header, userAliases)
	if userIdx < 0 {
		return nil, &SchemaError{Missing: "user", Found: header}
	}
	passwordIdx := columnIndex(header, passwordAliases)
	if passwordIdx < 0 {
		return nil, &SchemaError{Missing: "password", Found: header}
	}
	useIPIdx := columnIndex(header, useIPAliases)
	ipIdx := columnIndex(header, addressAliases)

	var routes []RouteSpec
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading route row: %w", err)
		}

		name := cell(record, nameIdx)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}

		routes = append(routes, RouteSpec{
			Name:     name,
			User:     cell(record, userIdx),
			Password: cell(record, passwordIdx),
			UseIP:    ParseRestartFlag(cell(record, useIPIdx)),
			IP:       cell(record, ipIdx),
		})
	}

	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}

	return routes, nil
}
