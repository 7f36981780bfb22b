// Package display maps iOS Simulator device names to their logical screen
// sizes so captured frames can be cropped to what the simulator shows.
package display

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

//go:embed displays.csv
var displaysCSV []byte

// DefaultScreenSize is used when no argument names a known device.
var DefaultScreenSize = ScreenSize{Width: 414, Height: 896}

// ScreenSize is a logical screen size in points.
type ScreenSize struct {
	Width  int
	Height int
}

func (s ScreenSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Device is one row of the device table.
type Device struct {
	Name string
	Size ScreenSize
}

// Table is an ordered device table. Earlier rows win when several match.
type Table []Device

// DefaultTable returns the embedded device table.
func DefaultTable() Table {
	t, err := ParseTable(bytes.NewReader(displaysCSV))
	if err != nil {
		panic("embedded displays.csv is invalid: " + err.Error())
	}
	return t
}

// ParseTable reads a "device,width,height" CSV with a header row.
func ParseTable(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read device table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("device table is empty")
	}

	var table Table
	for i, rec := range records[1:] {
		w, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid width %q: %w", i+2, rec[1], err)
		}
		h, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid height %q: %w", i+2, rec[2], err)
		}
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("row %d: screen size must be positive, got %dx%d", i+2, w, h)
		}
		table = append(table, Device{
			Name: strings.ToLower(strings.TrimSpace(rec[0])),
			Size: ScreenSize{Width: w, Height: h},
		})
	}
	return table, nil
}

// Lookup walks the table in order and returns the first device named by any
// argument. An argument names a device when, lower-cased, it equals the
// device name or "iphone" followed by the device name.
func (t Table) Lookup(args []string) (Device, bool) {
	for _, d := range t {
		for _, arg := range args {
			a := strings.ToLower(arg)
			if a == d.Name || a == "iphone"+d.Name {
				return d, true
			}
		}
	}
	return Device{}, false
}

// DeviceFor resolves args against the default table. Without a match it
// returns an unnamed device of DefaultScreenSize and false.
func DeviceFor(args []string) (Device, bool) {
	if d, ok := DefaultTable().Lookup(args); ok {
		return d, true
	}
	return Device{Size: DefaultScreenSize}, false
}
