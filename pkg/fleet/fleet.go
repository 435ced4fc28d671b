// Package fleet lists and renames the devices (vehicles) of a MyGeotab database.
package fleet

import (
	"context"
	_ "embed" // Default device names
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/geotab"
)

//go:generate mockgen -destination ../../mocks/fleet_session.go -package mocks -mock_names Session=FleetSession . Session

// Session is the part of the remote API used for device maintenance.
type Session interface {
	Get(ctx context.Context, typeName string, search interface{}) ([]geotab.Entity, error)
	Set(ctx context.Context, typeName string, entity interface{}) error
}

const typeDevice = "Device"

//go:embed names.json
var defaultNames []byte

// DefaultNames returns the built-in list of 50 truck names.
func DefaultNames() []string {
	names, err := parseNames(defaultNames)
	if err != nil {
		panic(fmt.Sprintf("embedded names are invalid: %s", err))
	}
	return names
}

// LoadNames reads a JSON array of device names.
func LoadNames(filename string) ([]string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	names, err := parseNames(data)
	if err != nil {
		return nil, fmt.Errorf("invalid names file %s: %w", filename, err)
	}
	return names, nil
}

func parseNames(data []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// SortByID orders devices by id, in place.
func SortByID(devices []geotab.Entity) {
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].ID() < devices[j].ID()
	})
}

// ListDevices fetches every device, sorted by id.
func ListDevices(ctx context.Context, s Session) ([]geotab.Entity, error) {
	devices, err := s.Get(ctx, typeDevice, nil)
	if err != nil {
		return nil, err
	}
	SortByID(devices)
	return devices, nil
}

// PrintDevices writes a numbered table of devices followed by the total.
func PrintDevices(w io.Writer, devices []geotab.Entity) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Name", "ID")
	for i, d := range devices {
		if err := table.Append([]string{fmt.Sprint(i + 1), d.Name(), d.ID()}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Total: %d vehicles\n", len(devices))
	return err
}

// Rename is a planned name change for one device.
type Rename struct {
	Device  geotab.Entity
	OldName string
	NewName string
}

// Plan pairs devices, sorted by id, with names. Devices beyond the end of names are called
// "Truck #NN" after their 1-based position. devices is not modified.
func Plan(devices []geotab.Entity, names []string) []Rename {
	sorted := make([]geotab.Entity, len(devices))
	copy(sorted, devices)
	SortByID(sorted)
	plan := make([]Rename, len(sorted))
	for i, d := range sorted {
		name := fmt.Sprintf("Truck #%02d", i+1)
		if i < len(names) {
			name = names[i]
		}
		plan[i] = Rename{Device: d, OldName: d.Name(), NewName: name}
	}
	return plan
}

// RenameResult counts the outcome of Apply.
type RenameResult struct {
	Renamed int
	Failed  int
}

// Apply writes each rename back with Set, sending the full device record with only its name
// changed. A failure is reported and the remaining devices are still processed.
func Apply(ctx context.Context, s Session, plan []Rename, out io.Writer) RenameResult {
	if out == nil {
		out = io.Discard
	}
	var result RenameResult
	for _, r := range plan {
		device := r.Device.Clone()
		device["name"] = r.NewName
		if err := s.Set(ctx, typeDevice, device); err != nil {
			log.Warning("Renaming device %s failed: %s", device.ID(), err)
			fmt.Fprintf(out, "  failed  %-20s -> %s: %s\n", r.OldName, r.NewName, err)
			result.Failed++
			continue
		}
		fmt.Fprintf(out, "  renamed %-20s -> %s\n", r.OldName, r.NewName)
		result.Renamed++
	}
	return result
}
