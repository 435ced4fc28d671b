package provision

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/geotab"
)

// DriverLogin is the DriverChange type that binds a driver to a device.
const DriverLogin = "DriverLogin"

// DriverChange is the record that assigns a driver to a device from DateTime onwards.
type DriverChange struct {
	Driver   geotab.Ref `json:"driver"`
	Device   geotab.Ref `json:"device"`
	DateTime string     `json:"dateTime"`
	Type     string     `json:"type"`
}

// Outcome summarises an assignment stage.
type Outcome int

const (
	Assigned Outcome = iota
	NoDrivers        // Nothing was created, so nothing was fetched or assigned.
	NoTargets        // Drivers exist but the database has no devices.
)

func (o Outcome) String() string {
	switch o {
	case Assigned:
		return "assigned"
	case NoDrivers:
		return "no drivers created"
	case NoTargets:
		return "no devices found"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Assignment is one attempted DriverChange.
type Assignment struct {
	Device geotab.Entity
	Driver Driver
	Err    error
}

type AssignReport struct {
	Outcome     Outcome
	Targets     int
	Assignments []Assignment
}

// Assigned returns the number of successful DriverChange records.
func (r *AssignReport) Assigned() int {
	n := 0
	for _, a := range r.Assignments {
		if a.Err == nil {
			n++
		}
	}
	return n
}

func (r *AssignReport) Failed() int {
	return len(r.Assignments) - r.Assigned()
}

// Assigner spreads drivers over devices.
type Assigner struct {
	Session Session
	// Rand shuffles the device order. Seed it to make a run reproducible.
	Rand *rand.Rand
	// Now stamps each DriverChange. Defaults to time.Now.
	Now func() time.Time
	Out io.Writer
}

// Shuffle returns a shuffled copy of devices using r.
func Shuffle(r *rand.Rand, devices []geotab.Entity) []geotab.Entity {
	targets := make([]geotab.Entity, len(devices))
	copy(targets, devices)
	r.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
	return targets
}

// Assign shuffles devices, then assigns targets[i] to drivers[i % len(drivers)]. Failures are
// recorded per device and do not stop the loop.
func (a *Assigner) Assign(ctx context.Context, drivers []Driver, devices []geotab.Entity) *AssignReport {
	report := &AssignReport{Targets: len(devices)}
	if len(drivers) == 0 {
		report.Outcome = NoDrivers
		return report
	}
	if len(devices) == 0 {
		report.Outcome = NoTargets
		return report
	}
	rng := a.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := a.Now
	if now == nil {
		now = time.Now
	}
	out := a.Out
	if out == nil {
		out = io.Discard
	}

	targets := Shuffle(rng, devices)
	report.Assignments = make([]Assignment, 0, len(targets))
	for i, device := range targets {
		driver := drivers[i%len(drivers)]
		change := DriverChange{
			Driver:   geotab.Ref{ID: driver.ID},
			Device:   geotab.Ref{ID: device.ID()},
			DateTime: now().UTC().Format(time.RFC3339Nano),
			Type:     DriverLogin,
		}
		_, err := a.Session.Add(ctx, TypeDriverChange, change)
		report.Assignments = append(report.Assignments, Assignment{Device: device, Driver: driver, Err: err})
		if err != nil {
			log.Warning("Assigning %s to %s failed: %s", driver.Key, device.ID(), err)
			fmt.Fprintf(out, "  failed   %s -> %s: %s\n", deviceLabel(device), driver.Name, err)
			continue
		}
		fmt.Fprintf(out, "  assigned %s -> %s\n", deviceLabel(device), driver.Name)
	}
	return report
}

func deviceLabel(d geotab.Entity) string {
	if name := d.Name(); name != "" {
		return name
	}
	return d.ID()
}
