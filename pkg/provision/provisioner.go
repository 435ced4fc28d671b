package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/geotab"
)

var ErrNoGroups = errors.New("database has no groups")

// Well-known group used as the company group when present.
const (
	CompanyGroupID   = "GroupCompanyId"
	CompanyGroupName = "Company Group"
)

// ResolveGroup picks the organisational group new drivers are placed in: the built-in company
// group by id, then by name, then the first group returned.
func ResolveGroup(groups []geotab.Entity) (geotab.Entity, error) {
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}
	for _, g := range groups {
		if g.ID() == CompanyGroupID {
			return g, nil
		}
	}
	for _, g := range groups {
		if g.Name() == CompanyGroupName {
			return g, nil
		}
	}
	return groups[0], nil
}

// Provisioner creates a batch of drivers and assigns them to the database's devices.
type Provisioner struct {
	Session    Session
	Candidates []Candidate
	Domain     string
	Password   string
	Variants   []PayloadVariant
	Rand       *rand.Rand
	Now        func() time.Time
	Out        io.Writer
	SkipAssign bool // Stop after the create stage.
}

// Report summarises a provisioning run.
type Report struct {
	RunID      uuid.UUID
	Candidates int
	Created    int
	Skipped    int
	Failed     int
	Results    []CreateResult
	Assignment *AssignReport // nil when assignment was skipped.
}

// OK returns true if no candidate or assignment failed.
func (r *Report) OK() bool {
	if r.Failed > 0 {
		return false
	}
	return r.Assignment == nil || r.Assignment.Failed() == 0
}

// Run executes the stages in order. Failing to read users, groups or devices aborts the run;
// failures on individual candidates or devices are counted in the report.
func (p *Provisioner) Run(ctx context.Context) (*Report, error) {
	if p.Password == "" {
		return nil, ErrNoDriverPassword
	}
	if _, err := normalizeDomain(p.Domain); err != nil {
		return nil, err
	}
	out := p.Out
	if out == nil {
		out = io.Discard
	}
	report := &Report{RunID: uuid.New(), Candidates: len(p.Candidates)}
	log.Info("Starting provisioning run %s", report.RunID)

	users, err := p.Session.Get(ctx, TypeUser, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching existing users: %w", err)
	}
	taken := NewKeySet(users)
	fmt.Fprintf(out, "Found %d existing users\n", len(users))
	if len(users) > 0 {
		log.Debug("User fields: %s", strings.Join(users[0].Keys(), ", "))
	}
	for i, u := range users {
		if i == 5 {
			break
		}
		log.Debug("Existing user: %s", u.Name())
	}

	groups, err := p.Session.Get(ctx, TypeGroup, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching groups: %w", err)
	}
	group, err := ResolveGroup(groups)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Using group %s (%s)\n", deviceLabel(group), group.ID())

	creator := Creator{
		Session:  p.Session,
		Domain:   p.Domain,
		Template: UserTemplate{Password: p.Password, CompanyGroup: group.ID()},
		Variants: p.Variants,
		Out:      out,
	}
	fmt.Fprintf(out, "Creating %d drivers...\n", len(p.Candidates))
	results, err := creator.Create(ctx, p.Candidates, taken)
	if err != nil {
		return nil, err
	}
	report.Results = results
	for _, r := range results {
		switch r.Status {
		case StatusCreated:
			report.Created++
		case StatusSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	if p.SkipAssign {
		return report, nil
	}

	assigner := Assigner{Session: p.Session, Rand: p.Rand, Now: p.Now, Out: out}
	drivers := CreatedDrivers(results)
	if len(drivers) == 0 {
		// Devices are not worth fetching when there is nobody to assign.
		report.Assignment = assigner.Assign(ctx, nil, nil)
		return report, nil
	}
	devices, err := p.Session.Get(ctx, TypeDevice, nil)
	if err != nil {
		return report, fmt.Errorf("fetching devices: %w", err)
	}
	fmt.Fprintf(out, "Assigning %d drivers to %d devices...\n", len(drivers), len(devices))
	report.Assignment = assigner.Assign(ctx, drivers, devices)
	return report, nil
}

// Print writes the summary table and the list of failures to w.
func (r *Report) Print(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Stage", "Result", "Count")
	rows := [][]string{
		{"create", "candidates", fmt.Sprint(r.Candidates)},
		{"create", "created", fmt.Sprint(r.Created)},
		{"create", "skipped", fmt.Sprint(r.Skipped)},
		{"create", "failed", fmt.Sprint(r.Failed)},
	}
	if a := r.Assignment; a != nil {
		rows = append(rows,
			[]string{"assign", "outcome", a.Outcome.String()},
			[]string{"assign", "targets", fmt.Sprint(a.Targets)},
			[]string{"assign", "assigned", fmt.Sprint(a.Assigned())},
			[]string{"assign", "failed", fmt.Sprint(a.Failed())},
		)
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	var failures []string
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			failures = append(failures, fmt.Sprintf("  %s: %s", res.Candidate, res.Err()))
		}
	}
	if r.Assignment != nil {
		for _, a := range r.Assignment.Assignments {
			if a.Err != nil {
				failures = append(failures, fmt.Sprintf("  %s -> %s: %s", a.Driver.Name, deviceLabel(a.Device), a.Err))
			}
		}
	}
	if len(failures) > 0 {
		if _, err := fmt.Fprintf(w, "Failures (run %s):\n%s\n", r.RunID, strings.Join(failures, "\n")); err != nil {
			return err
		}
	}
	return nil
}
