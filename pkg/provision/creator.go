package provision

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/geotab"
	"github.com/fleetflea/geotab-admin/pkg/protocol"
)

//go:generate mockgen -destination ../../mocks/provision_session.go -package mocks -mock_names Session=ProvisionSession . Session

// Session is the part of the remote API the provisioning flow uses.
type Session interface {
	Get(ctx context.Context, typeName string, search interface{}) ([]geotab.Entity, error)
	Add(ctx context.Context, typeName string, entity interface{}) (string, error)
}

const (
	TypeUser         = "User"
	TypeGroup        = "Group"
	TypeDevice       = "Device"
	TypeDriverChange = "DriverChange"

	// DefaultSecurityGroup grants new users the built-in administrator clearance.
	DefaultSecurityGroup = "GroupEverythingSecurityId"
)

var ErrNoDriverPassword = errors.New("driver password required")

// PayloadVariant is one shape of the User record to submit. Variants are tried in order until one
// is accepted.
type PayloadVariant struct {
	Name string
	Omit []string // Fields removed from the full record.
}

// DefaultVariants submits the full record first and, if the server rejects it, retries once
// without security groups.
var DefaultVariants = []PayloadVariant{
	{Name: "full"},
	{Name: "without-security-groups", Omit: []string{"securityGroups"}},
}

// UserTemplate holds the fields shared by every created driver.
type UserTemplate struct {
	Password      string
	CompanyGroup  string
	SecurityGroup string
}

func (t UserTemplate) build(c Candidate, key string, index int, v PayloadVariant) geotab.Entity {
	security := t.SecurityGroup
	if security == "" {
		security = DefaultSecurityGroup
	}
	user := geotab.Entity{
		"name":                   key,
		"firstName":              c.First,
		"lastName":               c.Last,
		"isDriver":               true,
		"employeeNo":             fmt.Sprintf("EMP%03d", index),
		"password":               t.Password,
		"changePasswordRequired": false,
		"companyGroups":          []geotab.Ref{{ID: t.CompanyGroup}},
		"securityGroups":         []geotab.Ref{{ID: security}},
		"userAuthenticationType": "BasicAuthentication",
	}
	for _, field := range v.Omit {
		delete(user, field)
	}
	return user
}

// Status is the outcome for one candidate.
type Status int

const (
	StatusCreated Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Driver is a user created by this run.
type Driver struct {
	ID   string
	Key  string
	Name string
}

// CreateResult records what happened to one candidate.
type CreateResult struct {
	Index     int // 1-based position in the roster
	Candidate Candidate
	Key       string
	Status    Status
	ID        string
	Variant   string  // Name of the accepted payload variant.
	Attempts  int     // Add calls made for this candidate.
	Errs      []error // One per failed attempt, or the derivation error.
}

// Err returns the last error, or nil.
func (r CreateResult) Err() error {
	if len(r.Errs) == 0 {
		return nil
	}
	return r.Errs[len(r.Errs)-1]
}

// Creator submits one User per candidate whose key is not yet taken.
type Creator struct {
	Session  Session
	Domain   string
	Template UserTemplate
	Variants []PayloadVariant // Defaults to DefaultVariants.
	Out      io.Writer        // Progress lines; nil discards them.
}

// Create processes candidates in order. Keys in taken are skipped without a call; every created
// key is added to taken so later candidates in the same batch see it. A candidate the server
// reports as a duplicate is skipped as well. Individual failures are recorded and the batch
// continues.
func (c *Creator) Create(ctx context.Context, candidates []Candidate, taken KeySet) ([]CreateResult, error) {
	if c.Template.Password == "" {
		return nil, ErrNoDriverPassword
	}
	if _, err := normalizeDomain(c.Domain); err != nil {
		return nil, err
	}
	variants := c.Variants
	if len(variants) == 0 {
		variants = DefaultVariants
	}
	out := c.Out
	if out == nil {
		out = io.Discard
	}

	results := make([]CreateResult, 0, len(candidates))
	for i, candidate := range candidates {
		result := CreateResult{Index: i + 1, Candidate: candidate}
		key, err := DeriveKey(candidate, c.Domain)
		if err != nil {
			result.Status = StatusFailed
			result.Errs = append(result.Errs, err)
			fmt.Fprintf(out, "  failed  [%02d] %s: %s\n", result.Index, candidate, err)
			results = append(results, result)
			continue
		}
		result.Key = key
		if taken.Has(key) {
			result.Status = StatusSkipped
			fmt.Fprintf(out, "  skipped [%02d] %s: %s already exists\n", result.Index, candidate, key)
			results = append(results, result)
			continue
		}

		result.Status = StatusFailed
		for _, variant := range variants {
			result.Attempts++
			id, err := c.Session.Add(ctx, TypeUser, c.Template.build(candidate, key, result.Index, variant))
			if err == nil {
				result.Status = StatusCreated
				result.ID = id
				result.Variant = variant.Name
				taken.Add(key)
				break
			}
			if isDuplicate(err) {
				// The login exists even though the user list did not show it.
				result.Status = StatusSkipped
				taken.Add(key)
				break
			}
			result.Errs = append(result.Errs, err)
			log.Warning("Creating %s with %s payload failed: %s", key, variant.Name, err)
			if protocol.MayHaveSucceeded(err) || ctx.Err() != nil {
				// Replaying a possibly applied Add could create the user twice.
				break
			}
		}

		switch {
		case result.Status == StatusSkipped:
			fmt.Fprintf(out, "  skipped [%02d] %s: %s already exists\n", result.Index, candidate, key)
		case result.Status == StatusCreated && result.Attempts > 1:
			fmt.Fprintf(out, "  created [%02d] %s -> %s (%s)\n", result.Index, candidate, key, result.Variant)
		case result.Status == StatusCreated:
			fmt.Fprintf(out, "  created [%02d] %s -> %s\n", result.Index, candidate, key)
		default:
			fmt.Fprintf(out, "  failed  [%02d] %s: %s\n", result.Index, candidate, result.Err())
		}
		results = append(results, result)
	}
	return results, nil
}

func isDuplicate(err error) bool {
	var rpcErr *geotab.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Has(geotab.ExceptionDuplicate)
}

// CreatedDrivers extracts the drivers created in results, in roster order.
func CreatedDrivers(results []CreateResult) []Driver {
	var drivers []Driver
	for _, r := range results {
		if r.Status == StatusCreated {
			drivers = append(drivers, Driver{ID: r.ID, Key: r.Key, Name: r.Candidate.String()})
		}
	}
	return drivers
}
