package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/fleetflea/geotab-admin/pkg/cli"
	"github.com/fleetflea/geotab-admin/pkg/fleet"
	"github.com/fleetflea/geotab-admin/pkg/geotab"
	"github.com/fleetflea/geotab-admin/pkg/provision"
)

var (
	ErrCommandLineArgs        = errors.New("invalid command line arguments")
	ErrUnknownCommand         = errors.New("unrecognized command")
	ErrRequiresDriverDomain   = errors.New("command requires an email domain for new drivers")
	ErrRequiresDriverPassword = errors.New("command requires a password for new drivers")
	ErrItemsFailed            = errors.New("one or more items failed")
)

type Argument struct {
	name string
	help string
}

// environment carries what handlers operate on. It is built once per process.
type environment struct {
	session *geotab.Session
	config  *cli.Config
	rng     *rand.Rand
	out     io.Writer
}

type Handler func(ctx context.Context, env *environment, args map[string]string) error

type Command struct {
	help              string
	requiresProvision bool // True if command creates drivers and needs their domain and password
	args              []Argument
	optional          []Argument
	handler           Handler
}

// checkReadiness verifies that c contains all the information required to execute a command.
func checkReadiness(c *cli.Config, commandName string) (*Command, error) {
	info, ok := commands[commandName]
	if !ok {
		return nil, ErrUnknownCommand
	}
	if info.requiresProvision {
		if c.DriverDomain == "" {
			return nil, ErrRequiresDriverDomain
		}
		if c.DriverPassword == "" {
			return nil, ErrRequiresDriverPassword
		}
	}
	return info, nil
}

func execute(ctx context.Context, env *environment, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, err := checkReadiness(env.config, args[0])
	if err != nil {
		return err
	}

	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, env, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(env.out, args[0])
	}
	return err
}

func (c *Command) Usage(w io.Writer, name string) {
	fmt.Fprintf(w, "Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Fprintf(w, " %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(w, " [")
	}
	for _, arg := range c.optional {
		fmt.Fprintf(w, " %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(w, " ]")
	}
	fmt.Fprintf(w, "\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Fprintf(w, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Fprintf(w, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

func loadRoster(args map[string]string) ([]provision.Candidate, error) {
	if filename, ok := args["ROSTER_FILE"]; ok {
		return provision.LoadRoster(filename)
	}
	return provision.DefaultRoster(), nil
}

func provisionDrivers(ctx context.Context, env *environment, args map[string]string, skipAssign bool) error {
	candidates, err := loadRoster(args)
	if err != nil {
		return err
	}
	p := provision.Provisioner{
		Session:    env.session,
		Candidates: candidates,
		Domain:     env.config.DriverDomain,
		Password:   env.config.DriverPassword,
		Rand:       env.rng,
		Out:        env.out,
		SkipAssign: skipAssign,
	}
	report, err := p.Run(ctx)
	if report != nil {
		fmt.Fprintln(env.out)
		if printErr := report.Print(env.out); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}
	if !report.OK() {
		return ErrItemsFailed
	}
	return nil
}

var commands = map[string]*Command{
	"test-connection": &Command{
		help: "Authenticate and count the devices in the database",
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			devices, err := env.session.Get(ctx, "Device", nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.out, "Connected to database %s on %s\n", env.session.Database(), env.session.Host())
			fmt.Fprintf(env.out, "Found %d vehicles\n", len(devices))
			return nil
		},
	},
	"list-vehicles": &Command{
		help: "List every device with its id",
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			devices, err := fleet.ListDevices(ctx, env.session)
			if err != nil {
				return err
			}
			return fleet.PrintDevices(env.out, devices)
		},
	},
	"rename-vehicles": &Command{
		help: "Rename devices, in id order, from a list of names",
		optional: []Argument{
			Argument{name: "NAMES_FILE", help: "JSON array of names. Defaults to the built-in list of 50 trucks."},
		},
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			names := fleet.DefaultNames()
			if filename, ok := args["NAMES_FILE"]; ok {
				var err error
				if names, err = fleet.LoadNames(filename); err != nil {
					return err
				}
			}
			devices, err := fleet.ListDevices(ctx, env.session)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.out, "Found %d vehicles. Renaming...\n", len(devices))
			result := fleet.Apply(ctx, env.session, fleet.Plan(devices, names), env.out)
			fmt.Fprintf(env.out, "Renamed: %d | Failed: %d\n", result.Renamed, result.Failed)
			if result.Failed > 0 {
				return ErrItemsFailed
			}
			return nil
		},
	},
	"provision-drivers": &Command{
		help:              "Create drivers that do not exist yet and assign them to devices at random",
		requiresProvision: true,
		optional: []Argument{
			Argument{name: "ROSTER_FILE", help: "JSON array of {\"first\", \"last\"} objects. Defaults to the built-in roster."},
		},
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			return provisionDrivers(ctx, env, args, false)
		},
	},
	"create-drivers": &Command{
		help:              "Create drivers that do not exist yet without assigning them",
		requiresProvision: true,
		optional: []Argument{
			Argument{name: "ROSTER_FILE", help: "JSON array of {\"first\", \"last\"} objects. Defaults to the built-in roster."},
		},
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			return provisionDrivers(ctx, env, args, true)
		},
	},
}
