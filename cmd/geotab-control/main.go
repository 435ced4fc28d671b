package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/cli"
	"github.com/fleetflea/geotab-admin/pkg/protocol"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Every command requires a database and user name (-database/-user or $GEOTAB_DATABASE/$GEOTAB_USERNAME).
 * Commands that create drivers also require -driver-domain and $GEOTAB_DRIVER_PASSWORD.
 * Without a COMMAND, commands are read from stdin until "exit".`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] COMMAND [ARG...]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(env *environment, args []string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := execute(ctx, env, args); err != nil {
		if errors.Is(err, ErrItemsFailed) {
			writeErr("Finished with errors: %s", err)
		} else if protocol.MayHaveSucceeded(err) {
			writeErr("Couldn't verify success: %s", err)
		} else if protocol.Temporary(err) {
			writeErr("Server is busy, try again later: %s", err)
		} else {
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(env *environment, timeout time.Duration) int {
	status := 0
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return status
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		if runCommand(env, args, timeout) != 0 {
			status = 1
		}
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return status
}

func main() {
	status := 1
	defer func() {
		log.Sync()
		os.Exit(status)
	}()

	var (
		debug          bool
		seed           int64
		commandTimeout time.Duration
		connTimeout    time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.Int64Var(&seed, "seed", 0, "Seed for the random device order. Zero picks a seed from the clock.")
	flag.DurationVar(&commandTimeout, "command-timeout", 5*time.Minute, "Set timeout for each command.")
	flag.DurationVar(&connTimeout, "connect-timeout", 20*time.Second, "Set timeout for authenticating.")

	config.RegisterCommandLineFlags()
	flag.Parse()
	if err := config.LoadEnvFile(); err != nil {
		writeErr("%s", err)
		return
	}
	if !debug {
		debug = cli.Verbose()
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	}
	config.ReadFromEnvironment()

	args := flag.Args()
	if len(args) > 0 {
		if args[0] == "help" {
			if len(args) == 1 {
				Usage()
				status = 0
				return
			}
			info, ok := commands[args[1]]
			if !ok {
				writeErr("Unrecognized command: %s", args[1])
				return
			}
			info.Usage(os.Stdout, args[1])
			status = 0
			return
		}
		if _, err := checkReadiness(config, args[0]); err != nil {
			writeErr("Missing required flag: %s", err)
			return
		}
	}

	if err := config.LoadCredentials(); err != nil {
		writeErr("Error loading credentials: %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()

	session, err := config.Connect(ctx)
	if err != nil {
		writeErr("Error: %s", err)
		return
	}
	defer config.UpdateCachedCredentials()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Debug("Using random seed %d", seed)
	env := &environment{
		session: session,
		config:  config,
		rng:     rand.New(rand.NewSource(seed)),
		out:     os.Stdout,
	}

	if flag.NArg() > 0 {
		status = runCommand(env, flag.Args(), commandTimeout)
	} else {
		status = runInteractiveShell(env, commandTimeout)
	}
}
