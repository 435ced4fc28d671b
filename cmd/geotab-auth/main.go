// Utility for storing the MyGeotab account password in the system keyring

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fleetflea/geotab-admin/pkg/cli"
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [-server host] [-database name] [-user name] [-delete] [file]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Reads the account password from stdin or file and saves it in the system keyring,")
	fmt.Fprintln(w, "where geotab-control -keyring finds it. The database and user name default to")
	fmt.Fprintf(w, "$%s and $%s.\n", cli.EnvDatabase, cli.EnvUserName)
	fmt.Fprintln(w, "")
	flag.PrintDefaults()
}

func main() {
	returnCode := 1
	defer func() {
		os.Exit(returnCode)
	}()

	config, err := cli.NewConfig(cli.FlagServer | cli.FlagPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		return
	}

	var remove bool
	flag.BoolVar(&remove, "delete", false, "Remove the stored password instead of saving one")
	flag.Usage = usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	if err := config.LoadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}
	config.ReadFromEnvironment()

	if config.Database == "" || config.UserName == "" {
		fmt.Fprintf(os.Stderr, "Must provide database and user name using -database and -user or $%s and $%s\n", cli.EnvDatabase, cli.EnvUserName)
		return
	}

	if remove {
		if err := config.DeletePasswordFromKeyring(); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing password from keyring: %s\n", err)
			return
		}
		returnCode = 0
		return
	}

	var password []byte
	switch flag.NArg() {
	case 0:
		password, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading password from stdin: %s\n", err)
			return
		}
	case 1:
		password, err = os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading password from file: %s\n", err)
			return
		}
	default:
		fmt.Fprintln(os.Stderr, "Too many command-line arguments")
		return
	}
	password = bytes.TrimRight(password, "\r\n")
	if len(password) == 0 {
		fmt.Fprintln(os.Stderr, "Password is empty")
		return
	}

	if err := config.SavePasswordToKeyring(string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving password to keyring: %s\n", err)
		return
	}

	returnCode = 0
}
