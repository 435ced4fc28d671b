package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/chargers"
	"github.com/fleetflea/geotab-admin/pkg/cli"
)

const defaultOutput = "ev-chargers.json"

const (
	EnvKey      = "OCM_API_KEY"
	EnvOutput   = "OCM_OUTPUT_FILE"
	EnvParallel = "OCM_PARALLEL"
)

type FetchConfig struct {
	key      string
	output   string
	envFile  string
	parallel int
	verbose  bool
}

var (
	fetchConfig = &FetchConfig{}
)

func init() {
	flag.StringVar(&fetchConfig.key, "key", "", "Open Charge Map API `key`. Defaults to $"+EnvKey+".")
	flag.StringVar(&fetchConfig.output, "out", defaultOutput, "Output `file`")
	flag.StringVar(&fetchConfig.envFile, "env-file", "", "Load environment variables from `file`. Defaults to "+cli.DefaultEnvFile+" if present.")
	flag.IntVar(&fetchConfig.parallel, "parallel", chargers.DefaultParallel, "Maximum number of regions to query at once")
	flag.BoolVar(&fetchConfig.verbose, "verbose", false, "Enable verbose logging")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nFetches public EV charging stations around each fleet region and writes them to a JSON file.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

func main() {
	var err error
	defer func() {
		log.Sync()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	flag.Parse()
	if err = loadEnvFile(fetchConfig.envFile); err != nil {
		return
	}
	if err = readFromEnvironment(); err != nil {
		return
	}
	if fetchConfig.verbose {
		log.SetLevel(log.LevelDebug)
	}
	if fetchConfig.key == "" {
		err = fmt.Errorf("%w: use -key or $%s", chargers.ErrNoKey, EnvKey)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fetcher := chargers.NewFetcher(fetchConfig.key)
	fetcher.Parallel = fetchConfig.parallel
	stations, results, err := fetcher.Fetch(ctx, chargers.DefaultRegions)
	if err != nil {
		return
	}
	chargers.PrintResults(os.Stdout, results)

	var size int
	if size, err = chargers.WriteFile(fetchConfig.output, stations); err != nil {
		return
	}
	fmt.Printf("\nSaved %d stations to %s\n", len(stations), fetchConfig.output)
	fmt.Printf("File size: %.0f KB\n", float64(size)/1024)
}

func loadEnvFile(filename string) error {
	explicit := filename != ""
	if !explicit {
		filename = cli.DefaultEnvFile
	}
	if err := godotenv.Load(filename); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// readFromEnvironment applies configuration from environment variables.
// Values are not overwritten.
func readFromEnvironment() error {
	if fetchConfig.key == "" {
		fetchConfig.key = os.Getenv(EnvKey)
	}

	if fetchConfig.output == defaultOutput {
		if output, ok := os.LookupEnv(EnvOutput); ok && output != "" {
			fetchConfig.output = output
		}
	}

	if !fetchConfig.verbose {
		fetchConfig.verbose = cli.Verbose()
	}

	if fetchConfig.parallel == chargers.DefaultParallel {
		if parallel, ok := os.LookupEnv(EnvParallel); ok {
			n, err := strconv.Atoi(parallel)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid parallelism: %s", parallel)
			}
			fetchConfig.parallel = n
		}
	}

	return nil
}
