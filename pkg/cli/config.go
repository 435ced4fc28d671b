/*
Package cli facilitates building command-line tools that administer a MyGeotab database. It defines
a [Config] type that registers common command-line flags (using the Golang flag package) and their
environment variable equivalents.

Values are resolved in this order: command-line flags, environment variables, a dotenv file (loaded
into the environment by [Config.LoadEnvFile]), the system keyring, and finally an interactive
prompt. The package uses [keyring]'s platform-agnostic interface to store the account password in
an OS-dependent credential store.

# Examples

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds -server, -database, -user, etc.
	flag.Parse()
	if err := config.LoadEnvFile(); err != nil { // Copies .env into the environment
		panic(err)
	}
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	config.LoadCredentials()          // Reads the password from the keyring or prompts for it

	session, err := config.Connect(ctx)
	if err != nil {
		panic(err)
	}
	defer config.UpdateCachedCredentials()

Use a [Flag] mask to control which [Config] fields are populated. Note that config.Flags must be
set before calling [flag.Parse] or [Config.ReadFromEnvironment].
*/
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/99designs/keyring"
	"github.com/joho/godotenv"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/cache"
	"github.com/fleetflea/geotab-admin/pkg/geotab"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvServer         = "GEOTAB_SERVER"
	EnvDatabase       = "GEOTAB_DATABASE"
	EnvUserName       = "GEOTAB_USERNAME"
	EnvPassword       = "GEOTAB_PASSWORD"
	EnvCacheFile      = "GEOTAB_CACHE_FILE"
	EnvKeyringType    = "GEOTAB_KEYRING_TYPE"
	EnvKeyringPass    = "GEOTAB_KEYRING_PASSWORD"
	EnvKeyringPath    = "GEOTAB_KEYRING_PATH"
	EnvKeyringDebug   = "GEOTAB_KEYRING_DEBUG"
	EnvDriverDomain   = "GEOTAB_DRIVER_EMAIL_DOMAIN"
	EnvDriverPassword = "GEOTAB_DRIVER_PASSWORD"
	EnvVerbose        = "GEOTAB_VERBOSE"
)

// DefaultEnvFile is loaded by [Config.LoadEnvFile] when -env-file is not given. It may be absent.
const DefaultEnvFile = ".env"

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagServer    Flag = 1 // Enable server, database, user and session cache options.
	FlagPassword  Flag = 2 // Enable keyring options for the account password.
	FlagProvision Flag = 4 // Enable options for newly created drivers.
	FlagAll       Flag = FlagServer | FlagPassword | FlagProvision
)

var (
	ErrNoCredentials = errors.New("database and user name required")
	ErrNoPassword    = errors.New("no password available")
	ErrKeyNotFound   = keyring.ErrKeyNotFound
)

// Config fields determine how a client logs in to MyGeotab.
type Config struct {
	Flags         Flag // Controls which set of environment variables/CLI flags to use.
	Server        string
	Database      string
	UserName      string
	Password      string // Never read from the command line.
	CacheFilename string
	EnvFilename   string
	UseKeyring    bool // Look up the account password in the system keyring.
	Backend       keyring.Config
	BackendType   backendType
	Debug         bool // Enable keyring debug messages

	// Settings for drivers created by provisioning commands.
	DriverDomain   string
	DriverPassword string

	keyringPassword *string
	credentials     *cache.CredentialCache
	session         *geotab.Session
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getKeyringPassword
	c.Backend.FilePasswordFunc = c.getKeyringPassword

	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	flag.StringVar(&c.EnvFilename, "env-file", "", "Load environment variables from `file`. Defaults to "+DefaultEnvFile+" if present.")
	if c.Flags.isSet(FlagServer) {
		flag.StringVar(&c.Server, "server", "", "MyGeotab `host`. Defaults to $GEOTAB_SERVER or "+geotab.DefaultServer+".")
		flag.StringVar(&c.Database, "database", "", "Database `name`. Defaults to $GEOTAB_DATABASE.")
		flag.StringVar(&c.UserName, "user", "", "Account user `name`. Defaults to $GEOTAB_USERNAME.")
		flag.StringVar(&c.CacheFilename, "session-cache", "", "Load session cache from `file`. Defaults to $GEOTAB_CACHE_FILE.")
	}
	if c.Flags.isSet(FlagPassword) {
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.BoolVar(&c.UseKeyring, "keyring", false, "Read the account password from the system keyring")
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $GEOTAB_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	if c.Flags.isSet(FlagProvision) {
		flag.StringVar(&c.DriverDomain, "driver-domain", "", "Email `domain` for new driver logins. Defaults to $GEOTAB_DRIVER_EMAIL_DOMAIN.")
	}
}

// LoadEnvFile copies variables from c.EnvFilename (or [DefaultEnvFile]) into the process
// environment without overriding variables that are already set. A missing default file is not an
// error.
func (c *Config) LoadEnvFile() error {
	filename := c.EnvFilename
	if filename == "" {
		filename = DefaultEnvFile
	}
	err := godotenv.Load(filename)
	if err == nil {
		log.Debug("Loaded environment from %s", filename)
		return nil
	}
	if c.EnvFilename == "" && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", filename, err)
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagServer) {
		if c.Server == "" {
			c.Server = os.Getenv(EnvServer)
			log.Debug("Set server to '%s'", c.Server)
		}
		if c.Database == "" {
			c.Database = os.Getenv(EnvDatabase)
			log.Debug("Set database to '%s'", c.Database)
		}
		if c.UserName == "" {
			c.UserName = os.Getenv(EnvUserName)
			log.Debug("Set user name to '%s'", c.UserName)
		}
		if c.Password == "" {
			c.Password = os.Getenv(EnvPassword)
			if len(c.Password) > 0 {
				log.Debug("Set password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.CacheFilename == "" {
			c.CacheFilename = os.Getenv(EnvCacheFile)
			log.Debug("Set session cache file to '%s'", c.CacheFilename)
		}
	}
	if c.Flags.isSet(FlagPassword) {
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil && c.BackendType.String() != string(keyring.InvalidBackend) {
				c.UseKeyring = true
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.keyringPassword == nil {
			password := os.Getenv(EnvKeyringPass)
			c.keyringPassword = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
	if c.Flags.isSet(FlagProvision) {
		if c.DriverDomain == "" {
			c.DriverDomain = os.Getenv(EnvDriverDomain)
			log.Debug("Set driver email domain to '%s'", c.DriverDomain)
		}
		if c.DriverPassword == "" {
			c.DriverPassword = os.Getenv(EnvDriverPassword)
		}
	}
}

// Verbose returns true if $GEOTAB_VERBOSE is set to a true value.
func Verbose() bool {
	switch strings.ToLower(os.Getenv(EnvVerbose)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// LoadCredentials makes sure a password is available when one will be needed. Call this method
// before [Config.Connect] to prevent interactive prompts from counting against timeouts.
//
// No password is required when the session cache already holds a session for the account.
func (c *Config) LoadCredentials() error {
	if c.Database == "" || c.UserName == "" {
		return ErrNoCredentials
	}
	if c.Password != "" {
		return nil
	}
	if c.UseKeyring {
		password, err := c.LoadPasswordFromKeyring()
		if err == nil {
			c.Password = password
			return nil
		}
		log.Warning("Could not read password from keyring: %s", err)
	}
	if err := c.loadCache(); err != nil {
		return err
	}
	if _, ok := c.credentials.GetEntry(c.cacheKey()); ok {
		log.Debug("Found cached session for %s", c.UserName)
		return nil
	}
	password, err := readSecret(fmt.Sprintf("Password for %s on %s", c.UserName, c.Database))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoPassword, err)
	}
	c.Password = password
	return nil
}

// server returns the host the session will use, so cache and keyring entries match the ones the
// session writes.
func (c *Config) server() string {
	host, err := geotab.NormalizeServer(c.Server)
	if err != nil {
		// geotab.New rejects it later with a descriptive error.
		return c.Server
	}
	return host
}

func (c *Config) cacheKey() string {
	return cache.Key(c.server(), c.Database, c.UserName)
}

func (c *Config) loadCache() error {
	if c.credentials != nil {
		return nil
	}
	if c.CacheFilename == "" {
		c.credentials = cache.New(0)
		return nil
	}
	log.Debug("Loading cache from %s...", c.CacheFilename)
	var err error
	c.credentials, err = cache.ImportFromFile(c.CacheFilename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load session cache: %s", err)
		}
		// Create a new cache if one couldn't be loaded from the file
		c.credentials = cache.New(0)
	}
	return nil
}

// Session returns the configured, not yet authenticated, session. The same session is returned by
// subsequent calls.
func (c *Config) Session() (*geotab.Session, error) {
	if c.session != nil {
		return c.session, nil
	}
	if c.Database == "" || c.UserName == "" {
		return nil, ErrNoCredentials
	}
	if err := c.loadCache(); err != nil {
		return nil, err
	}
	session, err := geotab.New(geotab.Config{
		Server:   c.server(),
		Database: c.Database,
		UserName: c.UserName,
		Password: c.Password,
		Cache:    c.credentials,
	})
	if err != nil {
		return nil, err
	}
	c.session = session
	return session, nil
}

// Connect returns a session that is ready to use, authenticating unless a cached session exists.
// Authentication failures are returned as is; callers treat them as fatal.
func (c *Config) Connect(ctx context.Context) (*geotab.Session, error) {
	session, err := c.Session()
	if err != nil {
		return nil, err
	}
	if err := session.Connect(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateCachedCredentials writes the session cache back to c.CacheFilename.
//
// If c.CacheFilename is not set or no session was created, then this method does nothing.
func (c *Config) UpdateCachedCredentials() {
	if c.CacheFilename != "" && c.credentials != nil {
		if err := c.credentials.ExportToFile(c.CacheFilename); err != nil {
			log.Error("Error updating cache: %s", err)
		}
	}
}
