// Package geotab is a minimal client for the MyGeotab JSON-RPC API.
//
// A [Session] is constructed explicitly and passed to every caller; the package keeps no global
// session state. Records are exchanged as opaque [Entity] maps.
package geotab

import (
	"context"
	_ "embed" // Used to embed version for use with user agent
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/cache"
	"github.com/fleetflea/geotab-admin/pkg/protocol"
)

var (
	//go:embed version.txt
	libraryVersion string
)

// DefaultServer is the federation entry point. Authenticate redirects to the server that
// actually hosts the database.
const DefaultServer = "my.geotab.com"

// DefaultTimeout bounds each HTTP round trip when no client is supplied.
const DefaultTimeout = 60 * time.Second

// thisServer is the path value returned when the entry server also hosts the database.
const thisServer = "ThisServer"

// maxAttempts bounds how often a call rejected for a transient reason (rate limit, database
// briefly unavailable) is sent.
const maxAttempts = 3

// retryDelay is the wait before the second attempt; it doubles for each further attempt.
var retryDelay = 2 * time.Second

var (
	ErrNoPassword    = errors.New("password required to authenticate")
	ErrNoDatabase    = errors.New("database name required")
	ErrNoUserName    = errors.New("user name required")
	ErrInvalidServer = errors.New("server returned an invalid host name")
)

var domainRegEx = regexp.MustCompile(`^[A-Za-z0-9-.]+(:[0-9]+)?$`) // We're mostly interested in stopping paths; the http package handles the rest.

func buildUserAgent(app string) string {
	library := strings.TrimSpace("geotab-admin/" + libraryVersion)
	if app != "" {
		return fmt.Sprintf("%s %s", app, library)
	}
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 || path[len(path)-1] == "" {
		return library
	}
	app = path[len(path)-1]
	var version string
	if build.Main.Version != "(devel)" && build.Main.Version != "" {
		version = build.Main.Version
	} else {
		for _, info := range build.Settings {
			if info.Key == "vcs.revision" {
				if len(info.Value) > 8 {
					version = info.Value[0:8]
				}
				break
			}
		}
	}
	if version != "" {
		app = fmt.Sprintf("%s/%s", app, version)
	}
	return fmt.Sprintf("%s %s", app, library)
}

// NormalizeServer returns the host name calls to server are sent to, without scheme or trailing
// slash. An empty server means DefaultServer.
func NormalizeServer(server string) (string, error) {
	host := strings.TrimSpace(server)
	if host == "" {
		return DefaultServer, nil
	}
	host, _ = strings.CutPrefix(host, "https://")
	host, _ = strings.CutSuffix(host, "/")
	if !domainRegEx.MatchString(host) {
		return "", fmt.Errorf("%w: %q", ErrInvalidServer, server)
	}
	return host, nil
}

// Config describes how to reach and log in to a database.
type Config struct {
	Server    string // Defaults to DefaultServer.
	Database  string
	UserName  string
	Password  string // May be empty when the cache holds a live session.
	UserAgent string // Optional application name; the library version is appended.

	// Cache, when set, is consulted by Connect and updated after every successful Authenticate.
	Cache *cache.CredentialCache
	// Client overrides the HTTP client, e.g. for tests.
	Client *http.Client
}

// Session is an authenticated connection to one MyGeotab database.
type Session struct {
	// The default UserAgent is constructed from build info, but can be overridden.
	UserAgent string
	// Server is the host calls are sent to. Authenticate may change it.
	Server string

	entryServer string
	database    string
	userName    string
	password    string
	credentials *Credentials
	client      *http.Client
	cache       *cache.CredentialCache
}

// New returns an unauthenticated Session. Call [Session.Connect] or [Session.Authenticate] before
// issuing calls.
func New(cfg Config) (*Session, error) {
	if cfg.Database == "" {
		return nil, ErrNoDatabase
	}
	if cfg.UserName == "" {
		return nil, ErrNoUserName
	}
	server, err := NormalizeServer(cfg.Server)
	if err != nil {
		return nil, err
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Session{
		UserAgent:   buildUserAgent(cfg.UserAgent),
		Server:      server,
		entryServer: server,
		database:    cfg.Database,
		userName:    cfg.UserName,
		password:    cfg.Password,
		client:      client,
		cache:       cfg.Cache,
	}, nil
}

func (s *Session) cacheKey() string {
	return cache.Key(s.entryServer, s.database, s.userName)
}

// Database returns the name of the database the session targets.
func (s *Session) Database() string {
	return s.database
}

// Host returns the server calls are currently sent to.
func (s *Session) Host() string {
	return s.Server
}

// Credentials returns the current session credentials, or nil before authentication.
func (s *Session) Credentials() *Credentials {
	return s.credentials
}

// Connect reuses a cached session when one exists and authenticates otherwise.
//
// A cached session is not verified here; if it has expired, the first call re-authenticates
// (provided a password is available).
func (s *Session) Connect(ctx context.Context) error {
	if s.credentials != nil {
		return nil
	}
	if s.cache != nil {
		if entry, ok := s.cache.GetEntry(s.cacheKey()); ok && entry.SessionID != "" {
			log.Debug("Using cached session for %s on %s", s.userName, entry.Server)
			s.credentials = &Credentials{Database: s.database, UserName: s.userName, SessionID: entry.SessionID}
			if entry.Server != "" {
				s.Server = entry.Server
			}
			return nil
		}
	}
	return s.Authenticate(ctx)
}

// send issues one call, repeating it while the error says a retry is safe and useful.
func (s *Session) send(ctx context.Context, server, method string, params, result interface{}) error {
	delay := retryDelay
	for attempt := 1; ; attempt++ {
		err := SendRPC(ctx, s.client, s.UserAgent, server, method, params, result)
		if err == nil || attempt == maxAttempts || !protocol.ShouldRetry(err) {
			return err
		}
		log.Info("%s failed (%s), retrying in %s...", method, err, delay)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

type authenticateResult struct {
	Credentials Credentials `json:"credentials"`
	Path        string      `json:"path"`
}

// Authenticate logs in with the configured password, replacing any existing credentials.
func (s *Session) Authenticate(ctx context.Context) error {
	if s.password == "" {
		return ErrNoPassword
	}
	params := map[string]string{
		"database": s.database,
		"userName": s.userName,
		"password": s.password,
	}
	var result authenticateResult
	log.Info("Authenticating %s against %s on %s...", s.userName, s.database, s.entryServer)
	if err := s.send(ctx, s.entryServer, "Authenticate", params, &result); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if result.Credentials.SessionID == "" {
		return fmt.Errorf("authentication failed: %w: missing session id", protocol.ErrBadResponse)
	}
	server := s.entryServer
	if result.Path != "" && result.Path != thisServer {
		if !domainRegEx.MatchString(result.Path) {
			return fmt.Errorf("%w: %q", ErrInvalidServer, result.Path)
		}
		log.Debug("Database %s is hosted on %s", s.database, result.Path)
		server = result.Path
	}
	if result.Credentials.Database == "" {
		result.Credentials.Database = s.database
	}
	if result.Credentials.UserName == "" {
		result.Credentials.UserName = s.userName
	}
	s.Server = server
	s.credentials = &result.Credentials
	if s.cache != nil {
		s.cache.Update(s.cacheKey(), cache.Entry{
			SessionID: result.Credentials.SessionID,
			Server:    server,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

// invoke sends an authenticated call. An InvalidUserException caused by an expired session is
// answered with one re-authentication and a replay of the call.
func (s *Session) invoke(ctx context.Context, method string, params map[string]interface{}, result interface{}) error {
	if s.credentials == nil {
		return protocol.ErrNotAuthenticated
	}
	params["credentials"] = s.credentials
	err := s.send(ctx, s.Server, method, params, result)
	var rpcErr *RPCError
	if err == nil || !errors.As(err, &rpcErr) || !rpcErr.Has(ExceptionInvalidUser) {
		return err
	}
	if s.cache != nil {
		s.cache.Remove(s.cacheKey())
	}
	if s.password == "" {
		return err
	}
	log.Info("Session expired, re-authenticating...")
	if authErr := s.Authenticate(ctx); authErr != nil {
		return authErr
	}
	params["credentials"] = s.credentials
	return s.send(ctx, s.Server, method, params, result)
}

// Get returns all entities of typeName matching search (nil for no filter).
func (s *Session) Get(ctx context.Context, typeName string, search interface{}) ([]Entity, error) {
	params := map[string]interface{}{"typeName": typeName}
	if search != nil {
		params["search"] = search
	}
	var entities []Entity
	if err := s.invoke(ctx, "Get", params, &entities); err != nil {
		return nil, fmt.Errorf("get %s: %w", typeName, err)
	}
	return entities, nil
}

// Add creates entity and returns its server-assigned id.
func (s *Session) Add(ctx context.Context, typeName string, entity interface{}) (string, error) {
	params := map[string]interface{}{"typeName": typeName, "entity": entity}
	var id string
	if err := s.invoke(ctx, "Add", params, &id); err != nil {
		return "", fmt.Errorf("add %s: %w", typeName, err)
	}
	if id == "" {
		err := &protocol.CommandError{Err: fmt.Errorf("%w: missing id", protocol.ErrBadResponse), PossibleSuccess: true, PossibleTemporary: false}
		return "", fmt.Errorf("add %s: %w", typeName, err)
	}
	return id, nil
}

// Set updates entity in place. The entity must carry its id.
func (s *Session) Set(ctx context.Context, typeName string, entity interface{}) error {
	params := map[string]interface{}{"typeName": typeName, "entity": entity}
	if err := s.invoke(ctx, "Set", params, nil); err != nil {
		return fmt.Errorf("set %s: %w", typeName, err)
	}
	return nil
}
