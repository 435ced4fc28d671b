package provision

import (
	_ "embed" // Default roster
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/fleetflea/geotab-admin/pkg/geotab"
)

//go:embed roster.json
var defaultRoster []byte

var (
	ErrEmptyName     = errors.New("name normalizes to an empty string")
	ErrInvalidDomain = errors.New("invalid email domain")
)

// Candidate describes a person to be provisioned as a driver.
type Candidate struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

func (c Candidate) String() string {
	return strings.TrimSpace(c.First + " " + c.Last)
}

// DefaultRoster returns the built-in list of demo drivers.
func DefaultRoster() []Candidate {
	candidates, err := parseRoster(defaultRoster)
	if err != nil {
		panic(fmt.Sprintf("embedded roster is invalid: %s", err))
	}
	return candidates
}

// LoadRoster reads a JSON array of {"first", "last"} objects.
func LoadRoster(filename string) ([]Candidate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	candidates, err := parseRoster(data)
	if err != nil {
		return nil, fmt.Errorf("invalid roster %s: %w", filename, err)
	}
	return candidates, nil
}

func parseRoster(data []byte) ([]Candidate, error) {
	var candidates []Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// Letters that NFD does not decompose into an ASCII base.
var foldedLetters = map[rune]string{
	'ß': "ss",
	'æ': "ae",
	'œ': "oe",
	'ø': "o",
	'ł': "l",
	'đ': "d",
	'ð': "d",
	'þ': "th",
	'ı': "i",
}

// normalizePart lower-cases s, strips diacritics and drops every rune outside [a-z0-9]. Hyphens,
// spaces and apostrophes are all removed, so "Al-Rashid", "Al Rashid" and "AlRashid" agree.
func normalizePart(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteString(foldedLetters[r])
		}
	}
	return b.String()
}

func normalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "@")
	if d == "" || strings.ContainsAny(d, "@ \t/") || !strings.Contains(d, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return d, nil
}

// DeriveKey returns the login of c: "first.last@domain", lower case. Every caller uses this one
// rule, so a candidate always maps to the same key.
func DeriveKey(c Candidate, domain string) (string, error) {
	d, err := normalizeDomain(domain)
	if err != nil {
		return "", err
	}
	first, last := normalizePart(c.First), normalizePart(c.Last)
	if first == "" || last == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyName, c.String())
	}
	return first + "." + last + "@" + d, nil
}

// KeySet is the set of logins already taken. Membership is case-insensitive.
type KeySet map[string]struct{}

// NewKeySet collects the names of existing users.
func NewKeySet(users []geotab.Entity) KeySet {
	keys := make(KeySet, len(users))
	for _, u := range users {
		keys.Add(u.Name())
	}
	return keys
}

func (k KeySet) Has(key string) bool {
	_, ok := k[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

func (k KeySet) Add(key string) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key != "" {
		k[key] = struct{}{}
	}
}
