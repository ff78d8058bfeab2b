package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/theMackabu/volt/internal/errs"
)

// Profile is a named cache server.
type Profile struct {
	Name    string
	TLS     bool
	Address string // host[:port]
	Token   string // empty when the server needs none
}

// ParseProfile parses "[tls://][token@]address[:port]".
func ParseProfile(name, line string) (Profile, error) {
	const op = "parse profile"

	line = strings.TrimSpace(line)
	if line == "" {
		return Profile{}, errs.Errorf(errs.Configuration, op, "server '%s' is empty", name)
	}

	p := Profile{Name: name}
	if scheme, rest, ok := strings.Cut(line, "://"); ok {
		if scheme != "tls" {
			return Profile{}, errs.Errorf(errs.Configuration, op, "server '%s' has unsupported scheme %q", name, scheme)
		}
		p.TLS = true
		line = rest
	}

	if token, address, ok := strings.Cut(line, "@"); ok {
		p.Token = token
		line = address
	}
	if line == "" || strings.ContainsAny(line, "/@ \t") {
		return Profile{}, errs.Errorf(errs.Configuration, op, "server '%s' has invalid address %q", name, line)
	}
	p.Address = line
	return p, nil
}

func (p Profile) String() string {
	var b strings.Builder
	if p.TLS {
		b.WriteString("tls://")
	}
	if p.Token != "" {
		b.WriteString(p.Token)
		b.WriteByte('@')
	}
	b.WriteString(p.Address)
	return b.String()
}

// URL returns the endpoint of route for slot, e.g.
// "https://cache.example.com/pull/<slot>".
func (p Profile) URL(route string, slot uuid.UUID) string {
	scheme := "http"
	if p.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, p.Address, route, slot)
}

// Authorization returns the Authorization header value, empty without a
// token.
func (p Profile) Authorization() string {
	if p.Token == "" {
		return ""
	}
	return "Bearer " + p.Token
}

// Profiles maps profile names to servers.
type Profiles map[string]Profile

// Resolve looks up name.
func (ps Profiles) Resolve(name string) (Profile, error) {
	p, ok := ps[name]
	if !ok {
		return Profile{}, errs.Errorf(errs.Configuration, "resolve profile", "server '%s' does not exist", name)
	}
	return p, nil
}

// Names returns the profile names in order.
func (ps Profiles) Names() []string {
	names := make([]string, 0, len(ps))
	for n := range ps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultServersDir is ~/.volt/servers.
func DefaultServersDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.Errorf(errs.Configuration, "servers dir", "could not find home directory: %w", err)
	}
	return filepath.Join(home, ".volt", "servers"), nil
}

// LoadProfiles reads one profile per regular file in dir. The profile name
// is the file name without extension. A missing dir is created and yields
// no profiles.
func LoadProfiles(dir string) (Profiles, error) {
	const op = "load profiles"

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errs.Errorf(errs.Configuration, op, "could not create servers dir '%s': %w", dir, err)
		}
		return Profiles{}, nil
	}
	if err != nil {
		return nil, errs.Errorf(errs.Configuration, op, "could not read servers dir '%s': %w", dir, err)
	}

	profiles := make(Profiles, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Errorf(errs.Configuration, op, "could not read '%s': %w", path, err)
		}

		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		p, err := ParseProfile(name, string(data))
		if err != nil {
			return nil, err
		}
		profiles[name] = p
	}
	return profiles, nil
}

// SaveProfile writes p to dir, readable only by the owner since it may hold
// a token.
func SaveProfile(dir string, p Profile) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create servers dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, p.Name), []byte(p.String()+"\n"), 0o600)
}
