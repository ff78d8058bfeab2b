// Package config loads the per-project volt.toml and the user's server
// profiles.
package config

import (
	"errors"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/theMackabu/volt/internal/errs"
)

// DefaultProjectFile is looked up in the working directory.
const DefaultProjectFile = "volt.toml"

const template = `volt_id = "{volt_id}"

[settings]
server = "default"
cache = ["dist"]
hash = []
wrap = "npm run build"
`

var (
	// ErrCreated is returned after a missing project file was written from
	// the template.
	ErrCreated = errors.New("volt: created a new config, please fill it out")
	// ErrUnedited is returned when the project file still equals the
	// template apart from its volt_id.
	ErrUnedited = errors.New("volt: config matches the default template, please edit it")
)

type Project struct {
	VoltID   string   `toml:"volt_id"`
	Settings Settings `toml:"settings"`

	path string
}

type Settings struct {
	// Server names a profile in the servers directory.
	Server string `toml:"server"`
	// Cache lists the directories that are archived and restored.
	Cache []string `toml:"cache"`
	// Hash lists the directories fingerprinted on pull. Empty means Cache.
	Hash []string `toml:"hash"`
	// Wrap is the build command run through sh -c.
	Wrap string `toml:"wrap"`
}

// LoadProject reads the project file at path. A missing file is created from
// the template with a fresh slot id and ErrCreated is returned alongside it.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return create(path)
	case err != nil:
		return nil, errs.Errorf(errs.Configuration, "load config", "could not read config file '%s': %w", path, err)
	}

	var p Project
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, errs.Errorf(errs.Configuration, "load config", "could not decode config file '%s': %w", path, err)
	}
	p.path = path

	unedited, err := matchesTemplate(string(data))
	if err != nil {
		return nil, errs.E(errs.Configuration, "load config", err)
	}
	if unedited {
		return &p, ErrUnedited
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func create(path string) (*Project, error) {
	content := strings.ReplaceAll(template, "{volt_id}", uuid.NewString())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, errs.Errorf(errs.Configuration, "create config", "could not write config file '%s': %w", path, err)
	}

	var p Project
	if _, err := toml.Decode(content, &p); err != nil {
		return nil, errs.E(errs.Configuration, "create config", err)
	}
	p.path = path
	return &p, ErrCreated
}

func matchesTemplate(content string) (bool, error) {
	var current, def map[string]any
	if _, err := toml.Decode(content, &current); err != nil {
		return false, err
	}
	if _, err := toml.Decode(template, &def); err != nil {
		return false, err
	}
	delete(current, "volt_id")
	delete(def, "volt_id")
	return reflect.DeepEqual(current, def), nil
}

// Validate checks the slot id and that there is something to cache.
func (p *Project) Validate() error {
	if _, err := uuid.Parse(p.VoltID); err != nil {
		return errs.Errorf(errs.Configuration, "validate config", "invalid volt_id %q: %v", p.VoltID, err)
	}
	if len(p.Settings.Cache) == 0 {
		return errs.Errorf(errs.Configuration, "validate config", "no cache directories configured")
	}
	if p.Settings.Server == "" {
		return errs.Errorf(errs.Configuration, "validate config", "no server profile configured")
	}
	return nil
}

// Slot returns the parsed volt_id.
func (p *Project) Slot() uuid.UUID {
	id, _ := uuid.Parse(p.VoltID)
	return id
}

// FingerprintDirs returns the directories a pull fingerprints.
func (p *Project) FingerprintDirs() []string {
	if len(p.Settings.Hash) > 0 {
		return p.Settings.Hash
	}
	return p.Settings.Cache
}

func (p *Project) Path() string { return p.path }
