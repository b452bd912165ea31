package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultServerURL = "http://localhost:5000"
	defaultProfile   = "local"
)

// Profile is one cosmicwatch server the console can talk to.
type Profile struct {
	URL         string    `yaml:"url"`
	Description string    `yaml:"description,omitempty"`
	Token       string    `yaml:"token,omitempty"`
	AddedAt     time.Time `yaml:"added_at,omitempty"`
}

// Config is the console's persisted profile list.
type Config struct {
	Current  string             `yaml:"current"`
	Profiles map[string]Profile `yaml:"profiles"`

	path string
}

// DefaultConfigPath returns ~/.cosmicwatch/config.yaml; COSMICWATCH_HOME replaces the directory.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("COSMICWATCH_HOME"); dir != "" {
		return filepath.Join(dir, "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".cosmicwatch", "config.yaml"), nil
}

// LoadConfig loads the console configuration from the default location.
func LoadConfig() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom reads path. A missing file yields a single "local" profile,
// which is written back so the user has something to edit.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := &Config{path: path, Profiles: map[string]Profile{}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.Current = defaultProfile
		cfg.Profiles[defaultProfile] = Profile{URL: defaultServerURL, Description: "Local cosmicwatch server"}
		return cfg, cfg.Save()
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

// Save writes the file with owner-only permissions since profiles may hold tokens.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, out, 0600)
}

// Upsert adds or replaces a profile, keeping any saved token. The first
// profile becomes current.
func (c *Config) Upsert(name, url, description string) error {
	switch {
	case name == "":
		return errors.New("profile name is required")
	case url == "":
		return errors.New("profile URL is required")
	}

	p, existed := c.Profiles[name]
	p.URL, p.Description = url, description
	if !existed {
		p.AddedAt = time.Now().UTC().Truncate(time.Second)
	}
	c.Profiles[name] = p
	if c.Current == "" {
		c.Current = name
	}
	return c.Save()
}

// Remove deletes a profile. Removing the current one switches to the
// alphabetically first remaining profile.
func (c *Config) Remove(name string) error {
	if _, err := c.Resolve(name); err != nil {
		return err
	}
	delete(c.Profiles, name)
	if c.Current == name {
		c.Current = ""
		if names := c.Names(); len(names) > 0 {
			c.Current = names[0]
		}
	}
	return c.Save()
}

// Use makes name the current profile.
func (c *Config) Use(name string) error {
	if _, err := c.Resolve(name); err != nil {
		return err
	}
	c.Current = name
	return c.Save()
}

// SaveToken stores an access token on a profile.
func (c *Config) SaveToken(name, token string) error {
	p, err := c.Resolve(name)
	if err != nil {
		return err
	}
	p.Token = token
	c.Profiles[name] = p
	return c.Save()
}

// Resolve returns the named profile; empty means the current one.
func (c *Config) Resolve(name string) (Profile, error) {
	if name == "" {
		name = c.Current
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// Names lists profile names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
