// Package rotor describes antenna rotators and loads their descriptors from
// a directory of TOML files, one per device, named <name>.rot.
package rotor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrNotFound is returned when no descriptor exists for a name.
var ErrNotFound = errors.New("rotor descriptor not found")

const fileExt = ".rot"

// AzType is the azimuth window a rotor can address.
type AzType int

const (
	// Full360 addresses [0, 360).
	Full360 AzType = iota
	// PlusMinus180 addresses [-180, 180).
	PlusMinus180
)

func (t AzType) String() string {
	switch t {
	case Full360:
		return "360"
	case PlusMinus180:
		return "180"
	default:
		return fmt.Sprintf("AzType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t AzType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts "360" / "0-360" and "180" / "+-180".
func (t *AzType) UnmarshalText(b []byte) error {
	switch strings.TrimSpace(string(b)) {
	case "360", "0-360", "full360":
		*t = Full360
	case "180", "+-180", "-180-180", "plusminus180":
		*t = PlusMinus180
	default:
		return fmt.Errorf("unknown azimuth type %q", string(b))
	}
	return nil
}

// Config is an immutable rotor device descriptor.
type Config struct {
	Name   string  `toml:"-"      json:"name"`
	Host   string  `toml:"host"   json:"host"`
	Port   int     `toml:"port"   json:"port"`
	AzType AzType  `toml:"az_type" json:"az_type"`
	MinAz  float64 `toml:"min_az" json:"min_az"`
	MaxAz  float64 `toml:"max_az" json:"max_az"`
	MinEl  float64 `toml:"min_el" json:"min_el"`
	MaxEl  float64 `toml:"max_el" json:"max_el"`
}

// CanInvert reports whether the elevation travel reaches past zenith far
// enough to serve a flipped pass.
func (c Config) CanInvert() bool {
	return c.MaxEl >= 180
}

// Addr returns host:port for dialing rotctld.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the descriptor for values the engine cannot work with.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MinAz >= c.MaxAz {
		return fmt.Errorf("min_az %.2f must be below max_az %.2f", c.MinAz, c.MaxAz)
	}
	if c.MinEl >= c.MaxEl {
		return fmt.Errorf("min_el %.2f must be below max_el %.2f", c.MinEl, c.MaxEl)
	}
	return nil
}

// defaults mirror a common az/el rotator on a 0-360 range.
func defaults() Config {
	return Config{
		Host:   "localhost",
		Port:   4533,
		AzType: Full360,
		MinAz:  0,
		MaxAz:  360,
		MinEl:  0,
		MaxEl:  90,
	}
}

// Store enumerates and loads descriptors from a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the descriptor directory.
func (s *Store) Dir() string { return s.dir }

// List returns the sorted names of all descriptors. A missing directory is
// an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// HasAny reports whether at least one descriptor exists.
func (s *Store) HasAny() bool {
	names, err := s.List()
	return err == nil && len(names) > 0
}

// Load reads and validates the named descriptor.
func (s *Store) Load(name string) (Config, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return Config{}, fmt.Errorf("invalid rotor name %q", name)
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name+fileExt))
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Config{}, err
	}

	cfg := defaults()
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", name, err)
	}
	cfg.Name = name
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}
