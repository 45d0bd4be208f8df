// Package config handles loading, defaulting, and validation of the rotortrack
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Server     ServerConfig      `toml:"server"     json:"server"`
	Logging    LoggingConfig     `toml:"logging"    json:"logging"`
	Station    StationConfig     `toml:"station"    json:"station"`
	TLE        TLEConfig         `toml:"tle"        json:"tle"`
	Control    ControlConfig     `toml:"control"    json:"control"`
	Rotors     RotorsConfig      `toml:"rotors"     json:"rotors"`
	Demo       DemoConfig        `toml:"demo"       json:"demo"`
	Satellites []SatelliteConfig `toml:"satellites" json:"satellites"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type LoggingConfig struct {
	Level      string `toml:"level"       json:"level"`
	Format     string `toml:"format"      json:"format"`
	File       string `toml:"file"        json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
}

type StationConfig struct {
	Latitude        float64 `toml:"latitude"          json:"latitude"`
	Longitude       float64 `toml:"longitude"         json:"longitude"`
	Altitude        float64 `toml:"altitude"          json:"altitude"`
	UseGPSD         bool    `toml:"use_gpsd"          json:"use_gpsd"`
	GPSDHost        string  `toml:"gpsd_host"         json:"gpsd_host"`
	GPSDPollSeconds int     `toml:"gpsd_poll_seconds" json:"gpsd_poll_seconds"`
}

type TLEConfig struct {
	URL          string `toml:"url"           json:"url"`
	CacheDir     string `toml:"cache_dir"     json:"cache_dir"`
	RefreshHours int    `toml:"refresh_hours" json:"refresh_hours"`
}

type ControlConfig struct {
	PeriodMS    int     `toml:"period_ms"     json:"period_ms"`
	Tolerance   float64 `toml:"tolerance"     json:"tolerance"`
	Tracking    bool    `toml:"tracking"      json:"tracking"`
	Rotor       string  `toml:"rotor"         json:"rotor"`
	IOTimeoutMS int     `toml:"io_timeout_ms" json:"io_timeout_ms"`
}

// Period returns the control period as a duration.
func (c ControlConfig) Period() time.Duration {
	return time.Duration(c.PeriodMS) * time.Millisecond
}

// IOTimeout returns the rotctld exchange timeout; zero means none.
func (c ControlConfig) IOTimeout() time.Duration {
	return time.Duration(c.IOTimeoutMS) * time.Millisecond
}

type RotorsConfig struct {
	Dir string `toml:"dir" json:"dir"`
}

type DemoConfig struct {
	Enabled       bool    `toml:"enabled"          json:"enabled"`
	Bind          string  `toml:"bind"             json:"bind"`
	AzType        string  `toml:"az_type"          json:"az_type"`
	MaxEl         float64 `toml:"max_el"           json:"max_el"`
	SlewDegPerSec float64 `toml:"slew_deg_per_sec" json:"slew_deg_per_sec"`
}

// SatelliteConfig is one satellite known to the tracker at startup.
type SatelliteConfig struct {
	NoradID           int     `toml:"norad_id"            json:"norad_id"`
	MinContactSeconds float64 `toml:"min_contact_seconds" json:"min_contact_seconds"`
	Queued            bool    `toml:"queued"              json:"queued"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "0.0.0.0:8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  32,
			MaxBackups: 3,
		},
		Station: StationConfig{
			GPSDHost:        "localhost:2947",
			GPSDPollSeconds: 60,
		},
		TLE: TLEConfig{
			URL:          "https://celestrak.org/NORAD/elements/gp.php?GROUP=amateur&FORMAT=tle",
			CacheDir:     "/var/lib/rotortrack",
			RefreshHours: 24,
		},
		Control: ControlConfig{
			PeriodMS:    1000,
			Tolerance:   5.0,
			Tracking:    true,
			IOTimeoutMS: 2000,
		},
		Rotors: RotorsConfig{
			Dir: "/etc/rotortrack/rotors",
		},
		Demo: DemoConfig{
			Enabled:       false,
			Bind:          "127.0.0.1:4533",
			AzType:        "360",
			MaxEl:         180,
			SlewDegPerSec: 6,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return errors.New(`logging.format must be "text" or "json"`)
	}
	if cfg.Station.Latitude < -90 || cfg.Station.Latitude > 90 {
		return errors.New("station.latitude must be between -90 and 90")
	}
	if cfg.Station.Longitude < -180 || cfg.Station.Longitude > 180 {
		return errors.New("station.longitude must be between -180 and 180")
	}
	if cfg.Station.UseGPSD && cfg.Station.GPSDPollSeconds < 1 {
		return errors.New("station.gpsd_poll_seconds must be >= 1")
	}
	if cfg.TLE.RefreshHours < 1 {
		return errors.New("tle.refresh_hours must be >= 1")
	}
	if cfg.TLE.CacheDir == "" {
		return errors.New("tle.cache_dir must not be empty")
	}
	if cfg.Control.PeriodMS < 1000 || cfg.Control.PeriodMS > 10000 {
		return errors.New("control.period_ms must be between 1000 and 10000")
	}
	if cfg.Control.Tolerance < 0.01 || cfg.Control.Tolerance > 50 {
		return errors.New("control.tolerance must be between 0.01 and 50")
	}
	if cfg.Control.IOTimeoutMS < 0 {
		return errors.New("control.io_timeout_ms must be >= 0")
	}
	if cfg.Demo.Enabled {
		if cfg.Demo.AzType != "360" && cfg.Demo.AzType != "180" {
			return errors.New(`demo.az_type must be "360" or "180"`)
		}
		if cfg.Demo.MaxEl < 90 || cfg.Demo.MaxEl > 180 {
			return errors.New("demo.max_el must be between 90 and 180")
		}
	}
	seen := make(map[int]bool, len(cfg.Satellites))
	for _, s := range cfg.Satellites {
		if s.NoradID <= 0 {
			return errors.New("satellites.norad_id must be > 0")
		}
		if seen[s.NoradID] {
			return fmt.Errorf("satellites: norad_id %d listed twice", s.NoradID)
		}
		seen[s.NoradID] = true
		if s.MinContactSeconds < 0 {
			return fmt.Errorf("satellites: min_contact_seconds for %d must be >= 0", s.NoradID)
		}
	}
	return nil
}
