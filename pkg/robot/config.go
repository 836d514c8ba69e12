package robot

import (
	"encoding/json"
	"fmt"
	"os"
)

const DefaultConfigFile = "lerobot.json"

// DefaultCalibrationDir is where per-arm-set calibration records live.
const DefaultCalibrationDir = ".cache/calibration"

// EnvActiveSet selects the active arm set when no flag is given.
const EnvActiveSet = "LEROBOT_SET"

// Config holds every known arm set, keyed by arm-set identifier
// (e.g. "white", "black").
type Config struct {
	ActiveSet string             `json:"active_set,omitempty"`
	Sets      map[string]*ArmSet `json:"sets"`
}

// ArmSet pairs a leader and follower channel with the cameras that observe
// them. One set is treated as an interchangeable hardware unit.
type ArmSet struct {
	LeaderPort     string         `json:"leader_port"`
	FollowerPort   string         `json:"follower_port"`
	Family         Family         `json:"family,omitempty"`
	CalibrationDir string         `json:"calibration_dir,omitempty"`
	Cameras        []CameraConfig `json:"cameras,omitempty"`
}

// CameraConfig describes one camera attached to an arm set.
type CameraConfig struct {
	Name   string  `json:"name"`
	Device string  `json:"device"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	FPS    float64 `json:"fps,omitempty"`
}

// CalibrationFile returns the calibration path for one arm of this set.
func (s *ArmSet) CalibrationFile(setID, arm string) string {
	dir := s.CalibrationDir
	if dir == "" {
		dir = DefaultCalibrationDir
	}
	return CalibrationPath(dir, setID, arm)
}

// ResolveSet picks an arm set: explicit name first, then the LEROBOT_SET
// environment variable, then the configured active set, then a sole entry.
func (c *Config) ResolveSet(name string) (string, *ArmSet, error) {
	if name == "" {
		name = os.Getenv(EnvActiveSet)
	}
	if name == "" {
		name = c.ActiveSet
	}
	if name == "" && len(c.Sets) == 1 {
		for only := range c.Sets {
			name = only
		}
	}
	if name == "" {
		return "", nil, fmt.Errorf("no arm set selected; pass --set or set %s", EnvActiveSet)
	}
	set, ok := c.Sets[name]
	if !ok {
		return "", nil, fmt.Errorf("unknown arm set %q; known sets: %s", name, knownSets(c.Sets))
	}
	return name, set, nil
}

func knownSets(sets map[string]*ArmSet) string {
	names := ""
	for name := range sets {
		if names != "" {
			names += ", "
		}
		names += name
	}
	if names == "" {
		return "(none)"
	}
	return names
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Sets == nil {
		cfg.Sets = map[string]*ArmSet{}
	}
	return &cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
