// Package config loads the agent's YAML configuration file. Loading itself
// is an external concern (the file format and its location are dictated by
// the surrounding service-management skeleton), but the struct shape here is
// what every other package depends on, and ReloadAllowedTargets is called on
// every broadcaster (re)connect per the broadcaster adapter's contract.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andante-project/yadtreceiver/pkg/agenterr"
)

// Config mirrors the fields the request-handling pipeline reads at startup
// and, for AllowedTargets, on every reconnect.
type Config struct {
	BroadcasterHost string   `yaml:"broadcaster_host"`
	BroadcasterPort int      `yaml:"broadcaster_port"`
	Hostname        string   `yaml:"hostname"`
	PythonCommand   string   `yaml:"python_command"`
	ScriptToExecute string   `yaml:"script_to_execute"`
	TargetsDir      string   `yaml:"targets_directory"`
	AllowedTargets  []string `yaml:"allowed_targets"`
	LogFilename     string   `yaml:"log_filename"`
	MetricsDir      string   `yaml:"metrics_directory"`
	MetricsFile     string   `yaml:"metrics_file"`
	GraphiteHost    string   `yaml:"graphite_host"`
	GraphitePort    int      `yaml:"graphite_port"`

	// ShowdownTimeout is the voting FSM's showdown deadline. Defaults to 10s
	// when zero; overridable in tests.
	ShowdownTimeout time.Duration `yaml:"showdown_timeout"`

	// ClientIDPrefix seeds the broadcaster adapter's MQTT client id.
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

const defaultShowdownTimeout = 10 * time.Second

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agenterr.ErrConfigMissing, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", agenterr.ErrConfigMissing, path, err)
	}
	if cfg.ShowdownTimeout == 0 {
		cfg.ShowdownTimeout = defaultShowdownTimeout
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "yadtreceiver"
	}
	return &cfg, nil
}

// Store holds the live configuration and re-reads AllowedTargets from disk on
// each broadcaster reconnect, without requiring every other package to know
// about file paths.
type Store struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

// NewStore loads path once and returns a Store wrapping it.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: *cfg}, nil
}

// Current returns a copy of the currently loaded configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ReloadAllowedTargets re-reads the file at s.path and replaces only the
// AllowedTargets field, so a change to the allowed-targets list takes effect
// on the next broadcaster reconnect without restarting the process.
func (s *Store) ReloadAllowedTargets() ([]string, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cfg.AllowedTargets = cfg.AllowedTargets
	targets := append([]string(nil), s.cfg.AllowedTargets...)
	s.mu.Unlock()
	return targets, nil
}
