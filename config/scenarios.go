package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
	"gopkg.in/yaml.v3"
)

// Common errors for scenario file loading.
var (
	ErrFileNotFound = errors.New("scenario file not found")
	ErrInvalidYAML  = errors.New("invalid YAML syntax")
	ErrEmptyFile    = errors.New("scenario file is empty")
)

// ScenarioDefaults fills fields a scenario entry leaves empty.
type ScenarioDefaults struct {
	Deadline     time.Duration     `yaml:"deadline"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	Transports   []types.Transport `yaml:"transports"`
	ProbeEvent   string            `yaml:"probe_event"`
	ConfirmEvent string            `yaml:"confirm_event"`
	Headers      map[string]string `yaml:"headers"`
}

// ScenarioFile is the on-disk layout of a scenario file.
type ScenarioFile struct {
	Defaults  ScenarioDefaults `yaml:"defaults"`
	Scenarios []types.Scenario `yaml:"scenarios"`
}

// LoadScenarios reads a YAML scenario file. Entries without an endpoint
// base URL use base; empty fields fall back to the file defaults, then to
// cfg. Every scenario is validated.
func LoadScenarios(path, base string, cfg *ProbeConfig) ([]types.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return ParseScenarios(data, base, cfg)
}

// ParseScenarios parses scenario YAML. See LoadScenarios.
func ParseScenarios(data []byte, base string, cfg *ProbeConfig) ([]types.Scenario, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if len(file.Scenarios) == 0 {
		return nil, types.NewError(types.KindConfig, "scenario file defines no scenarios", nil)
	}

	d := file.Defaults
	if d.Deadline <= 0 {
		d.Deadline = cfg.DefaultDeadline
	}
	if d.Path == "" {
		d.Path = cfg.SocketPath
	}
	if len(d.Transports) == 0 {
		d.Transports = []types.Transport{types.TransportPolling, types.TransportWebSocket}
	}
	if d.ProbeEvent == "" {
		d.ProbeEvent = cfg.ProbeEvent
	}
	if d.ConfirmEvent == "" {
		d.ConfirmEvent = cfg.ConfirmEvent
	}

	out := make([]types.Scenario, 0, len(file.Scenarios))
	for _, s := range file.Scenarios {
		applyDefaults(&s, base, d)
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

func applyDefaults(s *types.Scenario, base string, d ScenarioDefaults) {
	if s.Endpoint.BaseURL == "" {
		s.Endpoint.BaseURL = base
	}
	if s.Endpoint.Path == "" {
		s.Endpoint.Path = d.Path
	}
	if s.Endpoint.Namespace == "" {
		s.Endpoint.Namespace = d.Namespace
	}
	if len(s.Endpoint.Transports) == 0 {
		s.Endpoint.Transports = d.Transports
	}
	if s.Deadline <= 0 {
		s.Deadline = d.Deadline
	}
	if s.ProbeEvent == "" {
		s.ProbeEvent = d.ProbeEvent
	}
	if s.ConfirmEvent == "" {
		s.ConfirmEvent = d.ConfirmEvent
	}
	if len(d.Headers) > 0 {
		merged := make(map[string]string, len(d.Headers)+len(s.Headers))
		for k, v := range d.Headers {
			merged[k] = v
		}
		for k, v := range s.Headers {
			merged[k] = v
		}
		s.Headers = merged
	}
}
