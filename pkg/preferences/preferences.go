// Package preferences persists the user's routing choices as a small YAML file.
package preferences

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Policy decides what happens to a key press when the chosen player is not running.
type Policy string

const (
	// PolicySwallow consumes the key and does nothing.
	PolicySwallow Policy = "swallow"
	// PolicyPropagate lets the key continue to the rest of the system.
	PolicyPropagate Policy = "propagate"
	// PolicyLaunch consumes the key, launches the player in the background and
	// requests automation access. The pressed key's command is not sent.
	PolicyLaunch Policy = "launch"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySwallow, PolicyPropagate, PolicyLaunch:
		return p, nil
	case "":
		return PolicyPropagate, nil
	default:
		return "", fmt.Errorf("unsupported policy %q", s)
	}
}

// Preferences is the persisted state.
type Preferences struct {
	Enabled bool   `yaml:"enabled"`
	Policy  Policy `yaml:"policy"`
	// PreferredTarget is a bundle identifier; empty means the first installed target.
	PreferredTarget string `yaml:"preferred_target"`
	// PreferredTargetExplicit records that the user picked PreferredTarget themselves.
	PreferredTargetExplicit bool `yaml:"preferred_target_explicit"`
	OnboardingCompleted     bool `yaml:"onboarding_completed"`
}

// Defaults returns the preferences of a fresh install.
func Defaults() Preferences {
	return Preferences{Enabled: true, Policy: PolicyPropagate}
}

// Store owns the preferences file. Every update is written before it returns.
type Store struct {
	path string

	mu     sync.Mutex
	values Preferences
}

// Open loads path, falling back to defaults when the file does not exist yet.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("preferences path must not be empty")
	}
	s := &Store{path: path, values: Defaults()}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}

	values := Defaults()
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode preferences %q: %w", path, err)
	}
	if values.Policy, err = ParsePolicy(string(values.Policy)); err != nil {
		return nil, fmt.Errorf("decode preferences %q: %w", path, err)
	}
	s.values = values
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the current preferences.
func (s *Store) Get() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values
}

// Update applies fn and writes the result. On a write failure the in-memory
// values are left unchanged.
func (s *Store) Update(fn func(*Preferences)) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.values
	fn(&next)
	if next == s.values {
		return next, nil
	}
	if err := s.write(next); err != nil {
		return s.values, err
	}
	s.values = next
	return next, nil
}

func (s *Store) write(values Preferences) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating preferences dir: %w", err)
	}

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".preferences-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming preferences file: %w", err)
	}
	committed = true
	return nil
}
