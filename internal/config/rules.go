package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"primeduel/internal/game"
)

//go:embed rules.yaml
var defaultRules []byte

type rulesFile struct {
	Difficulties []game.Rules `yaml:"difficulties"`
}

// LoadRules reads rule sets from path, or the built-in set when path is
// empty. Every rule set is validated.
func LoadRules(path string) ([]game.Rules, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		data = b
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a rules document.
func ParseRules(data []byte) ([]game.Rules, error) {
	var f rulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(f.Difficulties) == 0 {
		return nil, fmt.Errorf("%w: no difficulties defined", game.ErrInvalidRules)
	}
	seen := make(map[string]bool, len(f.Difficulties))
	out := make([]game.Rules, 0, len(f.Difficulties))
	for _, r := range f.Difficulties {
		r = r.WithDefaults()
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Difficulty] {
			return nil, fmt.Errorf("%w: duplicate difficulty %q", game.ErrInvalidRules, r.Difficulty)
		}
		seen[r.Difficulty] = true
		out = append(out, r)
	}
	return out, nil
}

// Registry builds a dealer registry from rule sets. fallback must name one
// of them.
func Registry(rules []game.Rules, fallback string) (*game.Registry, error) {
	reg := game.NewRegistry(fallback)
	for _, r := range rules {
		d, err := game.NewDealer(r, nil)
		if err != nil {
			return nil, err
		}
		reg.Register(d)
	}
	if _, err := reg.Resolve(""); err != nil {
		return nil, errors.Join(fmt.Errorf("default difficulty %q", fallback), err)
	}
	return reg, nil
}
