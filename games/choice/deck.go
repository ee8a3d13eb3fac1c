/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package choice

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default_deck.yaml
var defaultDeck []byte

// Deck is a starter set of players and cards.
type Deck struct {
	Players []Player `yaml:"players"`
	Cards   []Card   `yaml:"cards"`
}

// DefaultDeck returns the built-in deck of two players and four cards.
func DefaultDeck() *Deck {
	d, err := ParseDeck(defaultDeck)
	if err != nil {
		panic("choice: invalid built-in deck: " + err.Error())
	}
	return d
}

// LoadDeck reads a YAML deck file.
func LoadDeck(path string) (*Deck, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	d, err := ParseDeck(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDeck decodes and validates a YAML deck.
func ParseDeck(b []byte) (*Deck, error) {
	var d Deck
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, err
	}

	// A throwaway game applies the same validation the registries do.
	if _, err := NewGame(&d); err != nil {
		return nil, err
	}

	return &d, nil
}
