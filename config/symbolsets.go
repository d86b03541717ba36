package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SymbolSet overrides the subscribed symbols for one exchange. Symbols are
// given in each exchange's native representation.
type SymbolSet struct {
	Binance []string `yaml:"binance"`
	Okx     []string `yaml:"okx"`
	Bybit   []string `yaml:"bybit"`
}

// LoadSymbolSet loads a symbol override file from the given path. An empty
// list leaves the main config's symbols in place.
func LoadSymbolSet(path string) (*SymbolSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	var set SymbolSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse symbols file: %w", err)
	}
	return &set, nil
}

// Apply replaces the per-exchange symbol lists in cfg for every exchange the
// set names.
func (s *SymbolSet) Apply(cfg *Config) {
	if len(s.Binance) > 0 {
		cfg.Exchanges.Binance.Symbols = s.Binance
	}
	if len(s.Okx) > 0 {
		cfg.Exchanges.Okx.Symbols = s.Okx
	}
	if len(s.Bybit) > 0 {
		cfg.Exchanges.Bybit.Symbols = s.Bybit
	}
}
