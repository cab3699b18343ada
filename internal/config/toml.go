package config

import (
	"github.com/pelletier/go-toml/v2"
)

// tomlParser implements koanf.Parser for TOML config files.
type tomlParser struct{}

// TOMLParser returns a koanf parser backed by go-toml.
func TOMLParser() *tomlParser {
	return &tomlParser{}
}

// Unmarshal parses TOML bytes into a nested map.
func (p *tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := toml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// Marshal encodes a nested map as TOML.
func (p *tomlParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return toml.Marshal(o)
}
