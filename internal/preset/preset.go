// Package preset loads deepfry presets and resolves them into passes.
package preset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

var ErrUnsupportedFormat = errors.New("unsupported preset format")

// Preset is an ordered recipe of passes. Unknown top-level keys are ignored.
type Preset struct {
	Algorithms []AlgorithmConfig `toml:"algorithms" yaml:"algorithms" json:"algorithms"`
}

// AlgorithmConfig is one untrusted preset entry.
type AlgorithmConfig struct {
	Algorithm  string  `toml:"algorithm" yaml:"algorithm" json:"algorithm"`
	ChangeMode *string `toml:"change_mode,omitempty" yaml:"change_mode,omitempty" json:"change_mode,omitempty"`
	Red        *uint32 `toml:"red,omitempty" yaml:"red,omitempty" json:"red,omitempty"`
	Green      *uint32 `toml:"green,omitempty" yaml:"green,omitempty" json:"green,omitempty"`
	Blue       *uint32 `toml:"blue,omitempty" yaml:"blue,omitempty" json:"blue,omitempty"`
}

func Parse(data []byte, format string) (Preset, error) {
	var p Preset
	switch normalizeFormat(format) {
	case FormatTOML:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
			return Preset{}, fmt.Errorf("decode toml preset: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Preset{}, fmt.Errorf("decode yaml preset: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &p); err != nil {
			return Preset{}, fmt.Errorf("decode json preset: %w", err)
		}
	default:
		return Preset{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Load reads a preset file, picking the decoder from the extension. Files
// without a recognised extension are read as TOML.
func Load(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, fmt.Errorf("read preset %s: %w", path, err)
	}
	p, err := Parse(data, FormatForPath(path))
	if err != nil {
		return Preset{}, fmt.Errorf("preset %s: %w", path, err)
	}
	return p, nil
}

func FormatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatTOML
	}
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", "tml":
		return FormatTOML
	case "yml":
		return FormatYAML
	default:
		return format
	}
}
