package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/deepfry/internal/deepfry"
	"github.com/dunamismax/deepfry/internal/preset"
)

var ErrConfigurationConflict = errors.New("exactly one of mode or preset must be supplied")

// Recipe describes the passes for one image: either a single operation with
// three channel parameters, or a preset.
type Recipe struct {
	Mode   string         `json:"mode,omitempty"`
	Red    uint32         `json:"red,omitempty"`
	Green  uint32         `json:"green,omitempty"`
	Blue   uint32         `json:"blue,omitempty"`
	Preset *preset.Preset `json:"preset,omitempty"`
}

// Algorithms resolves the recipe. Supplying both a mode and a preset is
// rejected rather than letting one win.
func (r Recipe) Algorithms() ([]deepfry.Algorithm, error) {
	hasMode := strings.TrimSpace(r.Mode) != ""
	hasPreset := r.Preset != nil

	switch {
	case hasMode && hasPreset:
		return nil, fmt.Errorf("%w: both supplied", ErrConfigurationConflict)
	case !hasMode && !hasPreset:
		return nil, fmt.Errorf("%w: neither supplied", ErrConfigurationConflict)
	case hasPreset:
		algos, err := r.Preset.Resolve()
		if err != nil {
			return nil, fmt.Errorf("resolve preset: %w", err)
		}
		return algos, nil
	default:
		op, err := deepfry.ParseOperation(r.Mode)
		if err != nil {
			return nil, err
		}
		return []deepfry.Algorithm{deepfry.BitChange(op, r.Red, r.Green, r.Blue)}, nil
	}
}
