package preset

import (
	"errors"
	"fmt"

	"github.com/dunamismax/deepfry/internal/deepfry"
)

const AlgorithmBitChange = "BitChange"

var (
	ErrMissingOperation = errors.New("BitChange requires change_mode")
	ErrEmptyPreset      = errors.New("preset defines no algorithms")
)

type UnknownAlgorithmError struct {
	Name string
}

func (e *UnknownAlgorithmError) Error() string {
	return fmt.Sprintf("unknown algorithm %q", e.Name)
}

// UnknownOperationError is returned when change_mode names no operation.
type UnknownOperationError = deepfry.UnknownOperationError

// Resolve validates a single entry into a pass. Absent channels default to 0.
func Resolve(cfg AlgorithmConfig) (deepfry.Algorithm, error) {
	switch cfg.Algorithm {
	case AlgorithmBitChange:
		if cfg.ChangeMode == nil {
			return deepfry.Algorithm{}, ErrMissingOperation
		}
		op, err := deepfry.ParseOperation(*cfg.ChangeMode)
		if err != nil {
			return deepfry.Algorithm{}, err
		}
		return deepfry.BitChange(op, valueOrZero(cfg.Red), valueOrZero(cfg.Green), valueOrZero(cfg.Blue)), nil
	default:
		return deepfry.Algorithm{}, &UnknownAlgorithmError{Name: cfg.Algorithm}
	}
}

// Resolve validates every entry in file order before returning any pass, so a
// bad entry anywhere means no pass is handed to the engine.
func (p Preset) Resolve() ([]deepfry.Algorithm, error) {
	if len(p.Algorithms) == 0 {
		return nil, ErrEmptyPreset
	}

	algos := make([]deepfry.Algorithm, 0, len(p.Algorithms))
	for i, cfg := range p.Algorithms {
		algo, err := Resolve(cfg)
		if err != nil {
			return nil, fmt.Errorf("algorithms[%d]: %w", i, err)
		}
		algos = append(algos, algo)
	}
	return algos, nil
}

func valueOrZero(v *uint32) uint32 {
	if v == nil {
		return 0
	}
	return *v
}
