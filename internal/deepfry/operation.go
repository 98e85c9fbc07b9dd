// Package deepfry implements the bit-level pixel operations and the pass
// engine that applies them to RGB buffers.
package deepfry

import (
	"fmt"
	"math"
	"strings"
)

// Operation is one bitwise or arithmetic transform applied to a channel value.
type Operation uint8

const (
	ShiftLeft Operation = iota
	ShiftRight
	Not
	Multiply
	Sqrt
	Xor
	Or
	And
	Exponent
	RandomAdd
	RandomMultiply
)

var operationNames = [...]string{
	ShiftLeft:      "shift-left",
	ShiftRight:     "shift-right",
	Not:            "not",
	Multiply:       "multiply",
	Sqrt:           "sqrt",
	Xor:            "xor",
	Or:             "or",
	And:            "and",
	Exponent:       "exponent",
	RandomAdd:      "random-add",
	RandomMultiply: "random-multiply",
}

var operationsByName = func() map[string]Operation {
	m := make(map[string]Operation, len(operationNames))
	for op, name := range operationNames {
		m[name] = Operation(op)
	}
	return m
}()

// UnknownOperationError reports an operation name missing from the name table.
type UnknownOperationError struct {
	Name string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}

// Operations lists every operation in declaration order.
func Operations() []Operation {
	ops := make([]Operation, len(operationNames))
	for i := range ops {
		ops[i] = Operation(i)
	}
	return ops
}

// OperationNames lists the canonical operation names in declaration order.
func OperationNames() []string {
	names := make([]string, len(operationNames))
	copy(names, operationNames[:])
	return names
}

// ParseOperation resolves a name case-insensitively.
func ParseOperation(name string) (Operation, error) {
	op, ok := operationsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, &UnknownOperationError{Name: name}
	}
	return op, nil
}

func (op Operation) Valid() bool {
	return int(op) < len(operationNames)
}

func (op Operation) String() string {
	if !op.Valid() {
		return fmt.Sprintf("operation(%d)", uint8(op))
	}
	return operationNames[op]
}

func (op Operation) MarshalText() ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("invalid operation %d", uint8(op))
	}
	return []byte(operationNames[op]), nil
}

func (op *Operation) UnmarshalText(text []byte) error {
	parsed, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// Evaluate applies op to value with the given parameter. Every variant wraps
// modulo 256, so the result is defined for any input. Shift amounts are
// reduced modulo 8.
func (op Operation) Evaluate(value uint8, param uint32) uint8 {
	switch op {
	case ShiftLeft:
		return value << (param % 8)
	case ShiftRight:
		return value >> (param % 8)
	case Not:
		return ^value
	case Multiply:
		return value * uint8(param)
	case Sqrt:
		return uint8(math.Sqrt(float64(value)))
	case Xor:
		return value ^ uint8(param)
	case Or:
		return value | uint8(param)
	case And:
		return value & uint8(param)
	case Exponent:
		return wrappingPow(value, param)
	case RandomAdd:
		return value + randomByte(param)
	case RandomMultiply:
		return value * randomByte(param)
	default:
		return value
	}
}

// wrappingPow is square-and-multiply on uint8, so every intermediate wraps.
func wrappingPow(base uint8, exp uint32) uint8 {
	result := uint8(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// Table precomputes Evaluate for all 256 inputs under one parameter.
func (op Operation) Table(param uint32) [256]uint8 {
	var t [256]uint8
	for v := range t {
		t[v] = op.Evaluate(uint8(v), param)
	}
	return t
}
