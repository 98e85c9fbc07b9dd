package deepfry

import "fmt"

// Algorithm is one fully specified pass: an operation plus a parameter per
// channel.
type Algorithm struct {
	Operation Operation
	Red       uint32
	Green     uint32
	Blue      uint32
}

func BitChange(op Operation, red, green, blue uint32) Algorithm {
	return Algorithm{Operation: op, Red: red, Green: green, Blue: blue}
}

func (a Algorithm) String() string {
	return fmt.Sprintf("%s(%d,%d,%d)", a.Operation, a.Red, a.Green, a.Blue)
}

// Pixel evaluates the pass for a single RGB triple.
func (a Algorithm) Pixel(r, g, b uint8) (uint8, uint8, uint8) {
	return a.Operation.Evaluate(r, a.Red),
		a.Operation.Evaluate(g, a.Green),
		a.Operation.Evaluate(b, a.Blue)
}

func (a Algorithm) tables() [3][256]uint8 {
	return [3][256]uint8{
		a.Operation.Table(a.Red),
		a.Operation.Table(a.Green),
		a.Operation.Table(a.Blue),
	}
}
