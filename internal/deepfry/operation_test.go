package deepfry

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestSqrtTable(t *testing.T) {
	for v := 0; v < 256; v++ {
		want := uint8(0)
		for (int(want)+1)*(int(want)+1) <= v {
			want++
		}
		if got := Sqrt.Evaluate(uint8(v), 0); got != want {
			t.Fatalf("sqrt(%d): expected %d, got %d", v, want, got)
		}
	}

	pinned := map[uint8]uint8{0: 0, 1: 1, 3: 1, 4: 2, 15: 3, 16: 4, 99: 9, 100: 10, 224: 14, 225: 15, 255: 15}
	for v, want := range pinned {
		if got := Sqrt.Evaluate(v, math.MaxUint32); got != want {
			t.Fatalf("sqrt(%d): expected %d, got %d", v, want, got)
		}
	}
}

func TestEvaluateWraps(t *testing.T) {
	cases := []struct {
		op    Operation
		value uint8
		param uint32
		want  uint8
	}{
		{Multiply, 200, 200, 64},
		{Multiply, 255, math.MaxUint32, 1},
		{Multiply, 7, 256, 0},
		{ShiftLeft, 1, 8, 1},
		{ShiftLeft, 1, 0, 1},
		{ShiftLeft, 1, 9, 2},
		{ShiftLeft, 0xff, 7, 0x80},
		{ShiftRight, 0x80, 15, 1},
		{ShiftRight, 0x80, 16, 0x80},
		{Not, 0, 99, 255},
		{Not, 0xa5, 0, 0x5a},
		{Xor, 10, 255, 245},
		{Xor, 10, 256 + 255, 245},
		{Or, 0, 1, 1},
		{And, 0xff, 0x10f, 0x0f},
		{Exponent, 3, 5, 243},
		{Exponent, 2, 8, 0},
		{Exponent, 7, 1000, 193},
		{Exponent, 255, 3, 255},
		{Exponent, 0, 0, 1},
		{Exponent, 9, 0, 1},
	}
	for _, tc := range cases {
		if got := tc.op.Evaluate(tc.value, tc.param); got != tc.want {
			t.Fatalf("%s(%d, %d): expected %d, got %d", tc.op, tc.value, tc.param, tc.want, got)
		}
	}
}

func TestEvaluateIsPure(t *testing.T) {
	params := []uint32{0, 1, 7, 8, 255, 256, 1 << 20, math.MaxUint32}
	for _, op := range Operations() {
		for _, p := range params {
			for v := 0; v < 256; v++ {
				first := op.Evaluate(uint8(v), p)
				second := op.Evaluate(uint8(v), p)
				if first != second {
					t.Fatalf("%s(%d, %d) not repeatable: %d then %d", op, v, p, first, second)
				}
			}
		}
	}
}

func TestRandomOperationsSnapshot(t *testing.T) {
	snapshots := map[uint32]uint8{
		0:              226,
		1:              145,
		7:              99,
		42:             189,
		255:            51,
		1000:           60,
		math.MaxUint32: 115,
	}
	for seed, want := range snapshots {
		if got := randomByte(seed); got != want {
			t.Fatalf("random byte for seed %d: expected %d, got %d", seed, want, got)
		}
		if got := RandomAdd.Evaluate(0, seed); got != want {
			t.Fatalf("random-add(0, %d): expected %d, got %d", seed, want, got)
		}
		if got := RandomMultiply.Evaluate(1, seed); got != want {
			t.Fatalf("random-multiply(1, %d): expected %d, got %d", seed, want, got)
		}
	}

	if got := RandomAdd.Evaluate(10, 42); got != 199 {
		t.Fatalf("random-add(10, 42): expected 199, got %d", got)
	}
	if got := RandomMultiply.Evaluate(3, 42); got != 55 {
		t.Fatalf("random-multiply(3, 42): expected 55, got %d", got)
	}
	if a, b := RandomAdd.Evaluate(100, 42), RandomAdd.Evaluate(100, 42); a != b {
		t.Fatalf("random-add not deterministic: %d vs %d", a, b)
	}
}

func TestNewSourceMatchesSplitMix64(t *testing.T) {
	if got := newSource(0).Uint64(); got != 0xe220a8397b1dcdaf {
		t.Fatalf("expected first SplitMix64 output 0xe220a8397b1dcdaf, got %#x", got)
	}
	a, b := newSource(42), newSource(42)
	for i := 0; i < 8; i++ {
		if x, y := a.Uint64(), b.Uint64(); x != y {
			t.Fatalf("draw %d: sources with equal seeds diverged: %#x vs %#x", i, x, y)
		}
	}
}

func TestRandomByteConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]uint8, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = randomByte(42)
		}()
	}
	wg.Wait()
	for i, got := range results {
		if got != 189 {
			t.Fatalf("goroutine %d: expected 189, got %d", i, got)
		}
	}
}

func TestParseOperation(t *testing.T) {
	for _, op := range Operations() {
		parsed, err := ParseOperation(op.String())
		if err != nil {
			t.Fatalf("parse %q: %v", op, err)
		}
		if parsed != op {
			t.Fatalf("expected %s, got %s", op, parsed)
		}
	}

	parsed, err := ParseOperation("  Shift-LEFT ")
	if err != nil || parsed != ShiftLeft {
		t.Fatalf("expected case-insensitive match for shift-left, got %s err=%v", parsed, err)
	}

	_, err = ParseOperation("blur")
	var unknown *UnknownOperationError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownOperationError, got %v", err)
	}
	if unknown.Name != "blur" {
		t.Fatalf("expected name blur, got %q", unknown.Name)
	}
}

func TestOperationTextRoundTrip(t *testing.T) {
	text, err := RandomMultiply.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "random-multiply" {
		t.Fatalf("expected random-multiply, got %s", text)
	}

	var op Operation
	if err := op.UnmarshalText([]byte("exponent")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if op != Exponent {
		t.Fatalf("expected exponent, got %s", op)
	}

	if _, err := Operation(200).MarshalText(); err == nil {
		t.Fatal("expected error for out-of-range operation")
	}
	if got := Operation(200).String(); got != "operation(200)" {
		t.Fatalf("unexpected string for invalid operation: %s", got)
	}
}
