package matheval

import (
	"strings"
	"testing"

	"github.com/tillfalko/interpolation-engine/internal/interp"
)

func newEvaluator(data map[string]any) *Evaluator {
	return &Evaluator{Res: interp.NewResolver(interp.NewStore(data), "")}
}

func TestEvalBasics(t *testing.T) {
	tests := []struct {
		expr string
		want int
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 2", 5},
		{"7 % 3", 1},
		{"-7 % 3", 2},
		{"2 ^ 10", 1024},
		{"-2 ^ 2", -4},
		{"3 - -5", 8},
		{"((1))", 1},
		{"100 / 4 / 5", 5},
	}
	e := newEvaluator(nil)
	for _, tt := range tests {
		got, err := e.Eval(tt.expr)
		if err != nil {
			t.Errorf("Eval(%q) error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Eval(%q) = %d, want %d", tt.expr, got, tt.want)
		}
	}
}

func TestEvalFunctions(t *testing.T) {
	e := newEvaluator(map[string]any{
		"xs": []any{3, 1, 4, 1, 5, 9, 2, 6},
	})

	tests := []struct {
		expr string
		want int
	}{
		{"length(xs)", 8},
		{"min(xs)", 1},
		{"max(xs)", 9},
		{"min(3, 1 + 1, 7)", 2},
		{"max(3, 10 / 2)", 5},
		{"round(7 / 2)", 4},
		{"sign(0 - 9)", -1},
		{"sign(0)", 0},
		{"sign(3 * 3)", 1},
		{"round((min(xs) + max(xs)) / 2)", 5},
		{"length(xs) * 2", 16},
	}
	for _, tt := range tests {
		got, err := e.Eval(tt.expr)
		if err != nil {
			t.Errorf("Eval(%q) error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Eval(%q) = %d, want %d", tt.expr, got, tt.want)
		}
	}
}

func TestEvalInterpolation(t *testing.T) {
	e := newEvaluator(map[string]any{"n": 6, "half": "n / 2"})

	if got, err := e.Eval("{n} + 1"); err != nil || got != 7 {
		t.Errorf("Eval({n} + 1) = %d, %v", got, err)
	}
	if got, err := e.Eval("{half}"); err == nil {
		// "n / 2" contains a letter, which is illegal after interpolation.
		t.Errorf("Eval({half}) = %d, want illegal-character error", got)
	}
}

func TestEvalErrors(t *testing.T) {
	e := newEvaluator(map[string]any{"s": "text", "xs": []any{1}})

	cases := []struct {
		expr    string
		errPart string
	}{
		{"1 + (2", "parentheses"},
		{"nonsense(1)", "unprocessable function name"},
		{"length(s)", "expects a list"},
		{"1 + x", "illegal characters"},
		{"7 / 2", "restricted to be integers"},
		{"1 / 0", "division by zero"},
	}
	for _, tt := range cases {
		_, err := e.Eval(tt.expr)
		if err == nil || !strings.Contains(err.Error(), tt.errPart) {
			t.Errorf("Eval(%q) error = %v, want containing %q", tt.expr, err, tt.errPart)
		}
	}
}

func TestEvalToleratesNearIntegers(t *testing.T) {
	e := newEvaluator(nil)
	// 0.1 * 3 * 10 comes out as 3.0000000000000004 in float64, off the
	// exact integer by floating error but within tolerance.
	got, err := e.Eval("0.1 * 3 * 10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}
