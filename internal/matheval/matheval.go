// Package matheval evaluates the arithmetic sub-language used by math,
// sleep and list-slice inputs: ( )-nested expressions over + - * / % ^
// plus the functions length, min, max, round and sign. Results are
// integers; anything else fails loudly.
package matheval

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/logsink"
)

const legalTerminals = " .0123456789+-*/%^"

var wordSplitting = " ()+-*/^%"

// Evaluator evaluates expressions against an insert resolver. Log
// receives the rewrite trace.
type Evaluator struct {
	Res *interp.Resolver
	Log *logsink.Sink
}

type mathFunc func(e *Evaluator, inner string) (float64, error)

var functions = map[string]mathFunc{
	"length": evalLength,
	"min":    evalMin,
	"max":    evalMax,
	"round":  evalRound,
	"sign":   evalSign,
}

// Eval interpolates input, rewrites parenthesised sub-expressions from
// the inside out, and returns the integer result.
func (e *Evaluator) Eval(input string) (int, error) {
	e.logf("    Math:    %s", input)
	interpolated, err := interp.InterpolateString(e.Res, input)
	if err != nil {
		return 0, err
	}
	s := interpolated

	if strings.Count(s, "(") != strings.Count(s, ")") {
		return 0, fmt.Errorf("illegal parentheses in %q", s)
	}

	for strings.Contains(s, "(") {
		outerFrom := strings.LastIndex(s, "(")
		rel := strings.Index(s[outerFrom+1:], ")")
		if rel == -1 {
			break
		}
		innerTo := outerFrom + 1 + rel
		inner := s[outerFrom+1 : innerTo]

		var sub float64
		if outerFrom == 0 || strings.ContainsRune(wordSplitting, rune(s[outerFrom-1])) {
			// Plain grouping parentheses.
			sub, err = evalOperators(inner)
			if err != nil {
				return 0, err
			}
			e.logf("    Math: => %s  //  (%s) = %s", s, inner, formatNumber(sub))
		} else {
			name := lastWord(s[:outerFrom])
			fn, ok := functions[name]
			if !ok {
				return 0, fmt.Errorf(
					"in expression '%s', unprocessable function name '%s' was encountered", s, name)
			}
			sub, err = fn(e, inner)
			if err != nil {
				return 0, err
			}
			e.logf("    Math: => %s  //  %s(%s) = %s", s, name, inner, formatNumber(sub))
			outerFrom -= len(name)
		}

		s = s[:outerFrom] + formatNumber(sub) + s[innerTo+1:]
	}
	e.logf("    Math: => %s", s)

	if illegal := illegalChars(s); len(illegal) > 0 {
		return 0, fmt.Errorf(
			"mathematical expression %q contains illegal characters: %s; perhaps you meant to interpolate an insert",
			s, strings.Join(illegal, ", "))
	}
	result, err := evalOperators(s)
	if err != nil {
		return 0, err
	}
	rounded := int(math.Round(result))
	e.logf("    Math: => %s => %d", formatNumber(result), rounded)
	if result != 0 && math.Abs((float64(rounded)-result)/result) >= 1e-4 {
		return 0, fmt.Errorf("got result %s, but results are restricted to be integers", formatNumber(result))
	}
	return rounded, nil
}

func (e *Evaluator) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Printf(format, args...)
	}
}

func lastWord(s string) string {
	end := len(s)
	for end > 0 && strings.ContainsRune(wordSplitting, rune(s[end-1])) {
		end--
	}
	start := end
	for start > 0 && !strings.ContainsRune(wordSplitting, rune(s[start-1])) {
		start--
	}
	return s[start:end]
}

func illegalChars(s string) []string {
	seen := map[rune]bool{}
	for _, c := range s {
		if !strings.ContainsRune(legalTerminals, c) {
			seen[c] = true
		}
	}
	var out []string
	for c := range seen {
		out = append(out, strconv.QuoteRune(c))
	}
	sort.Strings(out)
	return out
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// resolveList fetches a list value for the length/min/max list forms.
func (e *Evaluator) resolveList(fn, inner string) ([]any, error) {
	v, err := e.Res.Lookup(strings.TrimSpace(inner))
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("'%s' was called on '%s', which is %T, but '%s' expects a list", fn, inner, v, fn)
	}
	return list, nil
}

func evalLength(e *Evaluator, inner string) (float64, error) {
	list, err := e.resolveList("length", inner)
	if err != nil {
		return 0, err
	}
	return float64(len(list)), nil
}

// numericEnum reports whether inner is a comma enumeration of plain
// expressions rather than a list name.
func numericEnum(inner string) bool {
	for _, c := range inner {
		if !strings.ContainsRune(legalTerminals+",", c) {
			return false
		}
	}
	return true
}

func listNumbers(fn string, list []any) ([]float64, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("'%s' was called on an empty list", fn)
	}
	out := make([]float64, len(list))
	for i, v := range list {
		switch x := v.(type) {
		case int:
			out[i] = float64(x)
		case float64:
			out[i] = x
		default:
			return nil, fmt.Errorf("'%s' expects numeric list elements, found %T", fn, v)
		}
	}
	return out, nil
}

func evalExtremum(e *Evaluator, fn, inner string, better func(a, b float64) bool) (float64, error) {
	var values []float64
	if numericEnum(inner) {
		for _, part := range strings.Split(inner, ",") {
			v, err := evalOperators(part)
			if err != nil {
				return 0, err
			}
			values = append(values, v)
		}
	} else {
		list, err := e.resolveList(fn, inner)
		if err != nil {
			return 0, err
		}
		values, err = listNumbers(fn, list)
		if err != nil {
			return 0, err
		}
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("'%s' got no values", fn)
	}
	best := values[0]
	for _, v := range values[1:] {
		if better(v, best) {
			best = v
		}
	}
	return best, nil
}

func evalMin(e *Evaluator, inner string) (float64, error) {
	return evalExtremum(e, "min", inner, func(a, b float64) bool { return a < b })
}

func evalMax(e *Evaluator, inner string) (float64, error) {
	return evalExtremum(e, "max", inner, func(a, b float64) bool { return a > b })
}

func evalRound(e *Evaluator, inner string) (float64, error) {
	v, err := evalOperators(inner)
	if err != nil {
		return 0, err
	}
	return math.Round(v), nil
}

func evalSign(e *Evaluator, inner string) (float64, error) {
	v, err := evalOperators(inner)
	if err != nil {
		return 0, err
	}
	switch {
	case v > 0:
		return 1, nil
	case v < 0:
		return -1, nil
	default:
		return 0, nil
	}
}
