package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode"
	"unicode/utf8"

	"github.com/expr-lang/expr"
)

// now is swapped in tests.
var now = time.Now

// RegisterBuiltins adds the code_execution handlers shipped with LaunchBox.
func RegisterBuiltins(d *Dispatcher) {
	d.Register("calculator", calculatorHandler)
	d.Register("text_processor", textHandler)
	d.Register("json_formatter", jsonHandler)
	d.Register("datetime", datetimeHandler)
}

// exprCharsRe is the calculator's whitelist: digits, whitespace, operators, parentheses.
var exprCharsRe = regexp.MustCompile(`^[\d\s+\-*/().%^]+$`)

var exprReplacer = strings.NewReplacer(
	"×", "*", "÷", "/", "＋", "+", "－", "-", "＊", "*", "／", "/",
	"（", "(", "）", ")", "＾", "^", "％", "%",
)

// NormalizeExpression maps full-width and typographic operators to ASCII.
func NormalizeExpression(s string) string {
	return strings.TrimSpace(exprReplacer.Replace(s))
}

// IsExpression reports whether s is a pure arithmetic expression with at
// least one operator between operands.
func IsExpression(s string) bool {
	s = NormalizeExpression(s)
	if !exprCharsRe.MatchString(s) {
		return false
	}
	return strings.ContainsAny(strings.TrimLeft(s, "-+ "), "+-*/%^") && strings.ContainsAny(s, "0123456789")
}

// Evaluate computes an arithmetic expression.
func Evaluate(expression string) (any, error) {
	e := NormalizeExpression(expression)
	if e == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if !exprCharsRe.MatchString(e) {
		return nil, fmt.Errorf("expression %q contains unsupported characters", expression)
	}
	program, err := expr.Compile(e)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return normalizeNumber(out)
}

func normalizeNumber(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return n, nil
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return nil, fmt.Errorf("division by zero")
		}
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return int64(n), nil
		}
		return math.Round(n*1e10) / 1e10, nil
	}
	return nil, fmt.Errorf("expression did not produce a number (%T)", v)
}

func calculatorHandler(_ context.Context, _ *Action, params map[string]any) (*Result, error) {
	e := fmt.Sprint(params["expression"])
	v, err := Evaluate(e)
	if err != nil {
		return Failure("%v", err), nil
	}
	return &Result{Success: true, Data: map[string]any{
		"expression": NormalizeExpression(e),
		"result":     v,
	}}, nil
}

func textHandler(_ context.Context, _ *Action, params map[string]any) (*Result, error) {
	text := fmt.Sprint(params["text"])
	op := fmt.Sprint(params["operation"])

	var out any
	switch op {
	case "uppercase":
		out = strings.ToUpper(text)
	case "lowercase":
		out = strings.ToLower(text)
	case "reverse":
		r := []rune(text)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		out = string(r)
	case "trim":
		out = strings.Join(strings.Fields(text), " ")
	case "char_count":
		out = utf8.RuneCountInString(text)
	case "word_count":
		out = countWords(text)
	default:
		return Failure("unsupported text operation %q", op), nil
	}
	return &Result{Success: true, Data: map[string]any{"operation": op, "result": out}}, nil
}

// countWords counts whitespace-separated words, with each Han character
// counted as one word.
func countWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			n++
			inWord = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			inWord = false
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}

func jsonHandler(_ context.Context, _ *Action, params map[string]any) (*Result, error) {
	raw := strings.TrimSpace(fmt.Sprint(params["json"]))
	if !json.Valid([]byte(raw)) {
		return Failure("invalid JSON input"), nil
	}
	var buf bytes.Buffer
	var err error
	if params["mode"] == "minify" {
		err = json.Compact(&buf, []byte(raw))
	} else {
		err = json.Indent(&buf, []byte(raw), "", "  ")
	}
	if err != nil {
		return Failure("format JSON: %v", err), nil
	}
	return &Result{Success: true, Data: map[string]any{"formatted": buf.String()}}, nil
}

func datetimeHandler(_ context.Context, _ *Action, params map[string]any) (*Result, error) {
	tz := fmt.Sprint(params["timezone"])
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Failure("unknown timezone %q", tz), nil
	}
	layout := fmt.Sprint(params["format"])
	t := now().In(loc)
	return &Result{Success: true, Data: map[string]any{
		"datetime": t.Format(layout),
		"timezone": tz,
		"weekday":  t.Weekday().String(),
		"unix":     t.Unix(),
	}}, nil
}
