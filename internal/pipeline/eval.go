package pipeline

import (
	"fmt"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Evaluator turns a program or argument expression into its string value.
type Evaluator interface {
	Eval(e Expr) (string, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(e Expr) (string, error)

func (f EvaluatorFunc) Eval(e Expr) (string, error) { return f(e) }

// Literal evaluates quoted expressions as Go string literals and takes
// anything else verbatim, so `ls, -a => wc, -l` needs no quoting.
var Literal Evaluator = EvaluatorFunc(func(e Expr) (string, error) {
	if n := len(e.Src); n >= 2 && (e.Src[0] == '"' || e.Src[0] == '\'') && e.Src[n-1] == e.Src[0] {
		if e.Src[0] == '\'' {
			return e.Src[1 : n-1], nil
		}
		return strconv.Unquote(e.Src)
	}
	return e.Src, nil
})

// StarlarkEvaluator evaluates expressions as Starlark expressions. String
// results are used as-is; other values use their Starlark representation.
type StarlarkEvaluator struct {
	globals starlark.StringDict
	opts    *syntax.FileOptions
}

// NewStarlarkEvaluator returns an evaluator with vars predeclared as
// Starlark strings alongside the Starlark universe (str, len, ...).
func NewStarlarkEvaluator(vars map[string]string) *StarlarkEvaluator {
	globals := make(starlark.StringDict, len(vars))
	for k, v := range vars {
		globals[k] = starlark.String(v)
	}
	globals.Freeze()
	return &StarlarkEvaluator{globals: globals, opts: &syntax.FileOptions{}}
}

func (s *StarlarkEvaluator) Eval(e Expr) (string, error) {
	thread := &starlark.Thread{Name: "pipeline"}
	v, err := starlark.EvalOptions(s.opts, thread, "<pipeline>", e.Src, s.globals)
	if err != nil {
		return "", err
	}
	if v == starlark.None {
		return "", fmt.Errorf("expression is None")
	}
	if str, ok := starlark.AsString(v); ok {
		return str, nil
	}
	return v.String(), nil
}
