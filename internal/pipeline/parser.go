package pipeline

import (
	"strconv"
	"strings"
)

// Expr is one unevaluated program or argument expression.
type Expr struct {
	Src    string // trimmed source text
	Offset int    // byte offset of Src in the description
}

// StageSpec is the structural form of a stage: Exprs[0] is the program,
// the rest are arguments.
type StageSpec struct {
	Exprs []Expr
}

// Parse splits a pipeline description into stage specs. Commas and OpPipe
// inside string literals or brackets do not split. Parse performs no
// evaluation; see Build.
func Parse(desc string) ([]StageSpec, error) {
	if strings.TrimSpace(desc) == "" {
		return nil, &ParseError{Offset: 0, Msg: "empty pipeline"}
	}

	var (
		specs   []StageSpec
		current StageSpec
		start   int // start of the current expression
		depth   []byte
	)

	endExpr := func(end int, sep string) error {
		src := desc[start:end]
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			if len(current.Exprs) == 0 {
				if sep == OpPipe {
					return &ParseError{Offset: end, Msg: "empty stage before " + OpPipe}
				}
				if end == len(desc) && len(specs) > 0 {
					return &ParseError{Offset: end, Msg: "dangling " + OpPipe + " with no following stage"}
				}
				return &ParseError{Offset: start, Msg: "empty stage"}
			}
			return &ParseError{Offset: start, Msg: "empty expression"}
		}
		lead := len(src) - len(strings.TrimLeft(src, " \t\r\n"))
		current.Exprs = append(current.Exprs, Expr{Src: trimmed, Offset: start + lead})
		return nil
	}

	for i := 0; i < len(desc); i++ {
		c := desc[i]
		switch {
		case c == '"' || c == '\'':
			end, err := skipString(desc, i)
			if err != nil {
				return nil, err
			}
			i = end - 1
		case c == '(' || c == '[' || c == '{':
			depth = append(depth, closer(c))
		case c == ')' || c == ']' || c == '}':
			if len(depth) == 0 || depth[len(depth)-1] != c {
				return nil, &ParseError{Offset: i, Msg: "unbalanced " + string(c)}
			}
			depth = depth[:len(depth)-1]
		case len(depth) > 0:
			// Inside brackets nothing splits.
		case c == ',':
			if err := endExpr(i, OpArgSep); err != nil {
				return nil, err
			}
			start = i + 1
		case strings.HasPrefix(desc[i:], OpPipe):
			if err := endExpr(i, OpPipe); err != nil {
				return nil, err
			}
			specs = append(specs, current)
			current = StageSpec{}
			i += len(OpPipe) - 1
			start = i + 1
		}
	}
	if len(depth) > 0 {
		return nil, &ParseError{Offset: len(desc), Msg: "missing " + string(depth[len(depth)-1])}
	}
	if err := endExpr(len(desc), ""); err != nil {
		return nil, err
	}
	return append(specs, current), nil
}

// skipString returns the offset just past the string literal starting at
// desc[i]. Triple-quoted literals and backslash escapes are honoured.
func skipString(desc string, i int) (int, error) {
	quote := desc[i : i+1]
	if strings.HasPrefix(desc[i:], strings.Repeat(quote, 3)) {
		quote = strings.Repeat(quote, 3)
	}
	for j := i + len(quote); j < len(desc); j++ {
		switch {
		case desc[j] == '\\':
			j++
		case strings.HasPrefix(desc[j:], quote):
			return j + len(quote), nil
		case desc[j] == '\n' && len(quote) == 1:
			return 0, &ParseError{Offset: i, Msg: "newline in string literal"}
		}
	}
	return 0, &ParseError{Offset: i, Msg: "unterminated string literal"}
}

func closer(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '[':
		return ']'
	default:
		return '}'
	}
}

// ParseArgs takes pre-tokenised args (as delivered by the shell) and splits
// them on the OpPipe token. Every token is taken literally.
func ParseArgs(args []string) ([]Stage, error) {
	if len(args) == 0 {
		return nil, &ParseError{Offset: -1, Msg: "empty pipeline"}
	}

	var (
		stages  []Stage
		current []string
	)
	for i, arg := range args {
		if arg != OpPipe {
			current = append(current, arg)
			continue
		}
		if len(current) == 0 {
			return nil, &ParseError{Offset: -1, Msg: "empty stage before " + OpPipe + " at token " + strconv.Itoa(i)}
		}
		stages = append(stages, NewStage(current[0], current[1:]...))
		current = nil
	}
	if len(current) == 0 {
		return nil, &ParseError{Offset: -1, Msg: "dangling " + OpPipe + " with no following stage"}
	}
	return append(stages, NewStage(current[0], current[1:]...)), nil
}

// Build evaluates every expression in specs and returns the stages.
func Build(specs []StageSpec, ev Evaluator) ([]Stage, error) {
	stages := make([]Stage, 0, len(specs))
	for _, spec := range specs {
		if len(spec.Exprs) == 0 {
			return nil, &ParseError{Offset: -1, Msg: "empty stage"}
		}
		argv := make([]string, len(spec.Exprs))
		for j, e := range spec.Exprs {
			v, err := ev.Eval(e)
			if err != nil {
				return nil, &ParseError{Offset: e.Offset, Msg: "evaluate " + e.Src, Err: err}
			}
			argv[j] = v
		}
		stages = append(stages, NewStage(argv[0], argv[1:]...))
	}
	return stages, nil
}

// ParseAndBuild parses desc and evaluates its expressions with ev.
func ParseAndBuild(desc string, ev Evaluator) ([]Stage, error) {
	specs, err := Parse(desc)
	if err != nil {
		return nil, err
	}
	return Build(specs, ev)
}
