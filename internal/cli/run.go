package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marcelocantos/pipecmd/internal/broker"
	"github.com/marcelocantos/pipecmd/internal/pipeline"
)

// Options are the leading flags of a pipeline invocation.
type Options struct {
	Output bool // capture the terminal stage's output instead of inheriting
	Allow  bool // bypass config rules
	Expr   bool // the remaining args form one textual description
	// Literal is Expr without evaluation: bare words and quoted strings.
	Literal bool
}

// ParseOptions consumes leading flags up to the first other token; "--"
// ends them explicitly.
func ParseOptions(args []string) (Options, []string, error) {
	var opts Options
	for i, arg := range args {
		switch arg {
		case "--output":
			opts.Output = true
		case "--allow":
			opts.Allow = true
		case "--expr":
			opts.Expr = true
		case "--literal":
			opts.Expr = true
			opts.Literal = true
		case "--":
			return opts, args[i+1:], nil
		default:
			if strings.HasPrefix(arg, "--") {
				return opts, nil, fmt.Errorf("unknown flag %s", arg)
			}
			return opts, args[i:], nil
		}
	}
	return opts, nil, nil
}

// RunPipe executes: pipecmd [--output] [--allow] [--expr|--literal] <stages...>
// The exit code is the terminal stage's exit code, 2 for pipecmd's own
// errors and 1 for rule denials.
func RunPipe(b *broker.Broker, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, rest, err := ParseOptions(args)
	if err != nil {
		fmt.Fprintf(stderr, "pipecmd: %v\n", err)
		return 2
	}

	var stages []pipeline.Stage
	switch {
	case opts.Literal:
		stages, err = b.ParseLiteral(strings.Join(rest, " "))
	case opts.Expr:
		stages, err = b.ParseExpr(strings.Join(rest, " "))
	default:
		stages, err = pipeline.ParseArgs(rest)
	}
	if err != nil {
		return reportError(stderr, err)
	}

	req := broker.Request{
		Stages: stages,
		Mode:   broker.ModeStatus,
		Allow:  opts.Allow,
		Source: "cli",
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		// A one-shot command waits for the whole pipeline, as a shell does.
		WaitUpstream: true,
	}
	if opts.Output {
		req.Mode = broker.ModeOutput
	}

	res, err := b.Run(req)
	if err != nil {
		return reportError(stderr, err)
	}
	if opts.Output {
		stdout.Write(res.Stdout)
		stderr.Write(res.Stderr)
	}
	return exitCode(res.Status)
}

// reportError prints err with the phase that produced it.
func reportError(w io.Writer, err error) int {
	var denied *broker.DeniedError
	if errors.As(err, &denied) {
		fmt.Fprintf(w, "pipecmd: %v\n", err)
		return 1
	}
	if phase := pipeline.PhaseOf(err); phase != "" {
		fmt.Fprintf(w, "pipecmd: %s: %v\n", phase, err)
	} else {
		fmt.Fprintf(w, "pipecmd: %v\n", err)
	}
	return 2
}

func exitCode(s pipeline.ExitStatus) int {
	if s.Code < 0 {
		return 1 // killed by a signal
	}
	return s.Code
}
