package pipeline

import (
	"slices"
	"strconv"
	"strings"
)

// Operators used in pipeline descriptions.
const (
	OpPipe   = "=>" // stdout → stdin of the next stage
	OpArgSep = ","  // separates program and argument expressions
)

// Stage describes one process in a pipeline.
type Stage struct {
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

// NewStage returns a Stage for program with a private copy of args.
func NewStage(program string, args ...string) Stage {
	return Stage{Program: program, Args: slices.Clone(args)}
}

// Argv returns the program followed by its arguments.
func (s Stage) Argv() []string {
	return append([]string{s.Program}, s.Args...)
}

// Equal reports whether s and o name the same program with the same args.
func (s Stage) Equal(o Stage) bool {
	return s.Program == o.Program && slices.Equal(s.Args, o.Args)
}

// String renders the stage in description syntax, e.g. "wc", "-l".
func (s Stage) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	for _, a := range s.Argv() {
		parts = append(parts, strconv.Quote(a))
	}
	return strings.Join(parts, OpArgSep+" ")
}

// FormatStages renders stages in description syntax joined by OpPipe.
func FormatStages(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, " "+OpPipe+" ")
}

// Programs returns the program name of each stage.
func Programs(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Program
	}
	return names
}
