package pipeline

import (
	"errors"
	"fmt"
)

// Phase identifies where in the parse/execute sequence an error arose.
type Phase string

const (
	PhaseParse     Phase = "parse"
	PhaseConfigure Phase = "configure"
	PhaseSpawn     Phase = "spawn"
	PhaseWait      Phase = "wait"
	PhaseCapture   Phase = "capture"
)

// ParseError reports a malformed pipeline description, or an argument
// expression that could not be evaluated.
type ParseError struct {
	Offset int // byte offset into the description, -1 if unknown
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Offset >= 0 {
		msg = fmt.Sprintf("offset %d: %s", e.Offset, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }
func (e *ParseError) Phase() Phase  { return PhaseParse }

// ConfigurationError reports a pipeline that cannot be executed as built.
// It is always returned before any process is spawned.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }
func (e *ConfigurationError) Phase() Phase  { return PhaseConfigure }

// SpawnError reports that the OS refused to start a stage. Stages before
// Stage are already running and are left alone.
type SpawnError struct {
	Stage   int
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
func (e *SpawnError) Phase() Phase  { return PhaseSpawn }

// IOError reports a failure reading from or waiting on a running stage.
type IOError struct {
	Stage   int
	Program string
	Op      Phase // PhaseWait or PhaseCapture
	Stream  string
	Err     error
}

func (e *IOError) Error() string {
	if e.Stream != "" {
		return fmt.Sprintf("stage %d (%s): %s: %v", e.Stage, e.Program, e.Stream, e.Err)
	}
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Program, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
func (e *IOError) Phase() Phase  { return e.Op }

// PhaseOf returns the phase of the first pipeline error in err's chain,
// or "" if err did not come from this package.
func PhaseOf(err error) Phase {
	var p interface{ Phase() Phase }
	if errors.As(err, &p) {
		return p.Phase()
	}
	return ""
}
