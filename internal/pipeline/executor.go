package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExitStatus is the termination status of a stage.
type ExitStatus struct {
	Code int // -1 if the process was terminated by a signal
	desc string
}

func exitStatus(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: ps.ExitCode(), desc: ps.String()}
}

// Success reports whether the stage exited with code 0.
func (s ExitStatus) Success() bool { return s.Code == 0 }

func (s ExitStatus) String() string {
	if s.desc != "" {
		return s.desc
	}
	return fmt.Sprintf("exit status %d", s.Code)
}

// Output is the captured result of the terminal stage.
type Output struct {
	Stdout []byte
	Stderr []byte
	Status ExitStatus
}

// Pipeline is an ordered list of stages whose adjacent standard streams
// are connected by OS pipes. A Pipeline value can be executed once.
//
// Stages before the last one are started and then left alone: the Runner
// never waits for them, so their lifetime ends when their pipes close.
// Reap waits for them explicitly. A spawn failure part-way through leaves
// the stages already started running; they are not killed.
type Pipeline struct {
	Stages []Stage

	// Stdin feeds the first stage. Nil means os.Stdin, except for a
	// single-stage Output, which reads from the null device. A reader that
	// is not an *os.File is copied into the stage by a goroutine that
	// finishes when the first stage is waited for: by the terminal action
	// in a single-stage pipeline, otherwise by Reap.
	Stdin io.Reader
	// Stdout receives the terminal stage's output for Spawn and Status.
	// Nil means os.Stdout.
	Stdout io.Writer
	// Stderr receives stderr of every upstream stage, and of the terminal
	// stage for Spawn and Status. Nil means os.Stderr.
	//
	// A writer that is not an *os.File is written under a lock. Upstream
	// stages share one pipe into it, drained by a single goroutine that
	// Reap joins: upstream stderr is complete, and the writer safe to read,
	// only once Reap has returned.
	Stderr io.Writer
	// PipeOutput makes Spawn expose the terminal stage's stdout and stderr
	// as readers on the Handle.
	PipeOutput bool

	log      *zap.Logger
	runID    string
	upstream []*exec.Cmd
	executed bool

	errOut     io.Writer     // Stderr as resolved for this run
	stderrDone chan struct{} // closed when the upstream stderr copier exits
}

// New returns a pipeline over a copy of stages.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{Stages: slices.Clone(stages)}
}

// Command starts a pipeline with a single stage.
func Command(program string, args ...string) *Pipeline {
	return New(NewStage(program, args...))
}

// Pipe appends a stage reading from the current last stage.
func (p *Pipeline) Pipe(program string, args ...string) *Pipeline {
	p.Stages = append(p.Stages, NewStage(program, args...))
	return p
}

// WithLogger sets the logger used for spawn diagnostics.
func (p *Pipeline) WithLogger(l *zap.Logger) *Pipeline {
	p.log = l
	return p
}

// RunID returns the id assigned at execution time, or "" before.
func (p *Pipeline) RunID() string { return p.runID }

// String renders the pipeline in description syntax.
func (p *Pipeline) String() string { return FormatStages(p.Stages) }

func (p *Pipeline) check() error {
	if p.executed {
		return &ConfigurationError{Msg: "pipeline already executed"}
	}
	if len(p.Stages) == 0 {
		return &ConfigurationError{Msg: "pipeline has no stages"}
	}
	for i, s := range p.Stages {
		if s.Program == "" {
			return &ConfigurationError{Msg: fmt.Sprintf("stage %d: empty program", i)}
		}
	}
	return nil
}

func (p *Pipeline) logger() *zap.Logger {
	if p.log == nil {
		return zap.NewNop()
	}
	return p.log
}

func (p *Pipeline) stdin() io.Reader {
	if p.Stdin == nil {
		return os.Stdin
	}
	return p.Stdin
}

func (p *Pipeline) stdout() io.Writer {
	if p.Stdout == nil {
		return os.Stdout
	}
	return p.Stdout
}

func (p *Pipeline) stderr() io.Writer {
	if p.Stderr == nil {
		return os.Stderr
	}
	return p.Stderr
}

// terminal is what an execution mode does with the last stage: prepare
// configures its output streams before start, finish collects the result.
type terminal[T any] struct {
	prepare func(cmd *exec.Cmd) error
	finish  func(cmd *exec.Cmd) (T, error)
}

// runWith starts stages 0..n-2 in order, each writing into a fresh OS pipe
// read by the next, then hands the last stage to t.
func runWith[T any](p *Pipeline, t terminal[T]) (T, error) {
	var zero T
	if err := p.check(); err != nil {
		return zero, err
	}
	p.executed = true
	p.runID = uuid.NewString()
	log := p.logger().With(zap.String("run_id", p.runID))

	n := len(p.Stages)
	upstreamErr, errPipe, err := p.openStderr(n)
	if err != nil {
		return zero, &SpawnError{Stage: 0, Program: p.Stages[0].Program, Err: err}
	}
	defer func() { closeFile(errPipe) }()

	var prev *os.File // read end of the previous stage's stdout
	for i, st := range p.Stages[:n-1] {
		cmd := exec.Command(st.Program, st.Args...)
		if prev != nil {
			cmd.Stdin = prev
		} else {
			cmd.Stdin = p.stdin()
		}
		r, w, err := os.Pipe()
		if err != nil {
			closeFile(prev)
			return zero, &SpawnError{Stage: i, Program: st.Program, Err: err}
		}
		cmd.Stdout = w
		cmd.Stderr = upstreamErr

		err = cmd.Start()
		// The child holds its own copies now.
		w.Close()
		closeFile(prev)
		if err != nil {
			r.Close()
			log.Debug("stage spawn failed", zap.Int("stage", i), zap.String("program", st.Program), zap.Error(err))
			return zero, &SpawnError{Stage: i, Program: st.Program, Err: err}
		}
		log.Debug("stage spawned", zap.Int("stage", i), zap.String("program", st.Program), zap.Int("pid", cmd.Process.Pid))
		p.upstream = append(p.upstream, cmd)
		prev = r
	}

	// Every upstream stage holds its own copy now; the copier sees EOF
	// once the last of them exits.
	closeFile(errPipe)
	errPipe = nil

	last := p.Stages[n-1]
	cmd := exec.Command(last.Program, last.Args...)
	if prev != nil {
		cmd.Stdin = prev
	}
	if err := t.prepare(cmd); err != nil {
		closeFile(prev)
		return zero, &SpawnError{Stage: n - 1, Program: last.Program, Err: err}
	}
	err = cmd.Start()
	closeFile(prev)
	if err != nil {
		log.Debug("stage spawn failed", zap.Int("stage", n-1), zap.String("program", last.Program), zap.Error(err))
		return zero, &SpawnError{Stage: n - 1, Program: last.Program, Err: err}
	}
	log.Debug("terminal stage spawned", zap.Int("stage", n-1), zap.String("program", last.Program), zap.Int("pid", cmd.Process.Pid))
	return t.finish(cmd)
}

// openStderr resolves where stage stderr goes for this run and returns the
// writer handed to upstream stages, plus the parent's copy of the shared
// pipe when there is one. A non-file Stderr is wrapped in a lockedWriter
// shared with the terminal stage; upstream stages write to one pipe
// drained into it by a single goroutine.
func (p *Pipeline) openStderr(n int) (io.Writer, *os.File, error) {
	p.errOut = p.stderr()
	if _, ok := p.errOut.(*os.File); ok {
		return p.errOut, nil, nil
	}
	lw := &lockedWriter{w: p.errOut}
	p.errOut = lw
	if n < 2 {
		return lw, nil, nil
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	p.stderrDone = done
	go func() {
		defer close(done)
		defer r.Close()
		io.Copy(lw, r)
	}()
	return w, w, nil
}

// lockedWriter serialises writes from the stderr copiers of several stages.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(b []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(b)
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}

// Spawn starts every stage and returns a handle to the last one.
func (p *Pipeline) Spawn() (*Handle, error) {
	h := &Handle{pipeline: p, stage: len(p.Stages) - 1}
	return runWith(p, terminal[*Handle]{
		prepare: func(cmd *exec.Cmd) error {
			if cmd.Stdin == nil {
				cmd.Stdin = p.stdin()
			}
			if !p.PipeOutput {
				cmd.Stdout = p.stdout()
				cmd.Stderr = p.errOut
				return nil
			}
			var err error
			if h.Stdout, err = cmd.StdoutPipe(); err != nil {
				return err
			}
			h.Stderr, err = cmd.StderrPipe()
			return err
		},
		finish: func(cmd *exec.Cmd) (*Handle, error) {
			h.cmd = cmd
			h.RunID = p.runID
			return h, nil
		},
	})
}

// Output starts every stage, waits for the last one and returns its
// captured stdout, stderr and exit status.
func (p *Pipeline) Output() (*Output, error) {
	var stdout, stderr bytes.Buffer
	last := len(p.Stages) - 1
	return runWith(p, terminal[*Output]{
		prepare: func(cmd *exec.Cmd) error {
			if cmd.Stdin == nil && p.Stdin != nil {
				cmd.Stdin = p.Stdin
			}
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			return nil
		},
		finish: func(cmd *exec.Cmd) (*Output, error) {
			status, err := waitStatus(cmd, last, PhaseCapture)
			if err != nil {
				return nil, err
			}
			return &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Status: status}, nil
		},
	})
}

// Status starts every stage, waits for the last one and returns its exit
// status.
func (p *Pipeline) Status() (ExitStatus, error) {
	last := len(p.Stages) - 1
	return runWith(p, terminal[ExitStatus]{
		prepare: func(cmd *exec.Cmd) error {
			if cmd.Stdin == nil {
				cmd.Stdin = p.stdin()
			}
			cmd.Stdout = p.stdout()
			cmd.Stderr = p.errOut
			return nil
		},
		finish: func(cmd *exec.Cmd) (ExitStatus, error) {
			return waitStatus(cmd, last, PhaseWait)
		},
	})
}

// Reap waits for the stages before the terminal one and returns their exit
// statuses in order, then for the upstream stderr copier. It is the only
// way those stages are ever waited on; call it after the terminal stage has
// finished reading, or it may block.
func (p *Pipeline) Reap() ([]ExitStatus, error) {
	statuses := make([]ExitStatus, len(p.upstream))
	var errs []error
	for i, cmd := range p.upstream {
		st, err := waitStatus(cmd, i, PhaseWait)
		if err != nil {
			errs = append(errs, err)
		}
		statuses[i] = st
	}
	p.upstream = nil
	if p.stderrDone != nil {
		<-p.stderrDone
		p.stderrDone = nil
	}
	return statuses, errors.Join(errs...)
}

// waitStatus waits for cmd. A non-zero exit is a status, not an error.
func waitStatus(cmd *exec.Cmd, stage int, op Phase) (ExitStatus, error) {
	err := cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return exitStatus(cmd.ProcessState), &IOError{Stage: stage, Program: cmd.Args[0], Op: op, Err: err}
	}
	return exitStatus(cmd.ProcessState), nil
}

// Handle is a running terminal stage.
type Handle struct {
	RunID string
	// Stdout and Stderr are set when the pipeline had PipeOutput.
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd      *exec.Cmd
	stage    int
	pipeline *Pipeline
}

// Pid returns the terminal process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Wait waits for the terminal stage to exit. With PipeOutput, read Stdout
// and Stderr to EOF first.
func (h *Handle) Wait() (ExitStatus, error) {
	return waitStatus(h.cmd, h.stage, PhaseWait)
}

// Output reads the piped stdout and stderr to EOF, then waits.
func (h *Handle) Output() (*Output, error) {
	if h.Stdout == nil || h.Stderr == nil {
		return nil, &ConfigurationError{Msg: "handle output requires PipeOutput"}
	}
	var (
		errOut  []byte
		errRead error
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		errOut, errRead = io.ReadAll(h.Stderr)
	}()
	out, err := io.ReadAll(h.Stdout)
	<-done

	program := h.cmd.Args[0]
	if err != nil {
		_ = h.cmd.Wait()
		return nil, &IOError{Stage: h.stage, Program: program, Op: PhaseCapture, Stream: "stdout", Err: err}
	}
	if errRead != nil {
		_ = h.cmd.Wait()
		return nil, &IOError{Stage: h.stage, Program: program, Op: PhaseCapture, Stream: "stderr", Err: errRead}
	}
	status, err := waitStatus(h.cmd, h.stage, PhaseCapture)
	if err != nil {
		return nil, err
	}
	return &Output{Stdout: out, Stderr: errOut, Status: status}, nil
}

// Reap waits for the stages feeding this one. See Pipeline.Reap.
func (h *Handle) Reap() ([]ExitStatus, error) {
	return h.pipeline.Reap()
}
