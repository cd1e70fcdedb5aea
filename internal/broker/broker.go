// Package broker runs pipelines on behalf of the CLI and MCP surfaces:
// it applies rules, executes, records an audit entry and logs the outcome.
package broker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/marcelocantos/pipecmd/internal/audit"
	"github.com/marcelocantos/pipecmd/internal/pipeline"
	"github.com/marcelocantos/pipecmd/internal/rules"
)

// Mode selects how the terminal stage's outcome is observed.
type Mode string

const (
	ModeStatus Mode = "status"
	ModeOutput Mode = "output"
)

// Broker holds what every execution needs. Audit may be nil.
type Broker struct {
	Rules *rules.RuleSet
	Audit *audit.Logger
	Log   *zap.Logger
	// Vars are predeclared when evaluating descriptions.
	Vars map[string]string
	// ReapUpstream waits for non-terminal stages in the background once
	// the terminal stage is done. Long-lived callers set it so finished
	// stages do not linger as zombies.
	ReapUpstream bool
}

// Request is one pipeline execution.
type Request struct {
	Stages []pipeline.Stage
	Mode   Mode
	Allow  bool   // bypass config rules
	Source string // recorded in the audit log
	// WaitUpstream reaps the non-terminal stages before Run returns, so
	// their stderr has been fully written to Stderr.
	WaitUpstream bool

	Stdin  io.Reader
	Stdout io.Writer // status mode only
	Stderr io.Writer
}

// Result is the outcome of a successful execution.
type Result struct {
	RunID  string
	Status pipeline.ExitStatus
	Stdout []byte // output mode only
	Stderr []byte // output mode only
	// Upstream holds the non-terminal exit statuses when the request set
	// WaitUpstream.
	Upstream []pipeline.ExitStatus
}

// DeniedError reports a stage rejected by the rules.
type DeniedError struct {
	Err error
}

func (e *DeniedError) Error() string { return "denied: " + e.Err.Error() }
func (e *DeniedError) Unwrap() error { return e.Err }

// New returns a broker with a no-op logger and the hardcoded rules.
func New() *Broker {
	return &Broker{
		Rules: rules.NewRuleSet(rules.Hardcoded()...),
		Log:   zap.NewNop(),
	}
}

// ParseExpr parses a description and evaluates its expressions with the
// broker's variables.
func (b *Broker) ParseExpr(desc string) ([]pipeline.Stage, error) {
	return pipeline.ParseAndBuild(desc, pipeline.NewStarlarkEvaluator(b.Vars))
}

// ParseLiteral parses a description whose expressions are plain words or
// quoted strings, with no evaluation.
func (b *Broker) ParseLiteral(desc string) ([]pipeline.Stage, error) {
	return pipeline.ParseAndBuild(desc, pipeline.Literal)
}

// Run checks req against the rules and executes it.
func (b *Broker) Run(req Request) (*Result, error) {
	start := time.Now()
	p := pipeline.New(req.Stages...).WithLogger(b.Log)
	p.Stdin = req.Stdin
	p.Stdout = req.Stdout
	p.Stderr = req.Stderr

	res, err := b.run(p, req)
	if err != nil && req.WaitUpstream {
		// Stages started before a failure still write to req.Stderr.
		b.reap(p)
	}
	b.record(p, req, res, err, time.Since(start))
	return res, err
}

func (b *Broker) run(p *pipeline.Pipeline, req Request) (*Result, error) {
	argvs := make([][]string, len(req.Stages))
	for i, s := range req.Stages {
		argvs[i] = s.Argv()
	}
	if b.Rules != nil {
		if err := b.Rules.CheckArgv(argvs, req.Allow); err != nil {
			return nil, &DeniedError{Err: err}
		}
	}

	var res *Result
	switch req.Mode {
	case ModeOutput:
		out, err := p.Output()
		if err != nil {
			return nil, err
		}
		res = &Result{RunID: p.RunID(), Status: out.Status, Stdout: out.Stdout, Stderr: out.Stderr}
	case ModeStatus, "":
		status, err := p.Status()
		if err != nil {
			return nil, err
		}
		res = &Result{RunID: p.RunID(), Status: status}
	default:
		return nil, &pipeline.ConfigurationError{Msg: fmt.Sprintf("unknown mode %q", req.Mode)}
	}

	switch {
	case req.WaitUpstream:
		res.Upstream = b.reap(p)
	case b.ReapUpstream:
		go b.reap(p)
	}
	return res, nil
}

func (b *Broker) reap(p *pipeline.Pipeline) []pipeline.ExitStatus {
	statuses, err := p.Reap()
	log := b.logger().With(zap.String("run_id", p.RunID()))
	if err != nil {
		log.Warn("reap upstream stages", zap.Error(err))
	}
	for i, st := range statuses {
		log.Debug("upstream stage exited", zap.Int("stage", i), zap.Int("exit_code", st.Code))
	}
	return statuses
}

func (b *Broker) record(p *pipeline.Pipeline, req Request, res *Result, err error, d time.Duration) {
	log := b.logger().With(zap.String("run_id", p.RunID()), zap.String("pipeline", p.String()))
	rec := audit.Record{
		RunID:    p.RunID(),
		Source:   req.Source,
		Mode:     string(req.Mode),
		Pipeline: p.String(),
		Programs: pipeline.Programs(req.Stages),
		Allow:    req.Allow,
		ExitCode: -1,
		Err:      err,
		Duration: d,
	}
	if rec.Mode == "" {
		rec.Mode = string(ModeStatus)
	}
	switch {
	case err == nil:
		rec.ExitCode = res.Status.Code
		log.Info("pipeline finished", zap.Int("exit_code", res.Status.Code), zap.Duration("duration", d))
	case errors.As(err, new(*DeniedError)):
		rec.Phase = "rules"
		log.Warn("pipeline denied", zap.Error(err))
	default:
		rec.Phase = string(pipeline.PhaseOf(err))
		log.Error("pipeline failed", zap.String("phase", rec.Phase), zap.Error(err))
	}

	if b.Audit == nil {
		return
	}
	rec.Cwd, _ = os.Getwd()
	// Best-effort: a failing audit log must not fail the command.
	if aerr := b.Audit.Log(rec); aerr != nil {
		log.Warn("audit log write failed", zap.Error(aerr))
	}
}

func (b *Broker) logger() *zap.Logger {
	if b.Log == nil {
		return zap.NewNop()
	}
	return b.Log
}
