package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelocantos/pipecmd/internal/audit"
	"github.com/marcelocantos/pipecmd/internal/broker"
	"github.com/marcelocantos/pipecmd/internal/pipeline"
	"github.com/marcelocantos/pipecmd/internal/rules"
)

func run(t *testing.T, b *broker.Broker, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := RunPipe(b, args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Options
		rest []string
	}{
		{"none", []string{"ls", "-l"}, Options{}, []string{"ls", "-l"}},
		{"output allow", []string{"--output", "--allow", "ls"}, Options{Output: true, Allow: true}, []string{"ls"}},
		{"expr", []string{"--expr", `"ls"`}, Options{Expr: true}, []string{`"ls"`}},
		{"literal", []string{"--literal", "ls, -a"}, Options{Expr: true, Literal: true}, []string{"ls, -a"}},
		{"double dash", []string{"--output", "--", "--weird"}, Options{Output: true}, []string{"--weird"}},
		{"flags stop at program", []string{"grep", "--output"}, Options{}, []string{"grep", "--output"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, rest, err := ParseOptions(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, opts)
			assert.Equal(t, tt.rest, rest)
		})
	}

	_, _, err := ParseOptions([]string{"--bogus", "ls"})
	assert.Error(t, err)
}

func TestRunPipeStatus(t *testing.T) {
	code, out, _ := run(t, broker.New(), "echo", "hello", "=>", "tr", "a-z", "A-Z")
	assert.Equal(t, 0, code)
	assert.Equal(t, "HELLO\n", out)
}

func TestRunPipeExitCode(t *testing.T) {
	code, _, _ := run(t, broker.New(), "echo", "x", "=>", "sh", "-c", "cat >/dev/null; exit 7")
	assert.Equal(t, 7, code)
}

func TestRunPipeOutput(t *testing.T) {
	code, out, errOut := run(t, broker.New(), "--output", "sh", "-c", "echo out; echo err >&2")
	assert.Equal(t, 0, code)
	assert.Equal(t, "out\n", out)
	assert.Equal(t, "err\n", errOut)
}

func TestRunPipeExpr(t *testing.T) {
	b := broker.New()
	b.Vars = map[string]string{"greeting": "hi"}
	code, out, _ := run(t, b, "--expr", "--output", `"echo", greeting + " there"`, "=>", `"wc", "-w"`)
	assert.Equal(t, 0, code)
	assert.Equal(t, "2", strings.TrimSpace(out))
}

func TestRunPipeUpstreamStderr(t *testing.T) {
	for i := 0; i < 10; i++ {
		code, out, errOut := run(t, broker.New(), "sh", "-c", "echo up >&2; echo x", "=>", "sh", "-c", "cat; echo down >&2")
		assert.Equal(t, 0, code)
		assert.Equal(t, "x\n", out)
		assert.Contains(t, errOut, "up\n", "run %d", i)
		assert.Contains(t, errOut, "down\n", "run %d", i)
	}
}

func TestRunPipeLiteral(t *testing.T) {
	code, out, _ := run(t, broker.New(), "--literal", "--output", "echo, 'a b', \"c\\td\"", "=>", "wc, -w")
	assert.Equal(t, 0, code)
	assert.Equal(t, "4", strings.TrimSpace(out))
}

func TestRunPipeParseError(t *testing.T) {
	code, _, errOut := run(t, broker.New(), "echo", "=>")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "pipecmd: parse:")

	code, _, _ = run(t, broker.New())
	assert.Equal(t, 2, code)
}

func TestRunPipeSpawnError(t *testing.T) {
	code, _, errOut := run(t, broker.New(), "nonexistent-binary-xyz-123", "=>", "cat")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "pipecmd: spawn: stage 0 (nonexistent-binary-xyz-123)")
}

func TestRunPipeDenied(t *testing.T) {
	code, _, errOut := run(t, broker.New(), "rm", "-rf", "/")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "denied")
}

func TestRunPipeAllowBypassesConfigRules(t *testing.T) {
	b := broker.New()
	rs := rules.NewRuleSet(rules.Hardcoded()...)
	for _, fn := range rules.CompileProgramRule("echo", rules.ProgramRuleConfig{RejectFlags: []string{"-n"}}) {
		rs.AddConfig(fn)
	}
	b.Rules = rs

	code, _, _ := run(t, b, "echo", "-n", "x")
	assert.Equal(t, 1, code)

	code, out, _ := run(t, b, "--allow", "echo", "-n", "x")
	assert.Equal(t, 0, code)
	assert.Equal(t, "x", out)
}

func TestRunParse(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := RunParse(broker.New(), []string{`"ls", "-a" => "wc", "-l"`}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var stages []pipeline.Stage
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stages))
	require.Len(t, stages, 2)
	assert.True(t, stages[0].Equal(pipeline.NewStage("ls", "-a")))
	assert.True(t, stages[1].Equal(pipeline.NewStage("wc", "-l")))

	stdout.Reset()
	code = RunParse(broker.New(), []string{"--literal", "grep, -v, x => wc"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stages))
	require.Len(t, stages, 2)
	assert.True(t, stages[0].Equal(pipeline.NewStage("grep", "-v", "x")))

	stderr.Reset()
	code = RunParse(broker.New(), []string{`"ls",`}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "parse")
}

func TestRunAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := audit.NewLogger(path)
	require.NoError(t, err)
	b := broker.New()
	b.Audit = logger

	code, _, _ := run(t, b, "--output", "echo", "audited")
	require.Equal(t, 0, code)

	var w bytes.Buffer
	assert.Equal(t, 0, RunAudit(&w, path, []string{"verify"}))
	assert.Contains(t, w.String(), "verified")

	w.Reset()
	assert.Equal(t, 0, RunAudit(&w, path, []string{"tail", "5"}))
	var entry audit.Entry
	require.NoError(t, json.Unmarshal(w.Bytes(), &entry))
	assert.Equal(t, "cli", entry.Source)
	assert.Equal(t, []string{"echo"}, entry.Programs)

	w.Reset()
	assert.Equal(t, 0, RunAudit(&w, path, []string{"run", entry.RunID}))
	assert.Contains(t, w.String(), entry.RunID)

	w.Reset()
	assert.Equal(t, 1, RunAudit(&w, path, []string{"tail", "zero"}))
	assert.Equal(t, 1, RunAudit(&w, path, []string{"bogus"}))
	assert.Equal(t, 1, RunAudit(&w, path, nil))
}

func TestRunHelp(t *testing.T) {
	var w bytes.Buffer
	assert.Equal(t, 0, RunHelp(&w))
	assert.Contains(t, w.String(), pipeline.OpPipe)
}
