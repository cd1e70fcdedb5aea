package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func srcs(spec StageSpec) []string {
	out := make([]string, len(spec.Exprs))
	for i, e := range spec.Exprs {
		out[i] = e.Src
	}
	return out
}

func TestParseSingleStage(t *testing.T) {
	specs, err := Parse(`p, a1, a2`)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"p", "a1", "a2"}, srcs(specs[0]))

	stages, err := Build(specs, Literal)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "p", stages[0].Program)
	assert.Equal(t, []string{"a1", "a2"}, stages[0].Args)
}

func TestParseThreeStages(t *testing.T) {
	stages, err := ParseAndBuild(`p1, a => p2, b, c => p3`, Literal)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, Programs(stages))
	assert.Equal(t, []string{"a"}, stages[0].Args)
	assert.Equal(t, []string{"b", "c"}, stages[1].Args)
	assert.Empty(t, stages[2].Args)
}

func TestParseOffsets(t *testing.T) {
	specs, err := Parse(`ls,  -a =>wc`)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, 0, specs[0].Exprs[0].Offset)
	assert.Equal(t, 5, specs[0].Exprs[1].Offset)
	assert.Equal(t, 10, specs[1].Exprs[0].Offset)
}

func TestParseSeparatorsInsideLiterals(t *testing.T) {
	tests := []struct {
		name string
		desc string
		want [][]string
	}{
		{"comma in string", `"echo", "a, b"`, [][]string{{`"echo"`, `"a, b"`}}},
		{"pipe in string", `"echo", "x => y" => "cat"`, [][]string{{`"echo"`, `"x => y"`}, {`"cat"`}}},
		{"single quotes", `'echo', 'it''s'`, [][]string{{`'echo'`, `'it''s'`}}},
		{"escaped quote", `"echo", "say \"hi, there\""`, [][]string{{`"echo"`, `"say \"hi, there\""`}}},
		{"triple quoted", `"echo", """a "quoted", b"""`, [][]string{{`"echo"`, `"""a "quoted", b"""`}}},
		{"call args", `"echo", "-".join(["a", "b"]) => "wc"`, [][]string{{`"echo"`, `"-".join(["a", "b"])`}, {`"wc"`}}},
		{"dict literal", `"echo", str({"k": 1, "j": 2})`, [][]string{{`"echo"`, `str({"k": 1, "j": 2})`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := Parse(tt.desc)
			require.NoError(t, err)
			require.Len(t, specs, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w, srcs(specs[i]), "stage %d", i)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		desc string
	}{
		{"empty", ""},
		{"whitespace", "   \t"},
		{"dangling pipe", "ls =>"},
		{"dangling pipe with space", "ls => "},
		{"leading pipe", "=> ls"},
		{"double pipe", "ls => => wc"},
		{"empty expression", "ls, , -a"},
		{"trailing comma", "ls, -a,"},
		{"leading comma", ", ls"},
		{"unterminated string", `"echo", "abc`},
		{"unbalanced close", `"echo", x)`},
		{"missing close", `"echo", f(1, 2`},
		{"mismatched brackets", `"echo", [1, 2)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.desc)
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "want *ParseError, got %T", err)
			assert.Equal(t, PhaseParse, PhaseOf(err))
		})
	}
}

func TestParseDanglingPipeMessage(t *testing.T) {
	_, err := Parse("ls =>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangling")
}

func TestParseArgsSingleStage(t *testing.T) {
	stages, err := ParseArgs([]string{"grep", "-r", "TODO", "src/"})
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.True(t, stages[0].Equal(NewStage("grep", "-r", "TODO", "src/")))
}

func TestParseArgsPipeline(t *testing.T) {
	args := []string{"grep", "-r", "TODO", "src/", "=>", "sort", "=>", "uniq", "-c", "=>", "head", "-20"}
	stages, err := ParseArgs(args)
	require.NoError(t, err)
	want := []Stage{
		NewStage("grep", "-r", "TODO", "src/"),
		NewStage("sort"),
		NewStage("uniq", "-c"),
		NewStage("head", "-20"),
	}
	require.Len(t, stages, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(stages[i]), "stage %d: want %v, got %v", i, want[i], stages[i])
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"empty", nil},
		{"leading pipe", []string{"=>", "grep", "foo"}},
		{"trailing pipe", []string{"grep", "foo", "=>"}},
		{"double pipe", []string{"cat", "=>", "=>", "wc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
		})
	}
}

func TestBuildEvaluationError(t *testing.T) {
	failing := EvaluatorFunc(func(e Expr) (string, error) {
		if e.Src == "bad" {
			return "", errors.New("boom")
		}
		return e.Src, nil
	})
	_, err := ParseAndBuild("ls, bad", failing)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 4, pe.Offset)
	assert.Contains(t, err.Error(), "boom")
}

func TestLiteralEvaluator(t *testing.T) {
	stages, err := ParseAndBuild(`echo, "a, b", 'c d', -n`, Literal)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, []string{"a, b", "c d", "-n"}, stages[0].Args)
}

func TestFormatStagesRoundTrip(t *testing.T) {
	stages := []Stage{NewStage("echo", "a, b", `q"uote`), NewStage("wc", "-l")}
	got, err := ParseAndBuild(FormatStages(stages), Literal)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range stages {
		assert.True(t, stages[i].Equal(got[i]))
	}
}

func TestNewStageCopiesArgs(t *testing.T) {
	args := []string{"-a", "-l"}
	s := NewStage("ls", args...)
	args[0] = "-x"
	assert.Equal(t, []string{"-a", "-l"}, s.Args)
	assert.Equal(t, []string{"ls", "-a", "-l"}, s.Argv())
	assert.Equal(t, `"ls", "-a", "-l"`, s.String())
}
