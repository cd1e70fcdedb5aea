package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStarlarkEvaluator(t *testing.T) {
	ev := NewStarlarkEvaluator(map[string]string{"dir": "/var/log", "name": "app"})

	tests := []struct {
		src  string
		want string
	}{
		{`"ls"`, "ls"},
		{`"a" + "b"`, "ab"},
		{`str(1 + 2)`, "3"},
		{`1 + 2`, "3"},
		{`dir + "/" + name + ".log"`, "/var/log/app.log"},
		{`"%s-%d" % (name, 7)`, "app-7"},
		{`"-".join(["x", "y"])`, "x-y"},
		{`r"\d+"`, `\d+`},
		{`True`, "True"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := ev.Eval(Expr{Src: tt.src})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStarlarkEvaluatorErrors(t *testing.T) {
	ev := NewStarlarkEvaluator(nil)
	for _, src := range []string{`None`, `undefined_name`, `"a" +`, `1 / 0`} {
		t.Run(src, func(t *testing.T) {
			_, err := ev.Eval(Expr{Src: src})
			assert.Error(t, err)
		})
	}
}

func TestParseAndBuildStarlark(t *testing.T) {
	ev := NewStarlarkEvaluator(map[string]string{"pattern": "TODO"})
	stages, err := ParseAndBuild(`"grep", "-n", pattern => "sort", "-k" + str(2) => "head", "-" + str(5 * 2)`, ev)
	require.NoError(t, err)
	want := []Stage{
		NewStage("grep", "-n", "TODO"),
		NewStage("sort", "-k2"),
		NewStage("head", "-10"),
	}
	require.Len(t, stages, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(stages[i]), "stage %d: got %v", i, stages[i])
	}
}

func TestParseAndBuildStarlarkUndefined(t *testing.T) {
	ev := NewStarlarkEvaluator(nil)
	_, err := ParseAndBuild(`"echo", missing`, ev)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 8, pe.Offset)
}
