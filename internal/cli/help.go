package cli

import (
	"fmt"
	"io"

	"github.com/marcelocantos/pipecmd/internal/pipeline"
)

// RunHelp prints general usage.
func RunHelp(w io.Writer) int {
	fmt.Fprintln(w, "pipecmd: run process pipelines without a shell")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "usage:")
	fmt.Fprintf(w, "  pipecmd [--output] [--allow] <prog> [args...] %s <prog> [args...]\n", pipeline.OpPipe)
	fmt.Fprintln(w, "  pipecmd --expr [--output] [--allow] '<description>'")
	fmt.Fprintln(w, "  pipecmd --literal [--output] [--allow] '<description>'")
	fmt.Fprintln(w, "  pipecmd --parse [--literal] '<description>'   print stages as JSON")
	fmt.Fprintln(w, "  pipecmd --audit <verify|show|tail [n]|run <id>>")
	fmt.Fprintln(w, "  pipecmd --mcp                         serve MCP tools on stdio")
	fmt.Fprintln(w, "  pipecmd --help | --version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	fmt.Fprintln(w, "  --output   capture the last stage's stdout/stderr, then print them")
	fmt.Fprintln(w, "  --allow    bypass config rules (hardcoded rules still apply)")
	fmt.Fprintln(w, "  --expr     treat the arguments as one description")
	fmt.Fprintln(w, "  --literal  like --expr, but exprs are bare words or quoted strings")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "description syntax:")
	fmt.Fprintf(w, "  pipeline := stage (%q stage)*\n", pipeline.OpPipe)
	fmt.Fprintf(w, "  stage    := expr (%q expr)*   first expr is the program\n", pipeline.OpArgSep)
	fmt.Fprintln(w, "  exprs are Starlark expressions; config vars are predeclared, e.g.")
	fmt.Fprintf(w, "    '\"grep\", \"-rn\", pattern %s \"head\", \"-\" + str(5)'\n", pipeline.OpPipe)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "exit status is the last stage's; 2 for pipecmd errors, 1 for rule denials.")
	return 0
}
