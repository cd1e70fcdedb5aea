package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/marcelocantos/pipecmd/internal/broker"
)

// RunParse prints the stages of a description as JSON without running
// anything: pipecmd --parse [--literal] '<description>'
func RunParse(b *broker.Broker, args []string, stdout, stderr io.Writer) int {
	parse := b.ParseExpr
	if len(args) > 0 && args[0] == "--literal" {
		parse = b.ParseLiteral
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: pipecmd --parse [--literal] '<description>'")
		return 2
	}
	stages, err := parse(strings.Join(args, " "))
	if err != nil {
		return reportError(stderr, err)
	}
	data, err := json.MarshalIndent(stages, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "pipecmd: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "%s\n", data)
	return 0
}
