package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/marcelocantos/pipecmd/internal/audit"
)

const defaultTail = 20

// RunAudit handles pipecmd --audit <verify|show|tail [n]|run <id>>.
func RunAudit(w io.Writer, logPath string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(w, "usage: pipecmd --audit <verify|show|tail [n]|run <id>>")
		return 1
	}

	switch args[0] {
	case "verify":
		if err := audit.Verify(logPath); err != nil {
			fmt.Fprintf(w, "audit verification FAILED: %v\n", err)
			return 1
		}
		fmt.Fprintln(w, "audit log integrity verified")
		return 0

	case "show", "tail":
		n := defaultTail
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v <= 0 {
				fmt.Fprintf(w, "pipecmd audit: invalid count %q\n", args[1])
				return 1
			}
			n = v
		}
		entries, err := audit.Tail(logPath, n)
		if err != nil {
			fmt.Fprintf(w, "pipecmd audit: %v\n", err)
			return 1
		}
		return printEntries(w, entries)

	case "run":
		if len(args) < 2 {
			fmt.Fprintln(w, "usage: pipecmd --audit run <id>")
			return 1
		}
		entries, err := audit.FindRun(logPath, args[1])
		if err != nil {
			fmt.Fprintf(w, "pipecmd audit: %v\n", err)
			return 1
		}
		return printEntries(w, entries)

	default:
		fmt.Fprintf(w, "pipecmd audit: unknown subcommand %q\n", args[0])
		return 1
	}
}

func printEntries(w io.Writer, entries []audit.Entry) int {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit entries")
		return 0
	}
	for _, e := range entries {
		data, _ := json.MarshalIndent(e, "", "  ")
		fmt.Fprintf(w, "%s\n", data)
	}
	return 0
}
