package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/marcelocantos/pipecmd/internal/audit"
	"github.com/marcelocantos/pipecmd/internal/broker"
	"github.com/marcelocantos/pipecmd/internal/cli"
	"github.com/marcelocantos/pipecmd/internal/config"
	"github.com/marcelocantos/pipecmd/internal/logging"
	"github.com/marcelocantos/pipecmd/internal/mcpserver"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		cli.RunHelp(os.Stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipecmd: config: %v\n", err)
		return 2
	}

	log := logging.NewOrNop(cfg.Logging())
	defer log.Sync()

	b := &broker.Broker{
		Rules: cfg.RuleSet(),
		Log:   log,
		Vars:  cfg.Vars,
	}
	if cfg.Audit.Enabled {
		al, err := audit.NewLogger(cfg.Audit.Path)
		if err != nil {
			// Continue without audit logging.
			log.Warn("audit log unavailable", zap.String("path", cfg.Audit.Path), zap.Error(err))
		} else {
			b.Audit = al
		}
	}

	switch os.Args[1] {
	case "--help":
		return cli.RunHelp(os.Stdout)
	case "--version":
		fmt.Printf("pipecmd %s\n", version)
		return 0
	case "--audit":
		return cli.RunAudit(os.Stdout, cfg.Audit.Path, os.Args[2:])
	case "--parse":
		return cli.RunParse(b, os.Args[2:], os.Stdout, os.Stderr)
	case "--mcp":
		b.ReapUpstream = true
		if err := mcpserver.Serve(b, version); err != nil {
			log.Error("mcp server", zap.Error(err))
			fmt.Fprintf(os.Stderr, "pipecmd: mcp: %v\n", err)
			return 2
		}
		return 0
	default:
		return cli.RunPipe(b, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	}
}
