package rules

import "fmt"

// ProgramRuleConfig represents one program's rules from YAML config.
type ProgramRuleConfig struct {
	Deny        bool                     `yaml:"deny"`
	RejectFlags []string                 `yaml:"reject_flags"`
	Subcommands map[string]SubRuleConfig `yaml:"subcommands"`
}

// SubRuleConfig represents rules for a specific subcommand.
type SubRuleConfig struct {
	RejectFlags []string `yaml:"reject_flags"`
}

const allowHint = "Ask the user for explicit permission, then retry with: pipecmd --allow ..."

// CompileProgramRule turns a single program's config into CheckFuncs.
// Rules match on the program's base name, so /bin/rm and rm are the same.
func CompileProgramRule(program string, cfg ProgramRuleConfig) []CheckFunc {
	var fns []CheckFunc

	if cfg.Deny {
		fns = append(fns, func(p string, _ []string) error {
			if p != program {
				return nil
			}
			return fmt.Errorf("%s is denied (config rule). %s", program, allowHint)
		})
	}

	if len(cfg.RejectFlags) > 0 {
		flags := cfg.RejectFlags
		fns = append(fns, func(p string, args []string) error {
			if p != program {
				return nil
			}
			if hasAnyFlag(args, flags...) {
				return fmt.Errorf("rejected flag (config rule). %s", allowHint)
			}
			return nil
		})
	}

	for subcmd, subRule := range cfg.Subcommands {
		if len(subRule.RejectFlags) == 0 {
			continue
		}
		flags := subRule.RejectFlags
		sub := subcmd
		fns = append(fns, func(p string, args []string) error {
			if p != program || len(args) == 0 || args[0] != sub {
				return nil
			}
			if hasAnyFlag(args[1:], flags...) {
				return fmt.Errorf("%s: rejected flag (config rule). %s", sub, allowHint)
			}
			return nil
		})
	}

	return fns
}
