package registry

import (
	"regexp"
	"strings"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcpproc"
)

// idPattern, envVarPattern: adapted directly from the teacher's
// internal/domain/registry/validate.go namePattern/envVarPattern, narrowed
// to this spec's server-id and env-var-name rules (spec.md §3, §4.10).
var (
	idPattern     = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	envVarPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

const maxEnvValueLen = 10_000

// ValidateID checks the server-id shape.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return errs.New(errs.BadInput, "server id must match ^[a-z][a-z0-9-]*$")
	}
	return nil
}

// ValidateCommand checks the command against the process allow-list, per
// spec.md §6. The Registry enforces this on write; the Supervisor
// (internal/mcpproc) re-checks it again at spawn time.
func ValidateCommand(command string) error {
	if !mcpproc.AllowedCommands[command] {
		return errs.New(errs.CommandDenied, "command \""+command+"\" is not on the allow-list")
	}
	return nil
}

// ValidateEnv checks env var name shape and value constraints, per
// spec.md §4.10: name `[A-Z_][A-Z0-9_]*`, value <= 10000 chars, no NUL or
// control chars other than tab.
func ValidateEnv(env map[string]string) error {
	for k, v := range env {
		if !envVarPattern.MatchString(k) {
			return errs.New(errs.BadInput, "invalid env var name: "+k)
		}
		if len(v) > maxEnvValueLen {
			return errs.New(errs.BadInput, "env var value too long: "+k)
		}
		if strings.IndexFunc(v, isControlOrNUL) >= 0 {
			return errs.New(errs.BadInput, "env var value contains control characters: "+k)
		}
	}
	return nil
}

func isControlOrNUL(r rune) bool {
	return r == 0 || (r < 0x20 && r != '\t')
}

// Validate runs all create-time checks on a ServerConfig.
func Validate(cfg ServerConfig) error {
	if err := ValidateID(cfg.ID); err != nil {
		return err
	}
	if cfg.Name == "" {
		return errs.New(errs.BadInput, "name is required")
	}
	if err := ValidateCommand(cfg.Command); err != nil {
		return err
	}
	if err := ValidateEnv(cfg.Env); err != nil {
		return err
	}
	return nil
}
