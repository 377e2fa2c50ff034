package sandbox

import (
	"errors"
	"fmt"

	"github.com/ankittk/deskpilot/internal/action"
)

// Rule identifies which sandbox check denied an action or task.
type Rule string

const (
	RuleRateLimit      Rule = "rate_limit"
	RuleInstruction    Rule = "instruction"
	RuleSensitiveText  Rule = "sensitive_text"
	RuleDestructiveSQL Rule = "destructive_sql"
	RuleInvalidURL     Rule = "invalid_url"
	RuleInternet       Rule = "internet_disabled"
	RuleDomain         Rule = "domain_not_allowed"
	RuleResolve        Rule = "dns_resolution"
	RulePrivateAddress Rule = "private_address"
	RuleSensitivePort  Rule = "sensitive_port"
	RuleTraversal      Rule = "path_traversal"
	RuleBlockedPath    Rule = "blocked_path"
	RuleFileSize       Rule = "file_size"
)

// Violation is returned by every sandbox check that denies. Kind is empty
// for task-level checks.
type Violation struct {
	Rule   Rule
	Kind   action.Kind
	Reason string
}

func (v *Violation) Error() string {
	if v.Kind != "" {
		return fmt.Sprintf("policy violation [%s] on %s: %s", v.Rule, v.Kind, v.Reason)
	}
	return fmt.Sprintf("policy violation [%s]: %s", v.Rule, v.Reason)
}

// AsViolation unwraps err to a *Violation.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

func deny(rule Rule, format string, args ...any) *Violation {
	return &Violation{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}
