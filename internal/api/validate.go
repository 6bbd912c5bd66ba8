package api

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/freeitw/freeitw/internal/lambda"
)

// validateLambda rejects a lambda at insert time if its script cannot
// possibly run. For Bash this means it must parse as shell syntax; this is
// deliberately a syntax check only, not the command-allowlist validation a
// multi-tenant deployment would need -- out of scope for a trusted-operator
// control plane.
func validateLambda(l *lambda.Lambda) error {
	if l.Kind != lambda.KindBash {
		return nil
	}
	parser := syntax.NewParser()
	_, err := parser.Parse(strings.NewReader(l.Script), "")
	if err != nil {
		return fmt.Errorf("invalid bash syntax: %w", err)
	}
	return nil
}
