package testdef

import (
	"regexp"

	"github.com/supercheck-io/supercheck/internal/apperr"
)

// loadTestImport matches the load-test framework's required top-level import,
// e.g. `import http from 'k6/http'` or `import { check } from 'k6'`.
var loadTestImport = regexp.MustCompile(`(?m)^\s*import\s+.*['"]k6(/[\w-]+)?['"]`)

// defaultExport matches the script's required default entry point.
var defaultExport = regexp.MustCompile(`(?m)^\s*export\s+default\s+function`)

// forbiddenModules lists imports a load-test script MUST NOT declare
// (§4.3 step 5): filesystem and process access have no meaning inside the
// sandboxed load-test runtime and are rejected outright rather than
// silently ignored.
var forbiddenModules = []string{"fs", "child_process", "net", "http2"}

var forbiddenImport = regexp.MustCompile(`(?m)^\s*import\s+.*['"](` + joinAlternatives(forbiddenModules) + `)['"]`)

// topLevelAwait matches an await expression outside of any function body by
// looking for it at column zero indentation, which the load-test runtime
// cannot schedule.
var topLevelAwait = regexp.MustCompile(`(?m)^(async\s+)?\bawait\b`)

func joinAlternatives(mods []string) string {
	out := mods[0]
	for _, m := range mods[1:] {
		out += "|" + m
	}
	return out
}

// ValidateLoadTestScript enforces §4.3 step 5's structural requirements for
// a performance test's script body.
func ValidateLoadTestScript(script string) error {
	if !loadTestImport.MatchString(script) {
		return apperr.New(apperr.KindValidation, "load-test script must import the k6 framework").WithField("script")
	}
	if !defaultExport.MatchString(script) {
		return apperr.New(apperr.KindValidation, "load-test script must declare a default entry point").WithField("script")
	}
	if forbiddenImport.MatchString(script) {
		return apperr.New(apperr.KindValidation, "load-test script imports a forbidden module").WithField("script")
	}
	if topLevelAwait.MatchString(script) {
		return apperr.New(apperr.KindValidation, "load-test script must not use top-level async/await").WithField("script")
	}
	return nil
}

// Validate enforces the structural requirements appropriate to t.Type.
func (t Test) Validate() error {
	if t.Script == "" {
		return apperr.New(apperr.KindValidation, "script must not be empty").WithField("script")
	}
	if t.Type == TypePerformance {
		return ValidateLoadTestScript(t.Script)
	}
	return nil
}
