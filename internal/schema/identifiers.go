// Package schema compiles a ProgramDescriptor plus enablement flags into
// tenant-scoped relational DDL: per-event and per-instruction tables,
// the checkpoint/raw-log tables, optional CPI-transfer and
// balance-delta tables, and a declarative view compiler.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/uho-indexer/uho/internal/uhoerrors"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,62}$`)

// ValidIdentifier reports whether name is safe to emit as an unquoted
// SQL identifier body, per the compiler's `/^[a-zA-Z][a-zA-Z0-9_]{0,62}$/`
// invariant.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// quoteIdent validates then double-quotes an identifier for emission.
// Every identifier the compiler emits passes through here — it is the
// sole place table/column names reach a DDL string.
func quoteIdent(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", uhoerrors.NewValidationError(uhoerrors.CodeInvalidIDL, "invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

func mustQuoteIdent(name string) string {
	q, err := quoteIdent(name)
	if err != nil {
		// Callers validate names before constructing descriptors; a
		// panic here indicates an upstream invariant was violated, not
		// a normal runtime condition.
		panic(err)
	}
	return q
}

// quoteLiteral escapes a string for interpolation into a SQL literal by
// doubling single quotes — the only value interpolation the view
// compiler permits (§4.2).
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func fmtIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = mustQuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func eventTableName(programName, eventName string) string {
	return fmt.Sprintf("%s_%s", programName, eventName)
}

func instructionTableName(programName, instrName string) string {
	return fmt.Sprintf("%s_%s_ix", programName, instrName)
}

// EventTableName exposes the event-table naming rule to callers outside
// this package (the Writer binds decoded rows to the same table the
// compiler created for them).
func EventTableName(programName, eventName string) string {
	return eventTableName(programName, eventName)
}

// InstructionTableName exposes the instruction-table naming rule to
// callers outside this package, mirroring EventTableName.
func InstructionTableName(programName, instrName string) string {
	return instructionTableName(programName, instrName)
}
