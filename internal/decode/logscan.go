package decode

import "strings"

// logEntry tags one raw log line with the outer/inner instruction index
// that produced it, derived from Solana's invoke-depth log framing
// ("Program <id> invoke [N]" ... "Program <id> success|failed").
type logEntry struct {
	line    string
	outerIx int
	innerIx *int // nil at depth 1 (top-level instruction scope)
}

// scanLogs walks a transaction's log_messages and assigns each line to
// the (outerIx, innerIx) of the instruction scope it was emitted in.
// Every top-level instruction — whether or not it itself logs anything
// — produces exactly one depth-1 invoke/success pair, so counting those
// pairs recovers the outer instruction index; CPI invokes nested inside
// recover the inner instruction index the same way, reset per outer
// scope.
func scanLogs(logs []string) []logEntry {
	out := make([]logEntry, 0, len(logs))

	depth := 0
	outerIx := -1
	innerCounter := 0

	for _, line := range logs {
		isInvoke := isInvokeLine(line)
		isExit := isExitLine(line)

		if isInvoke {
			depth++
			if depth == 1 {
				outerIx++
				innerCounter = 0
			} else {
				innerCounter++
			}
		}

		var innerIx *int
		if depth > 1 {
			idx := innerCounter - 1
			innerIx = &idx
		}
		out = append(out, logEntry{line: line, outerIx: outerIx, innerIx: innerIx})

		if isExit {
			depth--
			if depth < 0 {
				depth = 0
			}
		}
	}
	return out
}

func isInvokeLine(line string) bool {
	return strings.HasPrefix(line, "Program ") && strings.Contains(line, "invoke [")
}

func isExitLine(line string) bool {
	if !strings.HasPrefix(line, "Program ") {
		return false
	}
	return strings.HasSuffix(line, "success") || strings.Contains(line, "failed")
}
