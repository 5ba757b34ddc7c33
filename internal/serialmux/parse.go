package serialmux

import "strings"

const (
	LineTypeTable   = "table"
	LineTypeStatus  = "status"
	LineTypeBlank   = "blank"
	LineTypeUnknown = "unknown"
)

// ClassifyLine inspects a line from the vision coprocessor and returns a
// simple type token. Table updates are JSON objects; status lines start
// with '#'.
func ClassifyLine(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return LineTypeBlank
	case strings.HasPrefix(trimmed, "{"):
		return LineTypeTable
	case strings.HasPrefix(trimmed, "#"):
		return LineTypeStatus
	default:
		return LineTypeUnknown
	}
}
