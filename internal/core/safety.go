package core

import "strings"

// blockedKeywords lists the statement prefixes rejected by the safety gate.
var blockedKeywords = []string{"drop", "truncate", "delete", "update", "insert", "create", "alter"}

// ValidateQuery inspects the leading keyword of the trimmed statement and
// returns a ForbiddenError if it is a mutating or structural operation.
// This is a prefix blocklist, not a parser: multi-statement payloads or
// comments before the keyword are not caught.
func ValidateQuery(sqlText string) error {
	trimmed := strings.ToLower(strings.TrimSpace(sqlText))
	for _, kw := range blockedKeywords {
		if strings.HasPrefix(trimmed, kw) {
			return &ForbiddenError{Keyword: strings.ToUpper(kw)}
		}
	}
	return nil
}

// QueryType classifies a statement by its leading keyword.
func QueryType(sqlText string) string {
	trimmed := strings.ToLower(strings.TrimSpace(sqlText))
	for _, kw := range []string{"select", "insert", "update", "delete", "create", "alter", "drop"} {
		if strings.HasPrefix(trimmed, kw) {
			return strings.ToUpper(kw)
		}
	}
	return "OTHER"
}

// IsSelect reports whether the trimmed statement starts with SELECT.
func IsSelect(sqlText string) bool {
	return QueryType(sqlText) == "SELECT"
}
