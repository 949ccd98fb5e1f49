package node

import (
	"strings"

	"github.com/stratadb/strata/lib/command"
)

// --------------------------------------------------------------------------
// Severity Classification
// --------------------------------------------------------------------------

// Severity is the logging tier assigned to a classified error signal.
type Severity int

const (
	// SeverityInfo marks routine client-level failures.
	SeverityInfo Severity = iota

	// SeverityNotice marks anomalous but non-urgent signals (_HMMM_).
	// Notices are rendered at the logger's info level.
	SeverityNotice

	// SeverityWarning marks signals an operator should look at (_WARN_).
	SeverityWarning

	// SeverityAlert marks paging-worthy signals (_ALERT_ or any 5xx).
	SeverityAlert
)

// String returns the lowercase tier name.
func (s Severity) String() string {
	switch s {
	case SeverityAlert:
		return "alert"
	case SeverityWarning:
		return "warning"
	case SeverityNotice:
		return "notice"
	default:
		return "info"
	}
}

// Classify maps an error signal (a status line, optionally embedding one of
// the literal marker substrings) to its logging severity. The order is
// significant: explicit markers always beat the numeric heuristic, so
// "502_WARN_ Failed" is a warning even though its code is in the 5xx range,
// while an unmarked 5xx is always an alert.
func Classify(signal string) Severity {
	switch {
	case strings.Contains(signal, "_ALERT_"):
		return SeverityAlert
	case strings.Contains(signal, "_WARN_"):
		return SeverityWarning
	case strings.Contains(signal, "_HMMM_"):
		return SeverityNotice
	}
	if code := command.StatusCode(signal); code >= 500 && code <= 599 {
		return SeverityAlert
	}
	return SeverityInfo
}
