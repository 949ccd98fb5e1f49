package command

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Status-Line Errors
// --------------------------------------------------------------------------

// Error is an error whose text is a complete response status line, e.g.
// "404 Resource doesn't exist" or "502_WARN_ Failed to execute query".
// Plugins and the pipeline use it to signal a failure that should become the
// command's response status. Any other error reaching the pipeline boundary
// is converted to StatusUnhandled.
type Error struct {
	Status string
}

// NewError creates an Error from a full status line.
func NewError(status string) *Error {
	return &Error{Status: status}
}

// Errorf creates an Error from a formatted status line.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Status: fmt.Sprintf(format, args...)}
}

// Error returns the status line.
func (e *Error) Error() string {
	return e.Status
}

// Code returns the numeric prefix of the status line, or 0 if the line does
// not start with digits. Severity markers embedded after the digits (e.g.
// "404_WARN_ ...") do not affect the parsed code.
func (e *Error) Code() int {
	return StatusCode(e.Status)
}

// StatusCode extracts the leading numeric code from a status line, or 0 if
// the line does not start with digits.
func StatusCode(status string) int {
	i := 0
	for i < len(status) && status[i] >= '0' && status[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0
	}
	code, err := strconv.Atoi(status[:i])
	if err != nil {
		return 0
	}
	return code
}

// StatusClass returns the taxonomy class of a status line ("2xx", "3xx",
// "4xx", "5xx") or "none" if it carries no numeric code. Used for metrics
// labels.
func StatusClass(status string) string {
	code := StatusCode(status)
	switch {
	case code >= 200 && code <= 299:
		return "2xx"
	case code >= 300 && code <= 399:
		return "3xx"
	case code >= 400 && code <= 499:
		return "4xx"
	case code >= 500 && code <= 599:
		return "5xx"
	}
	return "none"
}

// IsSuccess reports whether a status line is in the accepted (2xx) class.
func IsSuccess(status string) bool {
	return strings.HasPrefix(StatusClass(status), "2")
}
