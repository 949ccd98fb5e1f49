package node

import "testing"

// TestClassify tests the marker and numeric classification rules.
func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		signal   string
		expected Severity
	}{
		{name: "alert marker", signal: "400_ALERT_ corrupt journal", expected: SeverityAlert},
		{name: "warn marker", signal: "404_WARN_ Not Found", expected: SeverityWarning},
		{name: "hmmm marker", signal: "200_HMMM_ odd but fine", expected: SeverityNotice},
		{name: "marker beats numeric", signal: "502_WARN_ Failed to execute query", expected: SeverityWarning},
		{name: "unmarked 5xx", signal: "500 Unhandled exception", expected: SeverityAlert},
		{name: "unmarked 599", signal: "599 edge of range", expected: SeverityAlert},
		{name: "unmarked 4xx", signal: "404 No job found", expected: SeverityInfo},
		{name: "success", signal: "200 OK", expected: SeverityInfo},
		{name: "no code", signal: "something odd", expected: SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.signal); got != tt.expected {
				t.Errorf("Classify(%q) = %v, want %v", tt.signal, got, tt.expected)
			}
		})
	}
}

// TestSeverityString tests the metric label names.
func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{severity: SeverityInfo, expected: "info"},
		{severity: SeverityNotice, expected: "notice"},
		{severity: SeverityWarning, expected: "warning"},
		{severity: SeverityAlert, expected: "alert"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
