package db

import (
	"database/sql"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Query Results
// --------------------------------------------------------------------------

// Result holds the rows of a read query with every value rendered as a
// string, which is the form plugins compose into response content.
type Result struct {
	Headers []string
	Rows    [][]string
}

// Empty reports whether the result has no rows.
func (r *Result) Empty() bool {
	return len(r.Rows) == 0
}

// Scalar returns the first column of the first row, if any.
func (r *Result) Scalar() (string, bool) {
	if len(r.Rows) == 0 || len(r.Rows[0]) == 0 {
		return "", false
	}
	return r.Rows[0][0], true
}

// collectResult drains rows into a Result.
func collectResult(rows *sql.Rows) (*Result, error) {
	headers, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read: columns: %w", err)
	}
	result := &Result{Headers: headers}

	for rows.Next() {
		values := make([]interface{}, len(headers))
		ptrs := make([]interface{}, len(headers))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("read: scan: %w", err)
		}
		row := make([]string, len(headers))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return result, nil
}

// renderValue converts a scanned SQLite value to its string form.
func renderValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return fmt.Sprintf("%d", x)
	case float64:
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
