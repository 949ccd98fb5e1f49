package command

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Ordered Table
// --------------------------------------------------------------------------

// Table is an insertion-ordered string-to-string mapping with
// case-insensitive key lookup. The first spelling of a key is preserved for
// serialization; later writes to the same key (in any casing) update the
// value in place without changing its position.
//
// Thread-safety: a Table is confined to the goroutine executing its command
// and must not be shared concurrently.
type Table struct {
	keys []string          // original spelling, insertion order
	vals map[string]string // canonical (lowercased) key -> value
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{vals: make(map[string]string)}
}

// Set inserts or updates the value for key. New keys append to the
// insertion order, existing keys (matched case-insensitively) keep their
// position and original spelling.
func (t *Table) Set(key, value string) {
	canon := strings.ToLower(key)
	if _, ok := t.vals[canon]; !ok {
		t.keys = append(t.keys, key)
	}
	t.vals[canon] = value
}

// Get returns the value for key (case-insensitive) and whether it was set.
func (t *Table) Get(key string) (string, bool) {
	v, ok := t.vals[strings.ToLower(key)]
	return v, ok
}

// GetDefault returns the value for key, or def if the key is not set.
func (t *Table) GetDefault(key, def string) string {
	if v, ok := t.Get(key); ok {
		return v
	}
	return def
}

// Has reports whether key is set (case-insensitive).
func (t *Table) Has(key string) bool {
	_, ok := t.vals[strings.ToLower(key)]
	return ok
}

// Int64 returns the value for key parsed as a base-10 integer, or 0 if the
// key is missing or not numeric.
func (t *Table) Int64(key string) int64 {
	v, ok := t.Get(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Bool returns true if the value for key is a truthy literal
// ("true", "1", "yes", "on", case-insensitive).
func (t *Table) Bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(t.GetDefault(key, ""))) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// Len returns the number of keys in the table.
func (t *Table) Len() int {
	return len(t.keys)
}

// Keys returns the keys in insertion order. The returned slice is a copy.
func (t *Table) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// --------------------------------------------------------------------------
// JSON Composition
// --------------------------------------------------------------------------

// ComposeJSON renders the table as a JSON object in insertion order. Values
// that are themselves valid JSON objects or arrays are embedded verbatim,
// everything else is encoded as a JSON string. Composing the same table
// twice yields identical bytes, which the pipeline relies on when deciding
// whether a content overwrite actually changed the response body.
func (t *Table) ComposeJSON() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range t.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, key)
		buf.WriteByte(':')
		val := t.vals[strings.ToLower(key)]
		if isEmbeddableJSON(val) {
			buf.WriteString(val)
		} else {
			writeJSONString(&buf, val)
		}
	}
	buf.WriteByte('}')
	return buf.String()
}

// ComposeJSONList renders items as a JSON array of strings.
func ComposeJSONList(items []string) string {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, item)
	}
	buf.WriteByte(']')
	return buf.String()
}

// isEmbeddableJSON reports whether s is a complete JSON object or array that
// can be embedded into a composed document without re-encoding.
func isEmbeddableJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	return json.Valid([]byte(trimmed))
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, err := json.Marshal(s)
	if err != nil {
		// unreachable for string input
		buf.WriteString(`""`)
		return
	}
	buf.Write(b)
}
