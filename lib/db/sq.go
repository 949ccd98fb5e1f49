package db

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// SQL Literal Quoting
// --------------------------------------------------------------------------

// SQ renders v as a safely quoted SQL literal. Replicated transactions
// carry literal query text, so plugins compose statements with SQ instead
// of bind parameters.
//
//	db.Write("INSERT INTO jobs (name) VALUES (" + db.SQ(name) + ");")
func SQ(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case []byte:
		return "X'" + strings.ToUpper(hex.EncodeToString(x)) + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return "'" + x.UTC().Format("2006-01-02 15:04:05") + "'"
	default:
		return SQ(fmt.Sprint(x))
	}
}

// journalHash computes the integrity hash stored with each journal entry
// and verified when replicated entries are applied.
func journalHash(id uint64, query string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d:%s", id, query)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
