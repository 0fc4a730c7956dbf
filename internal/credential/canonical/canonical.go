// Package canonical implements canonical/1, the deterministic byte encoding
// of credential records that fingerprints are computed over.
//
// Grammar (every value has exactly one encoding):
//
//	object  = "d" count ":" { string value } "e"   keys sorted byte-wise, unique, non-empty
//	list    = "l" count ":" { value } "e"           order preserved
//	string  = "s" byte-length ":" utf8-bytes
//	integer = "i" decimal ";"                       no leading zeros, no "+", no "-0"
//	float   = "f" shortest-exponent-form ";"        only for non-integral finite values
//	bool    = "T" | "F"
//	null    = "n"
//
// Integral floats with magnitude up to 2^53 are encoded as integers, so 1 and
// 1.0 produce the same bytes. time.Time values are encoded as RFC 3339 UTC
// strings. The package is pure and safe for concurrent use.
package canonical

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"sumbandila/internal/credential/models"
	dErrors "sumbandila/pkg/domain-errors"
)

// MaxDepth bounds nesting of objects and lists.
const MaxDepth = 16

const maxSafeInteger = 1 << 53

// Canonicalize encodes a record into its canonical form. A nil record is
// treated as empty and encodes to "d0:e".
func Canonicalize(record models.Record) (models.CanonicalForm, error) {
	buf, err := appendObject(make([]byte, 0, 256), record, 0)
	if err != nil {
		return nil, err
	}
	return models.CanonicalForm(buf), nil
}

// FromFields builds a record from ordered fields, failing fast on duplicate
// or empty keys rather than silently keeping one value.
func FromFields(fields []models.Field) (models.Record, error) {
	record := make(models.Record, len(fields))
	for _, f := range fields {
		if err := validateKey(f.Key); err != nil {
			return nil, err
		}
		if _, dup := record[f.Key]; dup {
			return nil, invalidRecord(fmt.Sprintf("duplicate key %q", f.Key))
		}
		record[f.Key] = f.Value
	}
	return record, nil
}

func appendValue(dst []byte, v any, depth int) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(dst, 'n'), nil
	case string:
		return appendString(dst, x)
	case bool:
		if x {
			return append(dst, 'T'), nil
		}
		return append(dst, 'F'), nil
	case int:
		return appendInt(dst, int64(x)), nil
	case int8:
		return appendInt(dst, int64(x)), nil
	case int16:
		return appendInt(dst, int64(x)), nil
	case int32:
		return appendInt(dst, int64(x)), nil
	case int64:
		return appendInt(dst, x), nil
	case uint:
		return appendUint(dst, uint64(x)), nil
	case uint8:
		return appendUint(dst, uint64(x)), nil
	case uint16:
		return appendUint(dst, uint64(x)), nil
	case uint32:
		return appendUint(dst, uint64(x)), nil
	case uint64:
		return appendUint(dst, x), nil
	case float32:
		return appendFloat(dst, float64(x))
	case float64:
		return appendFloat(dst, x)
	case json.Number:
		return appendNumber(dst, x)
	case time.Time:
		return appendString(dst, x.UTC().Format(time.RFC3339Nano))
	case models.Record:
		return appendObject(dst, x, depth+1)
	case map[string]any:
		return appendObject(dst, x, depth+1)
	case []any:
		return appendList(dst, x, depth+1)
	case []string:
		return appendList(dst, lo.ToAnySlice(x), depth+1)
	default:
		return nil, invalidRecord(fmt.Sprintf("unsupported value type %T", v))
	}
}

func appendObject(dst []byte, m map[string]any, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, invalidRecord("record nesting too deep")
	}
	keys := lo.Keys(m)
	slices.Sort(keys)

	dst = append(dst, 'd')
	dst = strconv.AppendInt(dst, int64(len(keys)), 10)
	dst = append(dst, ':')
	var err error
	for _, k := range keys {
		if err = validateKey(k); err != nil {
			return nil, err
		}
		if dst, err = appendString(dst, k); err != nil {
			return nil, err
		}
		if dst, err = appendValue(dst, m[k], depth); err != nil {
			return nil, err
		}
	}
	return append(dst, 'e'), nil
}

func appendList(dst []byte, items []any, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, invalidRecord("record nesting too deep")
	}
	dst = append(dst, 'l')
	dst = strconv.AppendInt(dst, int64(len(items)), 10)
	dst = append(dst, ':')
	var err error
	for _, item := range items {
		if dst, err = appendValue(dst, item, depth); err != nil {
			return nil, err
		}
	}
	return append(dst, 'e'), nil
}

func appendString(dst []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, invalidRecord("string is not valid UTF-8")
	}
	dst = append(dst, 's')
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, ':')
	return append(dst, s...), nil
}

func appendInt(dst []byte, n int64) []byte {
	dst = append(dst, 'i')
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, ';')
}

func appendUint(dst []byte, n uint64) []byte {
	dst = append(dst, 'i')
	dst = strconv.AppendUint(dst, n, 10)
	return append(dst, ';')
}

func appendFloat(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalidRecord("number must be finite")
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger {
		// int64(-0.0) is 0, so negative zero collapses too.
		return appendInt(dst, int64(f)), nil
	}
	dst = append(dst, 'f')
	dst = strconv.AppendFloat(dst, f, 'e', -1, 64)
	return append(dst, ';'), nil
}

// appendNumber handles json.Number so that integer literals keep full 64-bit
// precision instead of round-tripping through float64.
func appendNumber(dst []byte, n json.Number) ([]byte, error) {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return appendInt(dst, i), nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return appendUint(dst, u), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, invalidRecord("number is out of range")
	}
	return appendFloat(dst, f)
}

func validateKey(k string) error {
	if k == "" {
		return invalidRecord("field names must not be empty")
	}
	if !utf8.ValidString(k) {
		return invalidRecord("field name is not valid UTF-8")
	}
	return nil
}

func invalidRecord(msg string) error {
	return dErrors.New(dErrors.CodeInvalidRecord, msg)
}
