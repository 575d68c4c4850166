package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Record is a remote record as decoded by the driver. Numbers may arrive as
// any integer or float type depending on the transport, so the accessors
// are lenient about representation.
type Record map[string]any

// FieldMessageID holds the message id inside every record.
const FieldMessageID = "message_id"

// ID returns the message id stored in the record.
func (r Record) ID() string {
	return r.String(FieldMessageID)
}

// String returns the field as a string, or "" when absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bool returns the field as a bool, or false.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Strings returns the field as a string slice, skipping non-string items.
func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Int64 returns the field as an int64, or 0.
func (r Record) Int64(key string) int64 {
	n, _ := toInt64(r[key])
	return n
}

// Time reads a unix-millisecond timestamp field.
func (r Record) Time(key string) time.Time {
	ms, ok := toInt64(r[key])
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// toRecord converts a driver payload into a Record.
func toRecord(data any) (Record, error) {
	switch v := data.(type) {
	case Record:
		return v, nil
	case map[string]any:
		return Record(v), nil
	case map[any]any:
		rec := make(Record, len(v))
		for k, val := range v {
			rec[fmt.Sprint(k)] = val
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unexpected record type %T", data)
	}
}

// clone returns a shallow copy of the record.
func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
