package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RawRecord is one source row addressed by field name. Values are strings
// (delimited text, spreadsheets) or JSON scalars (JSON sources).
type RawRecord map[string]any

// Lookup returns the first non-empty value among the given field names.
// Exact key matches win over case-insensitive ones.
func (r RawRecord) Lookup(names []string) (string, bool) {
	v, ok := r.lookupValue(names)
	if !ok {
		return "", false
	}
	return valueString(v), true
}

// lookupValue is Lookup without the string conversion. Among keys that
// differ only in case, the lexically smallest wins so repeated calls agree.
func (r RawRecord) lookupValue(names []string) (any, bool) {
	for _, name := range names {
		if v, ok := r[name]; ok && valueString(v) != "" {
			return v, true
		}
	}
	var keys []string
	for _, name := range names {
		keys = keys[:0]
		for k := range r {
			if k != name && strings.EqualFold(k, name) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v := r[k]; valueString(v) != "" {
				return v, true
			}
		}
	}
	return nil, false
}

// Payload encodes the record verbatim as a JSON object.
func (r RawRecord) Payload() (json.RawMessage, error) {
	if r == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, valueString(e))
		}
		return strings.Join(parts, ",")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
