package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/prefkit/internal/settings"
)

// Value is the JSON form of a stored primitive. Type is a settings.Kind
// name; data travels as base64, dates as RFC 3339 with nanoseconds, and
// containers hold nested Values. NaN and the infinities travel as the
// strings "NaN", "+Inf" and "-Inf".
type Value struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EncodeValue converts a primitive into its wire form.
func EncodeValue(v any) (Value, error) {
	n, err := settings.Normalize(v)
	if err != nil {
		return Value{}, err
	}
	kind := settings.KindOf(n)
	var payload any
	switch x := n.(type) {
	case []byte:
		payload = base64.StdEncoding.EncodeToString(x)
	case time.Time:
		payload = x.Format(time.RFC3339Nano)
	case float64:
		payload = x
		if math.IsInf(x, 0) || math.IsNaN(x) {
			payload = strconv.FormatFloat(x, 'g', -1, 64)
		}
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			if items[i], err = EncodeValue(e); err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
		}
		payload = items
	case map[string]any:
		entries := make(map[string]Value, len(x))
		for k, e := range x {
			if entries[k], err = EncodeValue(e); err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
		}
		payload = entries
	default:
		payload = x
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Value{}, fmt.Errorf("encoding %s: %w", kind, err)
	}
	return Value{Type: kind.String(), Value: raw}, nil
}

// Decode converts a wire value back into a primitive.
func (v Value) Decode() (any, error) {
	kind, err := settings.ParseKind(v.Type)
	if err != nil {
		return nil, err
	}
	if len(v.Value) == 0 {
		return nil, fmt.Errorf("%s value is missing", kind)
	}
	switch kind {
	case settings.KindBool:
		var b bool
		err = json.Unmarshal(v.Value, &b)
		return b, wrapDecode(kind, err)
	case settings.KindInt:
		var i int64
		err = json.Unmarshal(v.Value, &i)
		return i, wrapDecode(kind, err)
	case settings.KindFloat:
		var f float64
		if err := json.Unmarshal(v.Value, &f); err == nil {
			return f, nil
		}
		var s string
		if err := json.Unmarshal(v.Value, &s); err != nil {
			return nil, wrapDecode(kind, err)
		}
		f, err = strconv.ParseFloat(s, 64)
		return f, wrapDecode(kind, err)
	case settings.KindString:
		var s string
		err = json.Unmarshal(v.Value, &s)
		return s, wrapDecode(kind, err)
	case settings.KindData:
		var s string
		if err := json.Unmarshal(v.Value, &s); err != nil {
			return nil, wrapDecode(kind, err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		return b, wrapDecode(kind, err)
	case settings.KindDate:
		var s string
		if err := json.Unmarshal(v.Value, &s); err != nil {
			return nil, wrapDecode(kind, err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		return t, wrapDecode(kind, err)
	case settings.KindArray:
		var items []Value
		if err := json.Unmarshal(v.Value, &items); err != nil {
			return nil, wrapDecode(kind, err)
		}
		out := make([]any, len(items))
		for i, item := range items {
			if out[i], err = item.Decode(); err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
		}
		return out, nil
	case settings.KindDict:
		var entries map[string]Value
		if err := json.Unmarshal(v.Value, &entries); err != nil {
			return nil, wrapDecode(kind, err)
		}
		out := make(map[string]any, len(entries))
		for k, e := range entries {
			if out[k], err = e.Decode(); err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %q", v.Type)
}

func wrapDecode(kind settings.Kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s value: %w", kind, err)
}

// ParseText reads a primitive of the given kind from its command line form.
// Arrays and dicts are plain JSON; integral JSON numbers become ints.
func ParseText(kind settings.Kind, text string) (any, error) {
	switch kind {
	case settings.KindBool:
		return strconv.ParseBool(text)
	case settings.KindInt:
		return strconv.ParseInt(text, 10, 64)
	case settings.KindFloat:
		return strconv.ParseFloat(text, 64)
	case settings.KindString:
		return text, nil
	case settings.KindData:
		return base64.StdEncoding.DecodeString(text)
	case settings.KindDate:
		return time.Parse(time.RFC3339Nano, text)
	case settings.KindArray, settings.KindDict:
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		plain, err := fromJSON(v)
		if err != nil {
			return nil, err
		}
		if settings.KindOf(plain) != kind {
			return nil, fmt.Errorf("JSON is not a %s", kind)
		}
		return plain, nil
	}
	return nil, fmt.Errorf("unsupported kind %s", kind)
}

func fromJSON(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		return x.Float64()
	case []any:
		for i, e := range x {
			n, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			x[i] = n
		}
		return x, nil
	case map[string]any:
		for k, e := range x {
			n, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			x[k] = n
		}
		return x, nil
	case nil:
		return nil, fmt.Errorf("%w: null", settings.ErrUnsupportedType)
	}
	return v, nil
}

// Plain maps a primitive onto values every text encoder can handle: data
// becomes base64, dates become RFC 3339 strings, and containers are
// converted recursively.
func Plain(v any) any {
	switch x := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Plain(e)
		}
		return out
	}
	return v
}

// FormatText renders a primitive for display: scalars in their command line
// form, containers as indented JSON.
func FormatText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any, map[string]any:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(Plain(x)); err != nil {
			return fmt.Sprint(x)
		}
		return strings.TrimRight(buf.String(), "\n")
	}
	return fmt.Sprint(Plain(v))
}
