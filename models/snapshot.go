package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// ValueKind is the closed set of scalar variants a captured column may hold.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindTimestamp
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	}
	return "null"
}

// Value is a single column value of a row snapshot. Numbers and timestamps
// keep their text in Str and marshal it back unchanged, so integers beyond
// 2^53 and database time formats survive the trip to the workflow.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

func Null() Value           { return Value{Kind: KindNull} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }

func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f, Str: strconv.FormatFloat(f, 'f', -1, 64)}
}

func Int(n int64) Value {
	return Value{Kind: KindNumber, Num: float64(n), Str: strconv.FormatInt(n, 10)}
}

func Uint(n uint64) Value {
	return Value{Kind: KindNumber, Num: float64(n), Str: strconv.FormatUint(n, 10)}
}

func Timestamp(t time.Time) Value {
	t = t.UTC()
	return Value{Kind: KindTimestamp, Time: t, Str: t.Format(time.RFC3339Nano)}
}

// timestampText is a timestamp captured as text, e.g. by a trigger.
func timestampText(s string, t time.Time) Value {
	return Value{Kind: KindTimestamp, Time: t.UTC(), Str: s}
}

// numberText parses a JSON number literal. Integer literals are kept as
// written; anything else is normalised through float64.
func numberText(lit string) (Value, error) {
	if _, err := strconv.ParseInt(lit, 10, 64); err == nil {
		f, _ := strconv.ParseFloat(lit, 64)
		return Value{Kind: KindNumber, Num: f, Str: lit}, nil
	}
	if _, err := strconv.ParseUint(lit, 10, 64); err == nil {
		f, _ := strconv.ParseFloat(lit, 64)
		return Value{Kind: KindNumber, Num: f, Str: lit}, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return Value{}, err
	}
	return Number(f), nil
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Interface returns the plain Go value, mostly for logging and assertions.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindTimestamp:
		return v.Time
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		if v.Str != "" {
			return []byte(v.Str), nil
		}
		return []byte(strconv.FormatFloat(v.Num, 'f', -1, 64)), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTimestamp:
		if v.Str != "" {
			return json.Marshal(v.Str)
		}
		return json.Marshal(v.Time.Format(time.RFC3339Nano))
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null()
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if t, ok := parseTimestamp(s); ok {
			*v = timestampText(s, t)
			return nil
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{', '[':
		// nested json columns are kept verbatim as text
		*v = String(string(data))
	default:
		n, err := numberText(string(data))
		if err != nil {
			return fmt.Errorf("invalid snapshot value %q: %w", data, err)
		}
		*v = n
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, bool) {
	// cheap shape check before trying layouts: YYYY-MM-DD?HH:MM:SS
	if len(s) < 19 || s[4] != '-' || s[7] != '-' || s[13] != ':' || (s[10] != ' ' && s[10] != 'T') {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValueOf converts a driver or struct field value into a snapshot Value.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		if ts, ok := parseTimestamp(t); ok {
			return timestampText(t, ts)
		}
		return String(t)
	case []byte:
		return ValueOf(string(t))
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Uint(uint64(t))
	case uint8:
		return Uint(uint64(t))
	case uint16:
		return Uint(uint64(t))
	case uint32:
		return Uint(uint64(t))
	case uint64:
		return Uint(t)
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case json.Number:
		n, err := numberText(t.String())
		if err != nil {
			return String(t.String())
		}
		return n
	case time.Time:
		if t.IsZero() {
			return Null()
		}
		return Timestamp(t)
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return String(fmt.Sprint(x))
		}
		return ValueOf(dv)
	}

	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Null()
		}
		return ValueOf(rv.Elem().Interface())
	}
	return String(fmt.Sprint(x))
}

// RowSnapshot is the captured column values of one row.
type RowSnapshot map[string]Value

// SnapshotFromMap builds a snapshot from a column map as returned by gorm map scans.
func SnapshotFromMap(row map[string]any) RowSnapshot {
	snap := make(RowSnapshot, len(row))
	for col, v := range row {
		snap[col] = ValueOf(v)
	}
	return snap
}

func (s RowSnapshot) Get(column string) (Value, bool) {
	v, ok := s[column]
	return v, ok
}

// Value implements driver.Valuer so snapshots persist as JSON text.
func (s RowSnapshot) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]Value(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *RowSnapshot) Scan(src any) error {
	var data []byte
	switch t := src.(type) {
	case nil:
		*s = RowSnapshot{}
		return nil
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return fmt.Errorf("cannot scan %T into RowSnapshot", src)
	}

	snap := RowSnapshot{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, (*map[string]Value)(&snap)); err != nil {
			return fmt.Errorf("decode row snapshot: %w", err)
		}
	}
	*s = snap
	return nil
}
