// Package record holds the rows a poller emits and the decorator that
// normalizes them.
package record

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgtype"
)

// Kind is the type of a column value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "null"
	}
}

// Value is one column value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func Null() Value            { return Value{} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Str() string     { return v.s }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) Bool() bool      { return v.b }
func (v Value) Time() time.Time { return v.t }

// Native returns the Go value: nil, string, int64, float64, bool or time.Time.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindTime {
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	}
	return json.Marshal(v.Native())
}

// FromDriver converts a value scanned into *any by a database driver.
func FromDriver(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case string:
		return String(x)
	case []byte:
		return String(string(x))
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint:
		return fromUint(uint64(x))
	case uint64:
		return fromUint(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case time.Time:
		return Time(x)
	case *big.Int:
		if x.IsInt64() {
			return Int(x.Int64())
		}
		return String(x.String())
	case pgtype.Numeric:
		return fromNumeric(x)
	case [16]byte:
		return String(formatUUID(x))
	case map[string]any, []any:
		if b, err := json.Marshal(x); err == nil {
			return String(string(b))
		}
	case driver.Valuer:
		v, err := x.Value()
		if err == nil {
			if _, again := v.(driver.Valuer); !again {
				return FromDriver(v)
			}
		}
	case fmt.Stringer:
		return String(x.String())
	}
	return String(fmt.Sprint(raw))
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Int(int64(u))
}

// fromNumeric keeps integral numerics exact and turns the rest into floats.
func fromNumeric(n pgtype.Numeric) Value {
	if !n.Valid {
		return Null()
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		f, _ := n.Float64Value()
		return Float(f.Float64)
	}
	if n.Exp >= 0 {
		if i, err := n.Int64Value(); err == nil && i.Valid {
			return Int(i.Int64)
		}
	}
	f, err := n.Float64Value()
	if err != nil {
		return Null()
	}
	return Float(f.Float64)
}

func formatUUID(u [16]byte) string {
	var buf [36]byte
	hex.Encode(buf[0:8], u[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], u[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], u[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], u[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:], u[10:])
	return string(buf[:])
}
