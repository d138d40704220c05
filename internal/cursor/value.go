// Package cursor keeps the sql_last_value bookmark of a poller: its typed
// value, how that value is encoded on disk, where it is stored and how a
// poll cycle advances it.
package cursor

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/sqlpoll/internal/errs"
	"go.yaml.in/yaml/v3"
)

// Kind tells which variant a Value holds.
type Kind int

const (
	KindUnset Kind = iota
	KindNumeric
	KindInstant
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindInstant:
		return "instant"
	default:
		return "unset"
	}
}

// Value is either a number or an instant. The zero Value is unset.
type Value struct {
	kind Kind
	num  float64
	at   time.Time
}

// Numeric returns a numeric Value.
func Numeric(f float64) Value {
	return Value{kind: KindNumeric, num: f}
}

// Instant returns a time Value. The offset of t is kept.
func Instant(t time.Time) Value {
	return Value{kind: KindInstant, at: t}
}

// Epoch is the default cursor of the time-based modes.
func Epoch() Value {
	return Instant(time.Unix(0, 0).UTC())
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsSet() bool     { return v.kind != KindUnset }
func (v Value) Float() float64  { return v.num }
func (v Value) Time() time.Time { return v.at }

// Equal reports whether v and o hold the same variant and value.
// Instants compare as points in time.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumeric:
		return v.num == o.num
	case KindInstant:
		return v.at.Equal(o.at)
	}
	return true
}

// Bind returns the value handed to the database driver: int64 for integral
// numbers, float64 otherwise, time.Time for instants.
func (v Value) Bind() any {
	switch v.kind {
	case KindNumeric:
		if i, ok := integral(v.num); ok {
			return i
		}
		return v.num
	case KindInstant:
		return v.at
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNumeric:
		if i, ok := integral(v.num); ok {
			return strconv.FormatInt(i, 10)
		}
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindInstant:
		return v.at.Format(time.RFC3339Nano)
	}
	return ""
}

func integral(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// --- codec ---

// Encode renders v as a single YAML scalar document.
func Encode(v Value) ([]byte, error) {
	var in any
	switch v.kind {
	case KindNumeric:
		if i, ok := integral(v.num); ok {
			in = i
		} else {
			in = v.num
		}
	case KindInstant:
		in = v.at
	default:
		return nil, errs.New(errs.ErrKindInvalidInput, "cannot encode an unset cursor value")
	}

	out, err := yaml.Marshal(in)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindStateWrite, "failed to encode cursor value", err)
	}
	return out, nil
}

// timeLayouts are tried in order when a scalar is not a number.
// The space-separated forms are what older releases wrote.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Decode parses data produced by Encode. An empty document decodes to an
// unset Value. Anything that is not a single number or timestamp is
// reported as errs.ErrKindStateCorruption.
func Decode(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Value{}, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Value{}, errs.Wrap(errs.ErrKindStateCorruption, "cursor file is not valid YAML", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.ScalarNode {
		return Value{}, errs.New(errs.ErrKindStateCorruption, "cursor file must hold a single scalar")
	}

	node := doc.Content[0]
	switch node.ShortTag() {
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Value{}, errs.Wrap(errs.ErrKindStateCorruption, "malformed numeric cursor", err)
		}
		return Numeric(f), nil
	case "!!null":
		return Value{}, nil
	}

	raw := strings.TrimSpace(node.Value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Instant(t), nil
		}
	}
	return Value{}, errs.New(errs.ErrKindStateCorruption, fmt.Sprintf("unrecognised cursor value %q", raw))
}
