package record

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/errs"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Casing controls how column names appear in emitted rows.
type Casing string

const (
	CaseLower    Casing = "lower"
	CaseUpper    Casing = "upper"
	CaseVerbatim Casing = "verbatim"
)

// DecoratorConfig configures row normalization.
type DecoratorConfig struct {
	Casing Casing

	// Location is the zone that timestamps without one were written in.
	// Nil means UTC.
	Location *time.Location

	// Charset is the source encoding of every string column.
	Charset string

	// ColumnCharsets overrides Charset per column.
	ColumnCharsets map[string]string
}

// Decorator turns scanned driver values into a Row.
type Decorator struct {
	casing    Casing
	loc       *time.Location
	global    *converter
	perColumn map[string]*converter
}

// NewDecorator resolves the configured charsets. An unknown charset is an
// errs.ErrKindConfiguration.
func NewDecorator(cfg DecoratorConfig) (*Decorator, error) {
	d := &Decorator{casing: cfg.Casing, loc: cfg.Location}
	if d.casing == "" {
		d.casing = CaseLower
	}
	switch d.casing {
	case CaseLower, CaseUpper, CaseVerbatim:
	default:
		return nil, errs.Newf(errs.ErrKindConfiguration, "unknown column casing %q", cfg.Casing)
	}

	if cfg.Charset != "" {
		c, err := newConverter(cfg.Charset)
		if err != nil {
			return nil, err
		}
		d.global = c
	}

	if len(cfg.ColumnCharsets) > 0 {
		d.perColumn = make(map[string]*converter, len(cfg.ColumnCharsets))
		byName := map[string]*converter{}
		for col, name := range cfg.ColumnCharsets {
			c, ok := byName[name]
			if !ok {
				var err error
				if c, err = newConverter(name); err != nil {
					return nil, err
				}
				byName[name] = c
			}
			d.perColumn[col] = c
		}
	}
	return d, nil
}

// ColumnName applies the configured casing.
func (d *Decorator) ColumnName(name string) string {
	switch d.casing {
	case CaseUpper:
		return strings.ToUpper(name)
	case CaseVerbatim:
		return name
	default:
		return strings.ToLower(name)
	}
}

// Decorate builds the row for one set of scanned values. cols and raw have
// the same length.
func (d *Decorator) Decorate(cols []database.Column, raw []any) *Row {
	row := NewRow(len(cols))
	for i, col := range cols {
		name := d.ColumnName(col.Name)
		v := FromDriver(raw[i])

		switch v.Kind() {
		case KindTime:
			v = Time(d.normalizeTime(v.Time(), col.Zoned))
		case KindString:
			if c := d.converterFor(name, col.Name); c != nil {
				v = String(c.convert(v.Str()))
			}
		}
		row.Set(name, v)
	}
	return row
}

// normalizeTime returns the instant in UTC. A zoneless timestamp is first
// read as wall clock time in the configured location.
func (d *Decorator) normalizeTime(t time.Time, zoned bool) time.Time {
	if zoned || d.loc == nil {
		return t.UTC()
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), d.loc).UTC()
}

func (d *Decorator) converterFor(name, original string) *converter {
	if c, ok := d.perColumn[name]; ok {
		return c
	}
	if c, ok := d.perColumn[original]; ok {
		return c
	}
	return d.global
}

// --- charsets ---

type converter struct {
	name string
	enc  encoding.Encoding
	utf8 bool
}

func newConverter(name string) (*converter, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "unknown charset "+name, err)
	}
	canonical, _ := htmlindex.Name(enc)
	return &converter{name: canonical, enc: enc, utf8: canonical == "utf-8"}, nil
}

// convert re-decodes s from the source charset into UTF-8. Invalid input
// is replaced with U+FFFD rather than dropped.
func (c *converter) convert(s string) string {
	if c.utf8 {
		if utf8.ValidString(s) {
			return s
		}
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	out, err := c.enc.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	return out
}
