// Package statement turns the configured query text into the statement
// executed by one poll cycle.
//
// A Statement is either literal, with named :param placeholders bound on
// every cycle, or prepared, with positional ? placeholders prepared once per
// physical connection:
//
//	SELECT * FROM orders WHERE id > :sql_last_value AND region = :region
//	SELECT * FROM orders WHERE id > ? AND region = ?   -- bind: [":sql_last_value", "eu"]
//
// In literal text a colon that is not a parameter is written as "::".
package statement

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/errs"
)

const (
	// LastValueParam is the reserved parameter holding the cursor.
	LastValueParam = "sql_last_value"

	// LastValueSentinel is the prepared bind value replaced by the cursor.
	LastValueSentinel = ":" + LastValueParam
)

// Kind selects the statement variant.
type Kind int

const (
	KindLiteral Kind = iota
	KindPrepared
)

func (k Kind) String() string {
	if k == KindPrepared {
		return "prepared"
	}
	return "literal"
}

// Config describes the statement of a poller.
type Config struct {
	Text   string
	Params map[string]any

	Prepared   bool
	Name       string
	BindValues []any

	// Paging is whether the poller fetches in pages.
	Paging bool
}

// Statement is built once from Config and reused by every cycle.
// It must not be used by concurrent cycles.
type Statement struct {
	kind     Kind
	literal  literal
	prepared prepared
}

type literal struct {
	text   string
	params map[string]any
}

type prepared struct {
	text  string
	name  string
	binds []any

	ready      bool
	generation uint64
}

// New validates cfg. Every problem is an errs.ErrKindConfiguration.
func New(cfg Config) (*Statement, error) {
	if strings.TrimSpace(cfg.Text) == "" {
		return nil, errs.New(errs.ErrKindConfiguration, "statement is empty")
	}

	if !cfg.Prepared {
		params := make(map[string]any, len(cfg.Params)+1)
		for k, v := range cfg.Params {
			params[k] = v
		}
		params[LastValueParam] = nil

		if _, _, err := sqlx.Named(cfg.Text, params); err != nil {
			return nil, errs.Wrap(errs.ErrKindConfiguration, "statement parameters do not match the configured parameters", err)
		}
		delete(params, LastValueParam)
		return &Statement{kind: KindLiteral, literal: literal{text: cfg.Text, params: params}}, nil
	}

	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errs.New(errs.ErrKindConfiguration, "prepared statement name must not be empty")
	}
	if cfg.Paging {
		return nil, errs.New(errs.ErrKindConfiguration, "prepared statements cannot be combined with paging")
	}
	if n := CountPlaceholders(cfg.Text); n != len(cfg.BindValues) {
		return nil, errs.Newf(errs.ErrKindConfiguration,
			"prepared statement has %d placeholders but %d bind values", n, len(cfg.BindValues))
	}

	return &Statement{
		kind: KindPrepared,
		prepared: prepared{
			text:  cfg.Text,
			name:  cfg.Name,
			binds: append([]any(nil), cfg.BindValues...),
		},
	}, nil
}

func (s *Statement) Kind() Kind { return s.kind }

// Query is a statement bound for one cycle.
type Query struct {
	// SQL is the text in the placeholder style of the dialect.
	SQL  string
	Args []any

	// Name is set for prepared statements.
	Name string

	// Params names the bound values, for logging.
	Params map[string]any
}

// Build binds lastValue, plus the configured parameters, for dialect.
func (s *Statement) Build(dialect database.Dialect, lastValue any) (*Query, error) {
	switch s.kind {
	case KindPrepared:
		p := s.prepared
		args := make([]any, len(p.binds))
		params := make(map[string]any, len(p.binds))
		for i, b := range p.binds {
			if str, ok := b.(string); ok && str == LastValueSentinel {
				b = lastValue
			}
			args[i] = b
			params[fmt.Sprintf("p%d", i)] = b
		}
		return &Query{SQL: rebindPositional(dialect, p.text), Args: args, Name: p.name, Params: params}, nil

	default:
		params := make(map[string]any, len(s.literal.params)+1)
		for k, v := range s.literal.params {
			params[k] = v
		}
		params[LastValueParam] = lastValue

		named, args, err := sqlx.Named(s.literal.text, params)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to bind statement parameters", err)
		}
		return &Query{SQL: sqlx.Rebind(dialect.BindType(), named), Args: args, Params: params}, nil
	}
}

// Page selects one page of a literal statement.
type Page struct {
	Limit  int
	Offset int
}

// Open runs q on conn. A prepared statement is prepared again whenever
// generation differs from the connection it was last prepared on.
func (s *Statement) Open(ctx context.Context, conn database.Conn, generation uint64, q *Query, page *Page) (database.Rows, error) {
	if s.kind == KindLiteral {
		sql := q.SQL
		if page != nil {
			sql = database.Paged(sql, page.Limit, page.Offset)
		}
		return conn.Query(ctx, sql, q.Args...)
	}

	if page != nil {
		return nil, errs.New(errs.ErrKindConfiguration, "prepared statements cannot be paged")
	}
	if !s.prepared.ready || s.prepared.generation != generation {
		if err := conn.Prepare(ctx, q.Name, q.SQL); err != nil {
			return nil, err
		}
		s.prepared.ready = true
		s.prepared.generation = generation
	}
	return conn.QueryPrepared(ctx, q.Name, q.Args...)
}

// Prepared reports whether the statement is prepared on the connection
// with the given generation.
func (s *Statement) Prepared(generation uint64) bool {
	return s.kind == KindPrepared && s.prepared.ready && s.prepared.generation == generation
}

// ParamNames lists the configured literal parameters in sorted order.
func (s *Statement) ParamNames() []string {
	names := make([]string, 0, len(s.literal.params))
	for k := range s.literal.params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
