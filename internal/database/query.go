package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Dialect controls which SQL placeholder style statements are rebound to.
type Dialect int

const (
	// DialectPostgres uses $1, $2, … placeholders.
	DialectPostgres Dialect = iota

	// DialectMySQL uses ? placeholders.
	DialectMySQL

	// DialectSQLite uses ? placeholders.
	DialectSQLite

	// DialectGeneric is used for database/sql drivers loaded at runtime; ? placeholders.
	DialectGeneric
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	case DialectSQLite:
		return "sqlite"
	default:
		return "generic"
	}
}

// BindType maps the dialect onto the sqlx bind variable style.
func (d Dialect) BindType() int {
	if d == DialectPostgres {
		return sqlx.DOLLAR
	}
	return sqlx.QUESTION
}

// Paged wraps query so that only one page of its result set is returned.
//
// The wrapped query is evaluated as a derived table, so any ORDER BY it
// carries decides the page contents. Limit and offset are engine-produced
// integers and are written inline to keep the caller's placeholder
// numbering intact.
//
//	SELECT * FROM (SELECT * FROM t WHERE id > $1) AS t1 LIMIT 20 OFFSET 40
func Paged(query string, limit, offset int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS t1 LIMIT %d OFFSET %d", trimStatement(query), limit, offset)
}

// Count wraps query into a row count of its result set.
func Count(query string) string {
	return fmt.Sprintf("SELECT COUNT(*) AS count FROM (%s) AS t1", trimStatement(query))
}

// trimStatement drops trailing whitespace and statement terminators, which
// are not allowed inside a derived table.
func trimStatement(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "; \t\r\n")
}
