package statement

import (
	"strconv"
	"strings"

	"github.com/koustreak/sqlpoll/internal/database"
)

// CountPlaceholders counts the ? placeholders of query that are outside
// quoted strings, quoted identifiers and comments.
func CountPlaceholders(query string) int {
	n := 0
	scanPlaceholders(query, func(int) { n++ })
	return n
}

// rebindPositional rewrites ? placeholders to $1, $2, … for Postgres.
// Question marks inside literals and comments are left alone.
func rebindPositional(dialect database.Dialect, query string) string {
	if dialect != database.DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	last, n := 0, 0
	scanPlaceholders(query, func(i int) {
		n++
		b.WriteString(query[last:i])
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
		last = i + 1
	})
	b.WriteString(query[last:])
	return b.String()
}

// scanPlaceholders calls fn with the byte offset of every bare ?.
func scanPlaceholders(query string, fn func(int)) {
	for i := 0; i < len(query); i++ {
		switch c := query[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(query, i, c)
		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				for i < len(query) && query[i] != '\n' {
					i++
				}
			}
		case '/':
			if i+1 < len(query) && query[i+1] == '*' {
				end := strings.Index(query[i+2:], "*/")
				if end < 0 {
					return
				}
				i += end + 3
			}
		case '?':
			fn(i)
		}
	}
}

// skipQuoted returns the offset of the quote closing the one at start.
// A doubled quote is an escaped quote.
func skipQuoted(query string, start int, quote byte) int {
	for i := start + 1; i < len(query); i++ {
		if query[i] != quote {
			continue
		}
		if i+1 < len(query) && query[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(query)
}
