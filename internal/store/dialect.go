package store

import (
	"strconv"
	"strings"
	"time"
)

// Dialect identifies the SQL flavour a repository talks to.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DialectFor returns the dialect of the named database driver.
func DialectFor(driver string) Dialect {
	if driver == "sqlite" || driver == "sqlite3" {
		return SQLite
	}
	return Postgres
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// dayExpr renders a UTC YYYY-MM-DD expression for a timestamp column.
func (d Dialect) dayExpr(column string) string {
	if d == Postgres {
		return "to_char(" + column + " AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	}
	// go-sqlite3 persists time.Time as text that starts with the date.
	return "substr(" + column + ", 1, 10)"
}

// dbTime normalizes t for storage. Timestamps are kept in UTC with
// microsecond precision so text comparison in SQLite orders correctly
// and values survive a round trip through Postgres unchanged.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
