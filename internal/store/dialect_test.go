package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	query := `UPDATE accounts SET words_used = words_used + ? WHERE id = ? AND words_used + ? <= word_limit`

	assert.Equal(t,
		`UPDATE accounts SET words_used = words_used + $1 WHERE id = $2 AND words_used + $3 <= word_limit`,
		Postgres.Rebind(query))
	assert.Equal(t, query, SQLite.Rebind(query))
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, SQLite, DialectFor("sqlite"))
	assert.Equal(t, SQLite, DialectFor("sqlite3"))
	assert.Equal(t, Postgres, DialectFor("postgres"))
}

func TestDBTime(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	in := time.Date(2026, 3, 1, 10, 0, 0, 123456789, loc)

	out := dbTime(in)
	assert.Equal(t, time.UTC, out.Location())
	assert.Equal(t, 123456000, out.Nanosecond())
	assert.True(t, in.Truncate(time.Microsecond).Equal(out))
}
