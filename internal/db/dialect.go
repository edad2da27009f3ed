package db

import (
	"strconv"
	"strings"
)

// Dialect captures the few places where the destination engines disagree.
// Statements are always written with '?' placeholders and rebound on the way out.
type Dialect struct {
	Name string

	// DriverName is the database/sql driver registered for this dialect.
	DriverName string

	// MaxParams is the largest number of bind parameters one statement may carry.
	MaxParams int

	numbered bool
}

var (
	SQLite = Dialect{Name: "sqlite", DriverName: "sqlite3", MaxParams: 32766}

	// Postgres is served through pgx's database/sql adapter.
	Postgres = Dialect{Name: "postgres", DriverName: "pgx", MaxParams: 65535, numbered: true}

	// LibSQL speaks the SQLite dialect over the libsql/Turso client.
	LibSQL = Dialect{Name: "libsql", DriverName: "libsql", MaxParams: 32766}
)

// Rebind rewrites '?' placeholders into the dialect's native form.
// Question marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// dialectFor picks a dialect from a destination URL. Anything without a known
// scheme is treated as a SQLite file path.
func dialectFor(url string) Dialect {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "wss://"):
		return LibSQL
	default:
		return SQLite
	}
}
