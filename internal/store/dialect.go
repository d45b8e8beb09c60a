package store

import (
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"
)

// Driver selects the SQL backend.
type Driver string

const (
	// DriverLibSQL is the embedded libSQL fork of SQLite (cgo).
	DriverLibSQL Driver = "libsql"
	// DriverSQLite is the pure-Go SQLite port.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres is PostgreSQL through pgx.
	DriverPostgres Driver = "postgres"
)

type dialect struct {
	driver     Driver
	sqlName    string
	numbered   bool
	singleConn bool
	pragmas    []string
}

func dialectFor(d Driver) (dialect, bool) {
	switch d {
	case DriverLibSQL:
		return dialect{driver: d, sqlName: "libsql", singleConn: true, pragmas: sqlitePragmas}, true
	case DriverSQLite:
		return dialect{driver: d, sqlName: "sqlite", singleConn: true, pragmas: sqlitePragmas}, true
	case DriverPostgres:
		return dialect{driver: d, sqlName: "pgx", numbered: true}, true
	}
	return dialect{}, false
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

// rebind rewrites ? placeholders to $n for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
