package db

import (
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
)

// SQLiteTimeFormat is fixed width and always UTC so stored timestamps sort
// lexicographically in the same order as chronologically.
const SQLiteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for storage in a SQLite TEXT column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(SQLiteTimeFormat)
}

// FormatTimePtr renders t, or returns nil so the column stores NULL.
func FormatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseTime parses a value written by FormatTime. RFC 3339 values written by
// other tools are accepted as well.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(SQLiteTimeFormat, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "db: parse time %q", s)
	}
	return t.UTC(), nil
}

// ParseNullTime converts a nullable TEXT column into *time.Time.
func ParseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
