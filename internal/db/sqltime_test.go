package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime_SortsLexicographically(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	earlier := FormatTime(base)
	later := FormatTime(base.Add(1500 * time.Millisecond))

	assert.Less(t, earlier, later)
	assert.Equal(t, "2026-03-01T14:00:00.000000000Z", earlier)
}

func TestParseTime_RoundTrip(t *testing.T) {
	want := time.Date(2026, 3, 1, 14, 0, 0, 123456789, time.UTC)
	got, err := ParseTime(FormatTime(want))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestParseTime_RFC3339(t *testing.T) {
	got, err := ParseTime("2026-03-01T09:00:00-05:00")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 14, got.Hour())
}

func TestParseTime_Invalid(t *testing.T) {
	_, err := ParseTime("yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: parse time")
}

func TestParseNullTime(t *testing.T) {
	got, err := ParseNullTime(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseNullTime(sql.NullString{Valid: true, String: "2026-03-01T14:00:00.000000000Z"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())

	assert.Nil(t, FormatTimePtr(nil))
	now := time.Now()
	assert.NotNil(t, FormatTimePtr(&now))
}
