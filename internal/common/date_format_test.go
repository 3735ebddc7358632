package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISO8601(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"valid date", "2023-06-15", time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC), false},
		{"leap day", "2024-02-29", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), false},
		{"empty string", "", time.Time{}, true},
		{"wrong format", "15/06/2023", time.Time{}, true},
		{"datetime not accepted", "2023-06-15T00:00:00Z", time.Time{}, true},
		{"invalid day", "2023-02-30", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseISO8601(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	d := time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2021-12-03", FormatISO8601(d))
	assert.Equal(t, "Dec 03, 2021", FormatDisplay(d))

	parsed, err := ParseISO8601(FormatISO8601(d))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(d))
}

func TestValidateISO8601(t *testing.T) {
	assert.True(t, ValidateISO8601("2023-01-01"))
	assert.False(t, ValidateISO8601(""))
	assert.False(t, ValidateISO8601("2023-13-01"))
	assert.False(t, ValidateISO8601("Jan 01, 2023"))
}

func TestParseDateRange(t *testing.T) {
	start, end, err := ParseDateRange("2023-01-01", "2023-06-30")
	require.NoError(t, err)
	assert.True(t, end.After(start))

	// Same day is a valid range.
	_, _, err = ParseDateRange("2023-01-01", "2023-01-01")
	assert.NoError(t, err)

	_, _, err = ParseDateRange("2023-06-30", "2023-01-01")
	assert.ErrorContains(t, err, "before start date")

	_, _, err = ParseDateRange("bad", "2023-01-01")
	assert.ErrorContains(t, err, "invalid start date")

	_, _, err = ParseDateRange("2023-01-01", "bad")
	assert.ErrorContains(t, err, "invalid end date")
}
