package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStats(t *testing.T) {
	stats, err := decodeStats(json.RawMessage(`{"NDVI_mean": 0.42, "NDVI_stdDev": 0.07}`))
	require.NoError(t, err)
	assert.InDelta(t, 0.42, stats["NDVI_mean"], 1e-9)
	assert.InDelta(t, 0.07, stats["NDVI_stdDev"], 1e-9)
}

func TestDecodeStatsOmitsNullBands(t *testing.T) {
	// A region with no unmasked pixels reduces to null.
	stats, err := decodeStats(json.RawMessage(`{"NDVI_mean": null}`))
	require.NoError(t, err)
	assert.Empty(t, stats)

	stats, err = decodeStats(json.RawMessage(`{"NDVI_mean": null, "NDVI_max": 0.9}`))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.InDelta(t, 0.9, stats["NDVI_max"], 1e-9)
}

func TestDecodeStatsRejectsNonObject(t *testing.T) {
	_, err := decodeStats(json.RawMessage(`[1, 2]`))
	assert.Error(t, err)
}

func TestReducerName(t *testing.T) {
	tests := []struct {
		short   string
		want    string
		wantErr bool
	}{
		{"", "Reducer.mean", false},
		{"mean", "Reducer.mean", false},
		{"min", "Reducer.min", false},
		{"max", "Reducer.max", false},
		{"median", "Reducer.median", false},
		{"stdDev", "Reducer.stdDev", false},
		{"variance", "", true},
		{"Mean", "", true},
	}

	for _, tt := range tests {
		got, err := reducerName(tt.short)
		if tt.wantErr {
			assert.Error(t, err, "short=%q", tt.short)
			continue
		}
		require.NoError(t, err, "short=%q", tt.short)
		assert.Equal(t, tt.want, got)
	}
}
