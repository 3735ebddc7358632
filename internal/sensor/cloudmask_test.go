package sensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelapse-server/internal/sensor"
)

func TestClearPixelSentinel2(t *testing.T) {
	rec, err := sensor.Resolve(sensor.Sentinel2)
	require.NoError(t, err)

	tests := []struct {
		name  string
		qa    uint16
		clear bool
	}{
		{name: "all clear", qa: 0, clear: true},
		{name: "opaque cloud", qa: 1 << 10, clear: false},
		{name: "cirrus", qa: 1 << 11, clear: false},
		{name: "cloud and cirrus", qa: 1<<10 | 1<<11, clear: false},
		{name: "unrelated bits set", qa: 1<<0 | 1<<5, clear: true},
		{name: "unrelated plus cloud", qa: 1<<5 | 1<<10, clear: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.clear, sensor.ClearPixel(tt.qa, rec))
		})
	}
}

func TestClearPixelLandsat(t *testing.T) {
	rec, err := sensor.Resolve(sensor.Landsat8)
	require.NoError(t, err)

	tests := []struct {
		name  string
		qa    uint16
		clear bool
	}{
		{name: "all clear", qa: 0, clear: true},
		{name: "cloud", qa: 1 << 3, clear: false},
		{name: "shadow", qa: 1 << 4, clear: false},
		{name: "cloud and shadow", qa: 1<<3 | 1<<4, clear: false},
		{name: "dilated cloud bit only", qa: 1 << 1, clear: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.clear, sensor.ClearPixel(tt.qa, rec))
		})
	}
}
