package roi

import (
	"fmt"
	"math"
)

// Rect is a rectangular region of interest on the ground, stored as
// south/west/north/east edges in degrees.
type Rect struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// FromCorners builds a rectangle from the UI's upper-left and lower-right
// corner coordinates. Inverted corners are normalized rather than rejected,
// since map-draw interactions can produce either ordering.
func FromCorners(upperLat, upperLon, lowerLat, lowerLon float64) Rect {
	r := Rect{
		South: lowerLat,
		West:  upperLon,
		North: upperLat,
		East:  lowerLon,
	}
	return r.Normalize()
}

// Normalize swaps edges so that North >= South and East >= West.
func (r Rect) Normalize() Rect {
	if r.South > r.North {
		r.South, r.North = r.North, r.South
	}
	if r.West > r.East {
		r.West, r.East = r.East, r.West
	}
	return r
}

// Validate rejects rectangles outside geographic bounds or with zero extent.
func (r Rect) Validate() error {
	if r.South < -90 || r.North > 90 {
		return fmt.Errorf("latitude out of range: %f..%f", r.South, r.North)
	}
	if r.West < -180 || r.East > 180 {
		return fmt.Errorf("longitude out of range: %f..%f", r.West, r.East)
	}
	if r.North <= r.South || r.East <= r.West {
		return fmt.Errorf("region has no extent")
	}
	return nil
}

// Ring returns the closed linear ring of lon/lat pairs, counter-clockwise
// starting at the southwest corner.
func (r Rect) Ring() [][2]float64 {
	return [][2]float64{
		{r.West, r.South},
		{r.East, r.South},
		{r.East, r.North},
		{r.West, r.North},
		{r.West, r.South},
	}
}

// GeoJSON encodes the rectangle as a GeoJSON Polygon string, for APIs that
// take a region parameter.
func (r Rect) GeoJSON() string {
	return fmt.Sprintf(
		`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		r.West, r.South,
		r.East, r.South,
		r.East, r.North,
		r.West, r.North,
		r.West, r.South,
	)
}

// Center returns the rectangle's midpoint as lat, lon.
func (r Rect) Center() (float64, float64) {
	return (r.South + r.North) / 2, (r.West + r.East) / 2
}

// AreaKm2 approximates the ground area in square kilometers.
func (r Rect) AreaKm2() float64 {
	const kmPerDegree = 111.32
	midLat := (r.South + r.North) / 2
	height := (r.North - r.South) * kmPerDegree
	width := (r.East - r.West) * kmPerDegree * math.Cos(midLat*math.Pi/180)
	return math.Abs(height * width)
}

// AspectRatio returns width over height in degrees, used to pick render
// dimensions that match the region's shape.
func (r Rect) AspectRatio() float64 {
	height := r.North - r.South
	if height == 0 {
		return 1
	}
	return (r.East - r.West) / height
}
