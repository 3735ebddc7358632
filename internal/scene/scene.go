// Package scene assembles the computation graphs behind every rendering and
// statistics request: load a satellite collection over a region and date
// range, mask clouds, derive the requested spectral index, and visualize.
package scene

import (
	"fmt"
	"time"

	"timelapse-server/internal/ee"
	"timelapse-server/internal/index"
	"timelapse-server/internal/roi"
	"timelapse-server/internal/sensor"
)

// DefaultMaxFrames caps how many scenes feed a timelapse when the request
// doesn't say otherwise.
const DefaultMaxFrames = 20

// Query describes one masked, index-visualized collection request.
type Query struct {
	Sensor    sensor.Record
	Index     index.Definition
	Region    roi.Rect
	Start     time.Time
	End       time.Time
	MaxFrames int
}

// Validate checks the parts of the query not already validated at the API
// boundary.
func (q Query) Validate() error {
	if err := q.Region.Validate(); err != nil {
		return fmt.Errorf("invalid region: %w", err)
	}
	if !q.End.After(q.Start) {
		return fmt.Errorf("end date %s is not after start date %s",
			q.End.Format("2006-01-02"), q.Start.Format("2006-01-02"))
	}
	return nil
}

func (q Query) geometry() ee.Node {
	return ee.Polygon(q.Region.Ring())
}

func (q Query) maxFrames() int {
	if q.MaxFrames > 0 {
		return q.MaxFrames
	}
	return DefaultMaxFrames
}

// base is the filtered collection before any per-image processing.
func (q Query) base() ee.ImageCollection {
	return ee.LoadCollection(q.Sensor.CollectionID).
		FilterBounds(q.geometry()).
		FilterDate(q.Start, q.End)
}

// frame turns one raw scene into a rendered RGB frame: cloud mask, index
// derivation, visualization, clip to the region.
func (q Query) frame(img ee.Image) ee.Image {
	masked := sensor.MaskClouds(img, q.Sensor)
	derived := q.Index.Apply(masked, q.Sensor)
	return derived.Visualize(q.Index.Vis(q.Sensor)).Clip(q.geometry())
}

// Frames is the chronologically ordered, frame-rendered collection feeding
// a timelapse.
func (q Query) Frames() ee.ImageCollection {
	return q.base().
		Sort("system:time_start").
		Limit(q.maxFrames()).
		Map(q.frame)
}

// TimelapseExpr serializes the rendered frame collection for the video
// rendering endpoint.
func (q Query) TimelapseExpr() (*ee.Expression, error) {
	return ee.Serialize(q.Frames().Node())
}

// CompositeExpr serializes a median composite preview of the rendered
// frames, used for still thumbnails.
func (q Query) CompositeExpr() (*ee.Expression, error) {
	composite := q.base().
		Map(func(img ee.Image) ee.Image {
			masked := sensor.MaskClouds(img, q.Sensor)
			return q.Index.Apply(masked, q.Sensor)
		}).
		Median().
		Visualize(q.Index.Vis(q.Sensor)).
		Clip(q.geometry())
	return ee.Serialize(composite.Node())
}

// TotalSizeExpr serializes the count of all matching scenes, before the
// frame cap.
func (q Query) TotalSizeExpr() (*ee.Expression, error) {
	return ee.Serialize(q.base().Size())
}

// LimitedSizeExpr serializes the count of scenes actually used, after the
// frame cap.
func (q Query) LimitedSizeExpr() (*ee.Expression, error) {
	return ee.Serialize(q.base().Limit(q.maxFrames()).Size())
}

// StatsExpr serializes a region reduction of the index median composite
// with the named reducer ("Reducer.mean", "Reducer.minMax",
// "Reducer.stdDev").
func (q Query) StatsExpr(reducer string) (*ee.Expression, error) {
	if q.Index.TrueColor {
		return nil, fmt.Errorf("statistics require a single-band index, not %s", q.Index.Name)
	}
	composite := q.base().
		Map(func(img ee.Image) ee.Image {
			masked := sensor.MaskClouds(img, q.Sensor)
			return q.Index.Apply(masked, q.Sensor)
		}).
		Median()
	node := composite.ReduceRegion(reducer, q.geometry(), q.Sensor.ResolutionMeters)
	return ee.Serialize(node)
}
