package index

import (
	"fmt"
	"sort"

	"timelapse-server/internal/ee"
	"timelapse-server/internal/sensor"
)

// Sample carries raw reflectance values for one pixel, used by the scalar
// evaluation path.
type Sample struct {
	Red   float64
	Green float64
	Blue  float64
	NIR   float64
	SWIR1 float64
}

// Definition describes one spectral index: how to derive it from a sensor's
// bands and how to render the result.
type Definition struct {
	// Name is the identifier used in API requests, e.g. "NDVI".
	Name string `json:"name"`

	// Description is a short human-readable summary for the UI.
	Description string `json:"description"`

	// Min and Max bound the expected index values for display stretch.
	Min float64 `json:"min"`
	Max float64 `json:"max"`

	// PaletteName selects the color ramp for single-band display. Empty
	// for true color.
	PaletteName string `json:"palette,omitempty"`

	// TrueColor marks the RGB passthrough pseudo-index.
	TrueColor bool `json:"trueColor,omitempty"`

	apply func(img ee.Image, rec sensor.Record) ee.Image
	eval  func(s Sample) float64
}

// Supported index names. The set is a closed enumeration; unknown names are
// an error rather than a passthrough.
const (
	NDVI      = "NDVI"
	NDWI      = "NDWI"
	MNDWI     = "MNDWI"
	NDSI      = "NDSI"
	EVI       = "EVI"
	SAVI      = "SAVI"
	TrueColor = "TrueColor"
)

func normalizedDifference(pick func(sensor.Bands) (string, string)) func(ee.Image, sensor.Record) ee.Image {
	return func(img ee.Image, rec sensor.Record) ee.Image {
		b1, b2 := pick(rec.Bands)
		return img.NormalizedDifference(b1, b2)
	}
}

func ndValue(a, b float64) float64 {
	if a+b == 0 {
		return 0
	}
	return (a - b) / (a + b)
}

var registry = map[string]Definition{
	NDVI: {
		Name:        NDVI,
		Description: "Normalized difference vegetation index (NIR, Red)",
		Min:         -1, Max: 1,
		PaletteName: "vegetation",
		apply:       normalizedDifference(func(b sensor.Bands) (string, string) { return b.NIR, b.Red }),
		eval:        func(s Sample) float64 { return ndValue(s.NIR, s.Red) },
	},
	NDWI: {
		Name:        NDWI,
		Description: "Normalized difference water index (Green, NIR)",
		Min:         -1, Max: 1,
		PaletteName: "water",
		apply:       normalizedDifference(func(b sensor.Bands) (string, string) { return b.Green, b.NIR }),
		eval:        func(s Sample) float64 { return ndValue(s.Green, s.NIR) },
	},
	MNDWI: {
		Name:        MNDWI,
		Description: "Modified normalized difference water index (Green, SWIR1)",
		Min:         -1, Max: 1,
		PaletteName: "water",
		apply:       normalizedDifference(func(b sensor.Bands) (string, string) { return b.Green, b.SWIR1 }),
		eval:        func(s Sample) float64 { return ndValue(s.Green, s.SWIR1) },
	},
	NDSI: {
		Name:        NDSI,
		Description: "Normalized difference snow index (Green, SWIR1)",
		Min:         -1, Max: 1,
		PaletteName: "snow",
		apply:       normalizedDifference(func(b sensor.Bands) (string, string) { return b.Green, b.SWIR1 }),
		eval:        func(s Sample) float64 { return ndValue(s.Green, s.SWIR1) },
	},
	EVI: {
		Name:        EVI,
		Description: "Enhanced vegetation index",
		Min:         -1, Max: 1,
		PaletteName: "vegetation",
		apply: func(img ee.Image, rec sensor.Record) ee.Image {
			nir := img.Select(rec.Bands.NIR)
			red := img.Select(rec.Bands.Red)
			blue := img.Select(rec.Bands.Blue)

			// 2.5 * (NIR - RED) / (NIR + 6*RED - 7.5*BLUE + 1)
			numerator := nir.Subtract(red).MultiplyConst(2.5)
			denominator := nir.Add(red.MultiplyConst(6)).
				Subtract(blue.MultiplyConst(7.5)).
				AddConst(1)
			return numerator.Divide(denominator).Rename(EVI)
		},
		eval: func(s Sample) float64 {
			den := s.NIR + 6*s.Red - 7.5*s.Blue + 1
			if den == 0 {
				return 0
			}
			return 2.5 * (s.NIR - s.Red) / den
		},
	},
	SAVI: {
		Name:        SAVI,
		Description: "Soil-adjusted vegetation index (L = 0.5)",
		Min:         -1, Max: 1,
		PaletteName: "vegetation",
		apply: func(img ee.Image, rec sensor.Record) ee.Image {
			nir := img.Select(rec.Bands.NIR)
			red := img.Select(rec.Bands.Red)

			// 1.5 * (NIR - RED) / (NIR + RED + 0.5)
			numerator := nir.Subtract(red).MultiplyConst(1.5)
			denominator := nir.Add(red).AddConst(0.5)
			return numerator.Divide(denominator).Rename(SAVI)
		},
		eval: func(s Sample) float64 {
			den := s.NIR + s.Red + 0.5
			if den == 0 {
				return 0
			}
			return 1.5 * (s.NIR - s.Red) / den
		},
	},
	TrueColor: {
		Name:        TrueColor,
		Description: "True color RGB composite",
		TrueColor:   true,
		apply: func(img ee.Image, rec sensor.Record) ee.Image {
			return img.Select(rec.Bands.Red, rec.Bands.Green, rec.Bands.Blue)
		},
	},
}

// Resolve looks up an index definition by name. "Level1" is accepted as a
// legacy alias for the true-color passthrough.
func Resolve(name string) (Definition, error) {
	if name == "Level1" {
		name = TrueColor
	}
	def, ok := registry[name]
	if !ok {
		return Definition{}, fmt.Errorf("unknown index: %q", name)
	}
	return def, nil
}

// All returns every registered definition, ordered by name.
func All() []Definition {
	defs := make([]Definition, 0, len(registry))
	for _, def := range registry {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// Apply derives the index band(s) from a sensor image.
func (d Definition) Apply(img ee.Image, rec sensor.Record) ee.Image {
	return d.apply(img, rec)
}

// Evaluate computes the scalar index value for one pixel's reflectances.
// True color has no scalar form.
func (d Definition) Evaluate(s Sample) (float64, error) {
	if d.eval == nil {
		return 0, fmt.Errorf("index %s has no scalar form", d.Name)
	}
	return d.eval(s), nil
}

// Vis returns the visualization parameters for rendering the index over a
// given sensor: the index palette stretch for single-band indices, or the
// sensor's reflectance stretch for true color.
func (d Definition) Vis(rec sensor.Record) ee.VisParams {
	if d.TrueColor {
		return ee.VisParams{
			Min: 0,
			Max: rec.ReflectanceMax,
		}
	}
	return ee.VisParams{
		Min:     d.Min,
		Max:     d.Max,
		Palette: Palette(d.PaletteName),
	}
}
