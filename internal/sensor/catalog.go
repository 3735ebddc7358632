package sensor

import (
	"fmt"
	"sort"
)

// Bands names the spectral bands used by index computation, keyed to the
// catalog's native band identifiers.
type Bands struct {
	Red   string `json:"red"`
	Green string `json:"green"`
	Blue  string `json:"blue"`
	NIR   string `json:"nir"`
	SWIR1 string `json:"swir1"`
}

// Record is the static configuration for one supported satellite: which
// collection to query, how its bands are named, where its QA band keeps the
// cloud flags, and how reflectance maps to display range.
type Record struct {
	// Name is the identifier used in API requests, e.g. "Sentinel-2".
	Name string `json:"name"`

	// CollectionID is the Earth Engine asset ID of the collection.
	CollectionID string `json:"collectionId"`

	Bands Bands `json:"bands"`

	// QABand is the per-pixel quality bitmask band.
	QABand string `json:"qaBand"`

	// CloudBit and ShadowBit are the QA bit positions that must both be
	// zero for a pixel to count as clear. For Sentinel-2 the second bit
	// flags cirrus rather than shadow.
	CloudBit  uint `json:"cloudBit"`
	ShadowBit uint `json:"shadowBit"`

	// ReflectanceMax is the upper bound for true-color display stretch.
	ReflectanceMax float64 `json:"reflectanceMax"`

	// ResolutionMeters is the nominal pixel size, used as the reduction
	// scale for region statistics.
	ResolutionMeters float64 `json:"resolutionMeters"`

	// CloudProp is the per-scene cloud cover metadata property.
	CloudProp string `json:"cloudProp"`
}

// Supported satellite names. The catalog is a closed enumeration; anything
// else is an error.
const (
	Sentinel2 = "Sentinel-2"
	Landsat8  = "Landsat-8"
	Landsat9  = "Landsat-9"
)

var catalog = map[string]Record{
	Sentinel2: {
		Name:             Sentinel2,
		CollectionID:     "COPERNICUS/S2_SR_HARMONIZED",
		Bands:            Bands{Red: "B4", Green: "B3", Blue: "B2", NIR: "B8", SWIR1: "B11"},
		QABand:           "QA60",
		CloudBit:         10,
		ShadowBit:        11, // cirrus on Sentinel-2
		ReflectanceMax:   3000,
		ResolutionMeters: 10,
		CloudProp:        "CLOUDY_PIXEL_PERCENTAGE",
	},
	Landsat8: {
		Name:             Landsat8,
		CollectionID:     "LANDSAT/LC08/C02/T1_L2",
		Bands:            Bands{Red: "SR_B4", Green: "SR_B3", Blue: "SR_B2", NIR: "SR_B5", SWIR1: "SR_B6"},
		QABand:           "QA_PIXEL",
		CloudBit:         3,
		ShadowBit:        4,
		ReflectanceMax:   30000,
		ResolutionMeters: 30,
		CloudProp:        "CLOUD_COVER",
	},
	Landsat9: {
		Name:             Landsat9,
		CollectionID:     "LANDSAT/LC09/C02/T1_L2",
		Bands:            Bands{Red: "SR_B4", Green: "SR_B3", Blue: "SR_B2", NIR: "SR_B5", SWIR1: "SR_B6"},
		QABand:           "QA_PIXEL",
		CloudBit:         3,
		ShadowBit:        4,
		ReflectanceMax:   30000,
		ResolutionMeters: 30,
		CloudProp:        "CLOUD_COVER",
	},
}

// Resolve looks up the record for a satellite name.
func Resolve(name string) (Record, error) {
	rec, ok := catalog[name]
	if !ok {
		return Record{}, fmt.Errorf("unknown satellite: %q", name)
	}
	return rec, nil
}

// All returns every catalog record, ordered by name.
func All() []Record {
	records := make([]Record, 0, len(catalog))
	for _, rec := range catalog {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records
}

// Names returns the supported satellite names, ordered.
func Names() []string {
	records := All()
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}
	return names
}
