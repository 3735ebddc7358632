package index

// Named color ramps used for single-band index visualization. Hex strings
// are passed straight through to the rendering backend.
var palettes = map[string][]string{
	// White through browns and yellows to dense green, the classic
	// vegetation ramp.
	"vegetation": {"#ffffff", "#ce7e45", "#fcd163", "#66a000", "#056201"},

	// Dry land tones into deep blue for water indices.
	"water": {"#f7fbff", "#deebf7", "#9ecae1", "#4292c6", "#084594"},

	// Dark ground to bright cyan-white for snow and ice.
	"snow": {"#000044", "#2166ac", "#67a9cf", "#d1e5f0", "#ffffff"},
}

// Palette returns the ramp registered under a name, falling back to the
// vegetation ramp for unknown names.
func Palette(name string) []string {
	if p, ok := palettes[name]; ok {
		return p
	}
	return palettes["vegetation"]
}
