package ee

// Image wraps a graph node that evaluates to a server-side image.
type Image struct {
	node Node
}

// ImageFromNode wraps an existing node (typically a Lambda argument) as an Image.
func ImageFromNode(n Node) Image {
	return Image{node: n}
}

// Node returns the underlying graph node.
func (img Image) Node() Node {
	return img.node
}

// Select keeps only the named bands.
func (img Image) Select(bands ...string) Image {
	return Image{node: Invoke("Image.select", map[string]Node{
		"input":         img.node,
		"bandSelectors": StringList(bands),
	})}
}

// Rename renames the image's bands.
func (img Image) Rename(names ...string) Image {
	return Image{node: Invoke("Image.rename", map[string]Node{
		"input": img.node,
		"names": StringList(names),
	})}
}

// NormalizedDifference computes (b1 - b2) / (b1 + b2) over the two named bands.
func (img Image) NormalizedDifference(b1, b2 string) Image {
	return Image{node: Invoke("Image.normalizedDifference", map[string]Node{
		"input":     img.node,
		"bandNames": StringList([]string{b1, b2}),
	})}
}

func (img Image) binary(function string, other Image) Image {
	return Image{node: Invoke(function, map[string]Node{
		"image1": img.node,
		"image2": other.node,
	})}
}

// ConstImage builds a constant-valued image for arithmetic against real bands.
func ConstImage(v float64) Image {
	return Image{node: Invoke("Image.constant", map[string]Node{
		"value": Number(v),
	})}
}

// Add computes img + other per pixel.
func (img Image) Add(other Image) Image { return img.binary("Image.add", other) }

// Subtract computes img - other per pixel.
func (img Image) Subtract(other Image) Image { return img.binary("Image.subtract", other) }

// Multiply computes img * other per pixel.
func (img Image) Multiply(other Image) Image { return img.binary("Image.multiply", other) }

// Divide computes img / other per pixel.
func (img Image) Divide(other Image) Image { return img.binary("Image.divide", other) }

// MultiplyConst scales every pixel by a constant.
func (img Image) MultiplyConst(v float64) Image { return img.Multiply(ConstImage(v)) }

// AddConst offsets every pixel by a constant.
func (img Image) AddConst(v float64) Image { return img.Add(ConstImage(v)) }

// BitwiseAnd masks the image against a constant bit pattern.
func (img Image) BitwiseAnd(mask int) Image {
	return img.binary("Image.bitwiseAnd", ConstImage(float64(mask)))
}

// Eq compares every pixel against a constant, yielding a 0/1 image.
func (img Image) Eq(v float64) Image {
	return img.binary("Image.eq", ConstImage(v))
}

// And computes the logical AND of two 0/1 images.
func (img Image) And(other Image) Image { return img.binary("Image.and", other) }

// UpdateMask masks out pixels where the mask image is zero.
func (img Image) UpdateMask(mask Image) Image {
	return Image{node: Invoke("Image.updateMask", map[string]Node{
		"image": img.node,
		"mask":  mask.node,
	})}
}

// Clip restricts the image to a geometry.
func (img Image) Clip(geometry Node) Image {
	return Image{node: Invoke("Image.clip", map[string]Node{
		"input":    img.node,
		"geometry": geometry,
	})}
}

// VisParams describes how a single- or three-band image is rendered to RGB.
type VisParams struct {
	Bands   []string
	Min     float64
	Max     float64
	Palette []string
	Gamma   float64
}

// Visualize renders the image to an 8-bit RGB image using the given
// visualization parameters.
func (img Image) Visualize(vis VisParams) Image {
	args := map[string]Node{
		"image": img.node,
		"min":   Const([]interface{}{vis.Min}),
		"max":   Const([]interface{}{vis.Max}),
	}
	if len(vis.Bands) > 0 {
		args["bands"] = StringList(vis.Bands)
	}
	if len(vis.Palette) > 0 {
		args["palette"] = StringList(vis.Palette)
	}
	if vis.Gamma > 0 {
		args["gamma"] = Const([]interface{}{vis.Gamma})
	}
	return Image{node: Invoke("Image.visualize", args)}
}

// ReduceRegion aggregates the image's pixels over a geometry using a named
// reducer ("Reducer.mean", "Reducer.minMax", "Reducer.stdDev", ...).
func (img Image) ReduceRegion(reducer string, geometry Node, scaleMeters float64) Node {
	return Invoke("Image.reduceRegion", map[string]Node{
		"image":      img.node,
		"reducer":    Invoke(reducer, map[string]Node{}),
		"geometry":   geometry,
		"scale":      Number(scaleMeters),
		"bestEffort": Const(true),
		"maxPixels":  Number(1e9),
	})
}
