package ee

import "time"

// ImageCollection wraps a graph node that evaluates to a server-side image
// collection.
type ImageCollection struct {
	node Node
}

// LoadCollection references a public image collection asset by ID.
func LoadCollection(assetID string) ImageCollection {
	return ImageCollection{node: Invoke("ImageCollection.load", map[string]Node{
		"id": String(assetID),
	})}
}

// Node returns the underlying graph node.
func (c ImageCollection) Node() Node {
	return c.node
}

func (c ImageCollection) filter(filter Node) ImageCollection {
	return ImageCollection{node: Invoke("Collection.filter", map[string]Node{
		"collection": c.node,
		"filter":     filter,
	})}
}

// FilterBounds keeps only images intersecting the geometry.
func (c ImageCollection) FilterBounds(geometry Node) ImageCollection {
	return c.filter(Invoke("Filter.intersects", map[string]Node{
		"leftField":  String(".all"),
		"rightValue": geometry,
	}))
}

// FilterDate keeps only images acquired in [start, end).
func (c ImageCollection) FilterDate(start, end time.Time) ImageCollection {
	return c.filter(Invoke("Filter.dateRangeContains", map[string]Node{
		"leftValue": Invoke("DateRange", map[string]Node{
			"start": String(start.UTC().Format(time.RFC3339)),
			"end":   String(end.UTC().Format(time.RFC3339)),
		}),
		"rightField": String("system:time_start"),
	}))
}

// Map applies a per-image algorithm to every image in the collection.
func (c ImageCollection) Map(fn func(Image) Image) ImageCollection {
	algorithm := Lambda([]string{"image"}, func(args ...Node) Node {
		return fn(ImageFromNode(args[0])).Node()
	})
	return ImageCollection{node: Invoke("Collection.map", map[string]Node{
		"collection":    c.node,
		"baseAlgorithm": algorithm,
	})}
}

// Sort orders the collection by a property, ascending.
func (c ImageCollection) Sort(property string) ImageCollection {
	return ImageCollection{node: Invoke("Collection.limit", map[string]Node{
		"collection": c.node,
		"key":        String(property),
		"ascending":  Const(true),
	})}
}

// Limit truncates the collection to at most n images.
func (c ImageCollection) Limit(n int) ImageCollection {
	return ImageCollection{node: Invoke("Collection.limit", map[string]Node{
		"collection": c.node,
		"limit":      Number(float64(n)),
	})}
}

// Size evaluates to the number of images in the collection.
func (c ImageCollection) Size() Node {
	return Invoke("Collection.size", map[string]Node{
		"collection": c.node,
	})
}

// Median flattens the collection into its per-pixel median composite.
func (c ImageCollection) Median() Image {
	return Image{node: Invoke("reduce.median", map[string]Node{
		"collection": c.node,
	})}
}

// Mosaic flattens the collection into a last-on-top composite.
func (c ImageCollection) Mosaic() Image {
	return Image{node: Invoke("ImageCollection.mosaic", map[string]Node{
		"collection": c.node,
	})}
}
