// Package geometry maps well-known-text shapes, as produced by the
// relational store's spatial functions, onto the map-layer platform's
// native geometry JSON, reprojecting coordinates when the spatial
// references differ.
package geometry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	ERR_UNSUPPORTED_GEOMETRY = "error unsupported geometry type"
	ERR_INVALID_GEOMETRY     = "error invalid geometry"
	ERR_MALFORMED_WKT        = "error malformed wkt"
	ERR_UNKNOWN_LAYER_TYPE   = "error unknown layer geometry type"
)

var (
	ErrUnsupportedGeometry = errors.New(ERR_UNSUPPORTED_GEOMETRY)
	ErrInvalidGeometry     = errors.New(ERR_INVALID_GEOMETRY)
	ErrMalformedWKT        = errors.New(ERR_MALFORMED_WKT)
	ErrUnknownLayerType    = errors.New(ERR_UNKNOWN_LAYER_TYPE)
)

// Layer geometry types as reported by the platform.
const (
	LayerPoint    = "esriGeometryPoint"
	LayerPolyline = "esriGeometryPolyline"
	LayerPolygon  = "esriGeometryPolygon"
)

type SpatialReference struct {
	WKID int `json:"wkid"`
}

// Point is the platform point structure. X and Y are "NaN" strings for
// the explicit empty shape; the platform requires an explicit empty
// rather than a missing key.
type Point struct {
	X                any              `json:"x"`
	Y                any              `json:"y"`
	SpatialReference SpatialReference `json:"spatial_reference"`
}

type Polygon struct {
	Rings            [][][]float64    `json:"rings"`
	SpatialReference SpatialReference `json:"spatial_reference"`
}

type Polyline struct {
	Paths            [][][]float64    `json:"paths"`
	SpatialReference SpatialReference `json:"spatial_reference"`
}

// Codec converts WKT shapes to platform geometry JSON structures. The
// coordinate transformer is constructed once at build time; it is
// expensive to initialize and stateless per call.
type Codec struct {
	tr        *Transformer
	outSRID   int
	layerType string
}

// NewCodec builds a codec for the given spatial reference pair and the
// layer's geometry type (used to shape empty geometries).
func NewCodec(inSRID, outSRID int, layerType string) (*Codec, error) {
	switch layerType {
	case LayerPoint, LayerPolyline, LayerPolygon:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayerType, layerType)
	}
	tr, err := NewTransformer(inSRID, outSRID)
	if err != nil {
		return nil, err
	}
	return &Codec{tr: tr, outSRID: outSRID, layerType: layerType}, nil
}

// Encode converts one WKT shape into the platform geometry structure.
// Empty or blank shapes encode to a type-appropriate empty structure.
// Unsupported geometry keywords are fatal, not retried.
func (c *Codec) Encode(wkt string) (any, error) {
	keyword, body, empty := splitWKT(wkt)
	if empty || keyword == "" {
		return c.EncodeEmpty()
	}

	switch keyword {
	case "POINT":
		xy, err := parseCoords(body)
		if err != nil {
			return nil, err
		}
		if len(xy) != 1 {
			return nil, fmt.Errorf("%w: point with %d coordinates", ErrMalformedWKT, len(xy))
		}
		x, y := c.tr.Transform(xy[0][0], xy[0][1])
		return Point{X: x, Y: y, SpatialReference: SpatialReference{WKID: c.outSRID}}, nil

	case "LINESTRING":
		path, err := c.coordList(body)
		if err != nil {
			return nil, err
		}
		return Polyline{Paths: [][][]float64{path}, SpatialReference: SpatialReference{WKID: c.outSRID}}, nil

	case "POLYGON":
		rings, err := c.rings(body)
		if err != nil {
			return nil, err
		}
		// Interior rings are validated but only the exterior is mirrored.
		return Polygon{Rings: rings[:1], SpatialReference: SpatialReference{WKID: c.outSRID}}, nil

	case "MULTIPOLYGON":
		members := splitGroups(body)
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: multipolygon without members", ErrMalformedWKT)
		}
		// Flattened: one ring list per member polygon.
		rings := make([][][]float64, 0, len(members))
		for _, member := range members {
			memberRings, err := c.rings(member)
			if err != nil {
				return nil, err
			}
			rings = append(rings, memberRings[0])
		}
		return Polygon{Rings: rings, SpatialReference: SpatialReference{WKID: c.outSRID}}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, keyword)
	}
}

// EncodeEmpty returns the platform's explicit empty shape for the layer's
// geometry type.
func (c *Codec) EncodeEmpty() (any, error) {
	sr := SpatialReference{WKID: c.outSRID}
	switch c.layerType {
	case LayerPoint:
		return Point{X: "NaN", Y: "NaN", SpatialReference: sr}, nil
	case LayerPolyline:
		return Polyline{Paths: [][][]float64{}, SpatialReference: sr}, nil
	case LayerPolygon:
		return Polygon{Rings: [][][]float64{}, SpatialReference: sr}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayerType, c.layerType)
	}
}

// rings parses and validates a polygon body, reprojecting each ring.
// Invalid geometry fails fast; the operator must fix the source data.
func (c *Codec) rings(body string) ([][][]float64, error) {
	groups := splitGroups(body)
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: polygon without rings", ErrMalformedWKT)
	}
	rings := make([][][]float64, 0, len(groups))
	for _, g := range groups {
		ring, err := c.coordList(g)
		if err != nil {
			return nil, err
		}
		if err := validRing(ring); err != nil {
			return nil, err
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

// validRing checks ring closure and minimum length.
func validRing(ring [][]float64) error {
	if len(ring) < 4 {
		return fmt.Errorf("%w: ring with %d points", ErrInvalidGeometry, len(ring))
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		return fmt.Errorf("%w: unclosed ring", ErrInvalidGeometry)
	}
	return nil
}

func (c *Codec) coordList(body string) ([][]float64, error) {
	xy, err := parseCoords(body)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, 0, len(xy))
	for _, p := range xy {
		x, y := c.tr.Transform(p[0], p[1])
		out = append(out, []float64{x, y})
	}
	return out, nil
}

// splitWKT separates the geometry keyword from its parenthesized body.
// "POINT EMPTY" and blank input report empty=true.
func splitWKT(wkt string) (keyword, body string, empty bool) {
	s := strings.TrimSpace(wkt)
	if s == "" {
		return "", "", true
	}
	i := strings.IndexAny(s, " (")
	if i < 0 {
		return strings.ToUpper(s), "", true
	}
	keyword = strings.ToUpper(s[:i])
	rest := strings.TrimSpace(s[i:])
	if strings.EqualFold(rest, "EMPTY") {
		return keyword, "", true
	}
	// Strip the outermost paren pair.
	if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
		return keyword, rest[1 : len(rest)-1], false
	}
	return keyword, rest, false
}

// splitGroups splits a body like "(a),(b),(c)" into its top-level
// parenthesized members with the outer parens removed.
func splitGroups(body string) []string {
	var groups []string
	depth, start := 0, -1
	for i, r := range body {
		switch r {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth == 0 && start >= 0 {
				groups = append(groups, body[start:i])
				start = -1
			}
		}
	}
	return groups
}

// parseCoords parses "x y, x y, ..." into coordinate pairs.
func parseCoords(body string) ([][2]float64, error) {
	var out [][2]float64
	for _, pair := range strings.Split(body, ",") {
		fields := strings.Fields(pair)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: coordinate %q", ErrMalformedWKT, pair)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedWKT, fields[0])
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedWKT, fields[1])
		}
		out = append(out, [2]float64{x, y})
	}
	return out, nil
}
