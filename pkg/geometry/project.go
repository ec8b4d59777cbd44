package geometry

import (
	"errors"
	"fmt"
	"math"
)

const (
	SRIDWGS84       = 4326
	SRIDWebMercator = 3857
)

const (
	ERR_UNKNOWN_SRID_PAIR = "error unsupported spatial reference pair"
)

var ErrUnknownSRIDPair = errors.New(ERR_UNKNOWN_SRID_PAIR)

const earthRadius = 6378137.0

// Transformer reprojects coordinate pairs between two spatial references.
// Construct once and reuse; Transform itself is stateless per call.
type Transformer struct {
	inSRID  int
	outSRID int
	fn      func(x, y float64) (float64, float64)
}

// NewTransformer builds a coordinate transform for the given spatial
// reference pair. Identical references yield an identity transform.
func NewTransformer(inSRID, outSRID int) (*Transformer, error) {
	t := &Transformer{inSRID: inSRID, outSRID: outSRID}
	switch {
	case inSRID == outSRID:
		t.fn = func(x, y float64) (float64, float64) { return x, y }
	case inSRID == SRIDWGS84 && outSRID == SRIDWebMercator:
		t.fn = wgs84ToWebMercator
	case inSRID == SRIDWebMercator && outSRID == SRIDWGS84:
		t.fn = webMercatorToWGS84
	default:
		return nil, fmt.Errorf("%w: %d -> %d", ErrUnknownSRIDPair, inSRID, outSRID)
	}
	return t, nil
}

// Identity reports whether the transform is a no-op.
func (t *Transformer) Identity() bool { return t.inSRID == t.outSRID }

// Transform reprojects one coordinate pair.
func (t *Transformer) Transform(x, y float64) (float64, float64) {
	return t.fn(x, y)
}

func wgs84ToWebMercator(lon, lat float64) (float64, float64) {
	x := earthRadius * lon * math.Pi / 180
	y := earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

func webMercatorToWGS84(x, y float64) (float64, float64) {
	lon := x / earthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}
