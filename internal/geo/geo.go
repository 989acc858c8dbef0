package geo

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var ErrOutOfBounds = errors.New("coordinates out of bounds")

// Validate checks that the point lies within valid latitude/longitude ranges.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrOutOfBounds
	}
	return nil
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points (haversine).
func DistanceKm(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Obfuscate shifts a point by an independent uniform random offset in
// [-radiusDeg, +radiusDeg] per axis. The offset is drawn from crypto/rand and
// never recorded, so the transform cannot be reversed.
func Obfuscate(p Point, radiusDeg float64) Point {
	out := Point{
		Lat: clamp(p.Lat+uniform(radiusDeg), -90, 90),
		Lng: p.Lng + uniform(radiusDeg),
	}
	// Wrap longitude instead of clamping so offsets near the antimeridian
	// stay within the configured radius.
	if out.Lng > 180 {
		out.Lng -= 360
	} else if out.Lng < -180 {
		out.Lng += 360
	}
	return out
}

// uniform returns a random value in [-radius, +radius].
func uniform(radius float64) float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; degrade to zero
		// offset rather than leak a predictable one.
		return 0
	}
	u := binary.LittleEndian.Uint64(buf[:])
	frac := float64(u>>11) / float64(1<<53)
	return (frac*2 - 1) * radius
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
