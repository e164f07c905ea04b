// Package geo wraps the planar geometry primitives the matching engine needs:
// building a polygon from an ordered vertex ring and testing point
// containment.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// PolygonFromPoints builds a simple polygon from an ordered vertex ring,
// closing the ring if the caller did not. Fewer than three vertices cannot
// enclose area; the result is a nil polygon that contains nothing.
func PolygonFromPoints(points []orb.Point) orb.Polygon {
	if len(points) < 3 {
		return nil
	}

	ring := make(orb.Ring, 0, len(points)+1)
	ring = append(ring, points...)
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}

	return orb.Polygon{ring}
}

// Contains reports whether the point lies inside the polygon. Degenerate
// (nil) polygons contain no points.
func Contains(polygon orb.Polygon, lat, lon float64) bool {
	if len(polygon) == 0 {
		return false
	}
	return planar.PolygonContains(polygon, orb.Point{lat, lon})
}
