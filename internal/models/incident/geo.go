package incident

import (
	"math"

	"gorm.io/gorm"
)

const earthRadiusKm = 6371.0

// Default search radii. SOS lookups stay tighter since responders need what is close by.
const (
	IncidentRadiusKm = 10.0
	SOSRadiusKm      = 5.0
)

// haversineKm is the great-circle distance between two points.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// boundingBox narrows the query with index-friendly ranges; callers refine with within.
func boundingBox(q *gorm.DB, g *GeoFilter) *gorm.DB {
	dLat := g.RadiusKm / 111.0
	cos := math.Cos(g.Latitude * math.Pi / 180)
	dLng := 180.0
	if cos > 1e-6 {
		dLng = math.Min(180, g.RadiusKm/(111.0*cos))
	}
	return q.Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?",
		g.Latitude-dLat, g.Latitude+dLat, g.Longitude-dLng, g.Longitude+dLng)
}

func within(g *GeoFilter, lat, lng *float64) bool {
	if lat == nil || lng == nil {
		return false
	}
	return haversineKm(g.Latitude, g.Longitude, *lat, *lng) <= g.RadiusKm
}

// nearPage keeps the bounding-box candidates that lie within the radius and returns one page of
// them with the true total. Candidates must already be in display order.
func nearPage[T any](candidates []T, g *GeoFilter, at func(*T) (*float64, *float64), page, limit int) ([]T, int64) {
	kept := candidates[:0]
	for i := range candidates {
		if lat, lng := at(&candidates[i]); within(g, lat, lng) {
			kept = append(kept, candidates[i])
		}
	}
	total := int64(len(kept))
	start := (page - 1) * limit
	if start >= len(kept) {
		return []T{}, total
	}
	end := min(start+limit, len(kept))
	return kept[start:end], total
}
