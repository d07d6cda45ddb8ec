// Package geo implements great-circle distance and geofence containment.
package geo

import (
	"math"

	"wisefido-attendance/internal/domain"
)

// EarthRadiusM mean Earth radius used by the haversine formula.
const EarthRadiusM = 6371000.0

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceMeters 两点间大圆距离（haversine）
func DistanceMeters(p1, p2 domain.Coordinate) float64 {
	if p1 == p2 {
		return 0
	}
	lat1 := toRadians(p1.Latitude)
	lat2 := toRadians(p2.Latitude)
	dLat := lat2 - lat1
	dLng := toRadians(p2.Longitude - p1.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	// 浮点误差可能让 h 略超出 [0,1]，近对跖点时 asin 会得到 NaN
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
