package geo

import (
	"fmt"

	"wisefido-attendance/internal/domain"
)

// CircleResult containment against a circular area.
type CircleResult struct {
	DistanceM float64
	Within    bool
	// MarginM is distance minus radius; negative means inside.
	MarginM float64
}

// ContainsCircle 圆形围栏判定，边界（distance == radius）算在内
func ContainsCircle(area domain.GeoArea, p domain.Coordinate) CircleResult {
	d := DistanceMeters(area.Center, p)
	return CircleResult{
		DistanceM: d,
		Within:    d <= area.RadiusM,
		MarginM:   d - area.RadiusM,
	}
}

// ContainsRectangle 矩形围栏判定，按经纬度范围比较，不做大圆修正
func ContainsRectangle(area domain.GeoArea, p domain.Coordinate) bool {
	north, south := area.Northwest.Latitude, area.Southeast.Latitude
	west, east := area.Northwest.Longitude, area.Southeast.Longitude
	return p.Latitude >= south && p.Latitude <= north &&
		p.Longitude >= west && p.Longitude <= east
}

// Classification is the outcome of testing a point against any area.
type Classification struct {
	// DistanceM is measured to the circle center or the rectangle centroid.
	// For rectangles it is informational only.
	DistanceM float64
	Within    bool
	// MarginM is only meaningful for circles.
	MarginM float64
	// AllowedRadiusM is the circle radius, or the centroid-to-corner distance
	// for rectangles.
	AllowedRadiusM float64
}

// Classify dispatches on the area shape.
func Classify(area domain.GeoArea, p domain.Coordinate) (Classification, error) {
	switch area.Shape {
	case domain.ShapeCircle:
		r := ContainsCircle(area, p)
		return Classification{
			DistanceM:      r.DistanceM,
			Within:         r.Within,
			MarginM:        r.MarginM,
			AllowedRadiusM: area.RadiusM,
		}, nil
	case domain.ShapeRectangle:
		c := area.Centroid()
		return Classification{
			DistanceM:      DistanceMeters(c, p),
			Within:         ContainsRectangle(area, p),
			AllowedRadiusM: DistanceMeters(c, area.Northwest),
		}, nil
	default:
		return Classification{}, fmt.Errorf("unsupported area shape %q", area.Shape)
	}
}
