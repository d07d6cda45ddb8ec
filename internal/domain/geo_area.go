package domain

import "fmt"

// Coordinate WGS84 坐标点
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid 纬度 [-90,90]，经度 [-180,180]，NaN 视为无效
func (c Coordinate) Valid() bool {
	// NaN 比较恒为 false，这里的写法能同时挡掉 NaN
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// AreaShape 地理围栏形状
type AreaShape string

const (
	ShapeCircle    AreaShape = "circle"
	ShapeRectangle AreaShape = "rectangle"
)

// GeoArea 地理围栏（圆形或矩形），归属于 Location
type GeoArea struct {
	Shape AreaShape `json:"shape"`

	// circle
	Center  Coordinate `json:"center"`
	RadiusM float64    `json:"radius_m,omitempty"`

	// rectangle
	Northwest Coordinate `json:"northwest"`
	Southeast Coordinate `json:"southeast"`
}

// NewCircle builds a circular area.
func NewCircle(center Coordinate, radiusM float64) GeoArea {
	return GeoArea{Shape: ShapeCircle, Center: center, RadiusM: radiusM}
}

// NewRectangle builds a rectangular area from its north-west and south-east corners.
func NewRectangle(northwest, southeast Coordinate) GeoArea {
	return GeoArea{Shape: ShapeRectangle, Northwest: northwest, Southeast: southeast}
}

// Centroid returns the point distances are reported against.
func (a GeoArea) Centroid() Coordinate {
	if a.Shape == ShapeRectangle {
		return Coordinate{
			Latitude:  (a.Northwest.Latitude + a.Southeast.Latitude) / 2,
			Longitude: (a.Northwest.Longitude + a.Southeast.Longitude) / 2,
		}
	}
	return a.Center
}

// Validate checks the shape-specific invariants.
func (a GeoArea) Validate() error {
	switch a.Shape {
	case ShapeCircle:
		if !a.Center.Valid() {
			return fmt.Errorf("circle center out of range")
		}
		if !(a.RadiusM > 0) {
			return fmt.Errorf("circle radius must be > 0, got %v", a.RadiusM)
		}
	case ShapeRectangle:
		if !a.Northwest.Valid() || !a.Southeast.Valid() {
			return fmt.Errorf("rectangle corner out of range")
		}
		if a.Northwest.Latitude < a.Southeast.Latitude {
			return fmt.Errorf("rectangle north edge is below south edge")
		}
		if a.Northwest.Longitude > a.Southeast.Longitude {
			return fmt.Errorf("rectangle west edge is east of east edge")
		}
	default:
		return fmt.Errorf("unknown area shape %q", a.Shape)
	}
	return nil
}
