package geo

import (
	"math"

	"wisefido-attendance/internal/domain"
)

// EarthRadiusMeters 地球平均半径（米）
const EarthRadiusMeters = 6371000.0

// Distance 使用 haversine 公式计算两点间大圆距离（米）
func Distance(a, b domain.Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// OutsideGeofence 距离是否超出围栏半径 + GPS 容差
func OutsideGeofence(distance, radius, tolerance float64) bool {
	return distance > radius+tolerance
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ValidCoordinate 纬度/经度范围校验
func ValidCoordinate(c domain.Coordinate) bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return false
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return false
	}
	if c.Accuracy != nil && (math.IsNaN(*c.Accuracy) || *c.Accuracy < 0) {
		return false
	}
	return true
}
