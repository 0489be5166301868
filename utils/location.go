package utils

import (
	"math"
	"time"
)

// earthRadiusMeters is the mean Earth radius used by HaversineDistance.
const earthRadiusMeters = 6371000.0

// HaversineDistance calculates the distance between two points on Earth using the Haversine formula
// Returns distance in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	// Convert degrees to radians
	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180

	// Differences in coordinates
	deltaLat := lat2Rad - lat1Rad
	deltaLon := lon2Rad - lon1Rad

	// Haversine formula
	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// IsLocationValid checks if the provided coordinates are valid
func IsLocationValid(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// IsLocationRecent checks if the fix was taken within maxAge of now
func IsLocationRecent(lastUpdate *time.Time, now time.Time, maxAge time.Duration) bool {
	if lastUpdate == nil {
		return false
	}
	return now.Sub(*lastUpdate) <= maxAge
}
