package utils

import (
	"math"
	"testing"
	"time"
)

func TestHaversineDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, tolerance        float64
	}{
		{"same point", 38.30, -76.63, 38.30, -76.63, 0, 1e-9},
		{"one meter north", 38.30, -76.63, 38.300009, -76.63, 1.0, 0.01},
		{"one degree of latitude", 0, 0, 1, 0, 111195, 1},
		{"paris to london", 48.8566, 2.3522, 51.5074, -0.1278, 343500, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineDistance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineDistance() = %.3f, want %.3f ± %.3f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestIsLocationValid(t *testing.T) {
	tests := []struct {
		lat, lng float64
		want     bool
	}{
		{38.30, -76.63, true},
		{90, 180, true},
		{-90, -180, true},
		{90.1, 0, false},
		{0, -180.5, false},
		{math.NaN(), 0, false},
	}
	for _, tt := range tests {
		if got := IsLocationValid(tt.lat, tt.lng); got != tt.want {
			t.Errorf("IsLocationValid(%v, %v) = %v, want %v", tt.lat, tt.lng, got, tt.want)
		}
	}
}

func TestIsLocationRecent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-30 * time.Second)
	stale := now.Add(-3 * time.Minute)

	if IsLocationRecent(nil, now, time.Minute) {
		t.Error("nil fix reported recent")
	}
	if !IsLocationRecent(&fresh, now, time.Minute) {
		t.Error("30s old fix not recent")
	}
	if IsLocationRecent(&stale, now, time.Minute) {
		t.Error("3m old fix reported recent")
	}
}
