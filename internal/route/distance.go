package route

import (
	"fmt"
	"math"
	"time"

	"github.com/example/ride-client/internal/models"
)

// EstimateSpeedKmh is the average speed assumed for straight-line estimates.
const EstimateSpeedKmh = 50.0

// Haversine distance in meters
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// StraightLineEstimate is the initial guess shown before the router answers.
func StraightLineEstimate(from, to models.Coord) Measurement {
	m := Haversine(from, to)
	hours := (m / 1000) / EstimateSpeedKmh
	return Measurement{Duration: time.Duration(hours * float64(time.Hour)), DistanceMeters: m}
}

// FormatDuration renders "25 min", "1h" or "1h 5min".
func FormatDuration(d time.Duration) string {
	minutes := d.Minutes()
	if minutes < 60 {
		return fmt.Sprintf("%d min", int(math.Round(minutes)))
	}
	hours := int(minutes / 60)
	mins := int(math.Round(math.Mod(minutes, 60)))
	if mins == 60 {
		hours, mins = hours+1, 0
	}
	if mins > 0 {
		return fmt.Sprintf("%dh %dmin", hours, mins)
	}
	return fmt.Sprintf("%dh", hours)
}

// FormatDistance renders "850 m" or "12.3 km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
