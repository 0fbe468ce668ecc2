package rfsensor

import (
	"math"

	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

const earthRadiusM = 6371000.0

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

// haversineM returns the great-circle horizontal distance in meters between
// two lat/lon points.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := deg2rad(lat1)
	phi2 := deg2rad(lat2)
	dPhi := deg2rad(lat2 - lat1)
	dLambda := deg2rad(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// initialBearingDeg returns the initial great-circle bearing from point 1 to
// point 2, in true-north degrees [0, 360).
func initialBearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := deg2rad(lat1)
	phi2 := deg2rad(lat2)
	dLambda := deg2rad(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return model.NormalizeAzimuth(rad2deg(math.Atan2(y, x)))
}

// bodyFrame converts a target position (lat/lon/alt) into body-frame
// azimuth/elevation/slant range relative to ownship: haversine horizontal
// range, initial bearing minus ownship heading, elevation from the altitude
// difference over the horizontal range.
func bodyFrame(own model.OwnShip, lat, lon, altM float64) (azDeg, elDeg, rangeM float64) {
	horiz := haversineM(own.LatDeg, own.LonDeg, lat, lon)
	bearing := initialBearingDeg(own.LatDeg, own.LonDeg, lat, lon)
	azDeg = model.NormalizeAzimuth(bearing - own.HeadingDeg)

	dAlt := altM - own.AltitudeM
	elDeg = rad2deg(math.Atan2(dAlt, horiz))
	rangeM = math.Hypot(horiz, dAlt)
	return azDeg, elDeg, rangeM
}

// Sector geometry: sectors are 45 degrees wide with a fixed 22.5 degree
// offset from true north, so sector 1 centers on bearing 22.5.
const (
	sectorWidthDeg  = 45.0
	sectorOffsetDeg = 22.5
)

// sectorCenterDeg returns the true-north bearing of the center of a 1-based
// sector index.
func sectorCenterDeg(sector int) float64 {
	return model.NormalizeAzimuth(float64(sector-1)*sectorWidthDeg + sectorOffsetDeg)
}
