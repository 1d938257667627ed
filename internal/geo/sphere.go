package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for all distance math.
const EarthRadiusKm = 6371.0088

const kmPerDegLat = math.Pi * EarthRadiusKm / 180

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(r float64) float64   { return r * 180 / math.Pi }

// HaversineKm returns the great-circle distance between two lon/lat points.
func HaversineKm(lon1, lat1, lon2, lat2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Destination returns the point reached by travelling distKm from (lon, lat)
// on the given initial bearing (degrees clockwise from north).
func Destination(lon, lat, bearingDeg, distKm float64) (float64, float64) {
	d := distKm / EarthRadiusKm
	b := rad(bearingDeg)
	phi1, lambda1 := rad(lat), rad(lon)

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(d) + math.Cos(phi1)*math.Sin(d)*math.Cos(b))
	lambda2 := lambda1 + math.Atan2(math.Sin(b)*math.Sin(d)*math.Cos(phi1), math.Cos(d)-math.Sin(phi1)*math.Sin(phi2))

	outLon := math.Mod(deg(lambda2)+540, 360) - 180
	return outLon, deg(phi2)
}

// lonDegreesForKm is the longitude span of km at latitude lat, capped at 180.
func lonDegreesForKm(km, lat float64) float64 {
	c := math.Cos(rad(lat))
	if c < 1e-6 {
		return 180
	}
	return math.Min(180, km/(kmPerDegLat*c))
}
