package raster

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CRS is an EPSG-style coordinate reference system identifier. Supported:
// EPSG:4326 (geographic WGS-84) and the UTM zones EPSG:326xx / EPSG:327xx
// that Sentinel-2 and Landsat scenes are delivered in.
type CRS string

const WGS84 CRS = "EPSG:4326"

func (c CRS) IsGeographic() bool { return c == WGS84 }

// EPSGCode returns the numeric EPSG code, or 0 when the string is not an
// EPSG identifier.
func (c CRS) EPSGCode() int {
	s := strings.TrimPrefix(string(c), "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return code
}

// utmZone returns (zone, southern) for UTM CRS codes.
func (c CRS) utmZone() (int, bool, error) {
	code := c.EPSGCode()
	switch {
	case code >= 32601 && code <= 32660:
		return code - 32600, false, nil
	case code >= 32701 && code <= 32760:
		return code - 32700, true, nil
	}
	return 0, false, fmt.Errorf("unsupported CRS %q", c)
}

// WGS-84 ellipsoid and UTM constants.
const (
	semiMajor  = 6378137.0
	flattening = 1.0 / 298.257223563
	utmScale   = 0.9996
	utmFalseE  = 500000.0
	utmFalseN  = 10000000.0
)

// ToWGS84 converts a projected (x, y) in the given CRS to (lon, lat).
func ToWGS84(crs CRS, x, y float64) (float64, float64, error) {
	if crs.IsGeographic() {
		return x, y, nil
	}
	zone, south, err := crs.utmZone()
	if err != nil {
		return 0, 0, err
	}
	lon, lat := utmInverse(zone, south, x, y)
	return lon, lat, nil
}

// FromWGS84 converts (lon, lat) to projected (x, y) in the given CRS.
func FromWGS84(crs CRS, lon, lat float64) (float64, float64, error) {
	if crs.IsGeographic() {
		return lon, lat, nil
	}
	zone, south, err := crs.utmZone()
	if err != nil {
		return 0, 0, err
	}
	x, y := utmForward(zone, south, lon, lat)
	return x, y, nil
}

// TransformPoint converts a coordinate between two supported systems.
func TransformPoint(src, dst CRS, x, y float64) (float64, float64, error) {
	if src == dst {
		return x, y, nil
	}
	lon, lat, err := ToWGS84(src, x, y)
	if err != nil {
		return 0, 0, err
	}
	return FromWGS84(dst, lon, lat)
}

// TransformBounds converts a bounding box between systems by transforming
// its corners and taking the envelope.
func TransformBounds(src, dst CRS, minX, minY, maxX, maxY float64) (float64, float64, float64, float64, error) {
	if src == dst {
		return minX, minY, maxX, maxY, nil
	}
	corners := [4][2]float64{{minX, minY}, {minX, maxY}, {maxX, minY}, {maxX, maxY}}
	oMinX, oMinY := math.Inf(1), math.Inf(1)
	oMaxX, oMaxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x, y, err := TransformPoint(src, dst, c[0], c[1])
		if err != nil {
			return 0, 0, 0, 0, err
		}
		oMinX = math.Min(oMinX, x)
		oMinY = math.Min(oMinY, y)
		oMaxX = math.Max(oMaxX, x)
		oMaxY = math.Max(oMaxY, y)
	}
	return oMinX, oMinY, oMaxX, oMaxY, nil
}

// utmForward implements the standard transverse Mercator series (Snyder,
// Map Projections: A Working Manual, eq. 8-9..8-15).
func utmForward(zone int, south bool, lon, lat float64) (float64, float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180
	lam0 := centralMeridian(zone)

	e2 := flattening * (2 - flattening)
	ep2 := e2 / (1 - e2)

	sinPhi, cosPhi := math.Sin(phi), math.Cos(phi)
	n := semiMajor / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := math.Pow(math.Tan(phi), 2)
	c := ep2 * cosPhi * cosPhi
	a := cosPhi * (lam - lam0)

	m := meridianArc(phi, e2)

	x := utmScale*n*(a+(1-t+c)*math.Pow(a, 3)/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + utmFalseE
	y := utmScale * (m + n*math.Tan(phi)*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	if south {
		y += utmFalseN
	}
	return x, y
}

// utmInverse is the matching inverse projection via the footpoint latitude.
func utmInverse(zone int, south bool, x, y float64) (float64, float64) {
	e2 := flattening * (2 - flattening)
	ep2 := e2 / (1 - e2)
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	xAdj := x - utmFalseE
	yAdj := y
	if south {
		yAdj -= utmFalseN
	}

	m := yAdj / utmScale
	mu := m / (semiMajor * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1 := math.Sin(phi1), math.Cos(phi1)
	c1 := ep2 * cosPhi1 * cosPhi1
	t1 := math.Pow(math.Tan(phi1), 2)
	n1 := semiMajor / math.Sqrt(1-e2*sinPhi1*sinPhi1)
	r1 := semiMajor * (1 - e2) / math.Pow(1-e2*sinPhi1*sinPhi1, 1.5)
	d := xAdj / (n1 * utmScale)

	phi := phi1 - (n1*math.Tan(phi1)/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lam := centralMeridian(zone) + (d-
		(1+2*t1+c1)*math.Pow(d, 3)/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120)/cosPhi1

	return lam * 180 / math.Pi, phi * 180 / math.Pi
}

func centralMeridian(zone int) float64 {
	return float64(zone*6-183) * math.Pi / 180
}

func meridianArc(phi, e2 float64) float64 {
	e4 := e2 * e2
	e6 := e4 * e2
	return semiMajor * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}
