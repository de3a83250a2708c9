package platform

import (
	"fmt"
	"regexp"
	"strings"
)

// Missions the pipeline backs up and processes. Other missions found in the
// provider catalogs are cataloged but left where they are.
const (
	MissionLandsat8 = "LANDSAT_8"
	MissionSentinel = "SENTINEL-2"
)

// bandBlob matches the per-band image blobs (and metadata sidecars) inside a
// scene's storage prefix, for both Sentinel-2 tile layouts and Landsat
// collection layouts. Capture group 1 is the band token.
var bandBlob = regexp.MustCompile(`^.*?(?:tiles.*?IMG_DATA.*?|/LC0[0-9]_.*?)_(B[0-9A]{1,2}|MTL)\.(TIF|jp2|txt)$`)

// MatchBandBlob reports whether a blob path is a band or metadata file worth
// backing up and, if so, which band token it carries.
func MatchBandBlob(path string) (band string, ok bool) {
	m := bandBlob.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Processable reports whether captures from the mission go through backup and
// feature extraction.
func Processable(missionID string) bool {
	return missionID == MissionLandsat8 || missionID == MissionSentinel
}

// BuildSceneQuery renders the discovery statement for a platform. The mapping
// supplies the provider-side column names; the query selects scenes whose
// footprint contains the given point inside the sensing window. Parameters
// are positional: from, to, lat, lat, lon, lon.
func BuildSceneQuery(p Platform) string {
	m := p.Mapping
	cols := []string{
		m.MainID, m.SecondaryID, m.MissionID, m.SensingTime, m.CloudCover,
		m.NorthLat, m.SouthLat, m.WestLon, m.EastLon, m.BaseURL,
	}
	for _, opt := range []string{m.MGRSTile, m.Radiometric, m.AtmosphericLevel, m.WRSPath, m.WRSRow, m.DataType} {
		if opt != "" {
			cols = append(cols, opt)
		}
	}
	return fmt.Sprintf(
		"SELECT %s FROM `%s` WHERE %s BETWEEN ? AND ? AND %s <= ? AND %s >= ? AND %s <= ? AND %s >= ?",
		strings.Join(cols, ", "), m.CatalogPath,
		m.SensingTime,
		m.SouthLat, m.NorthLat, m.WestLon, m.EastLon,
	)
}
