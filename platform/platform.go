// Package platform describes the imagery providers the pipeline can discover
// scenes from. Each platform is a typed field mapping into the provider's
// external catalog, loaded from JSON and validated against a schema at load
// time so an invalid mapping fails startup instead of a query.
package platform

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var mappingSchema string

// FieldMapping names the provider-side columns for every role the discovery
// query needs.
type FieldMapping struct {
	MainID           string `json:"main_id"`
	SecondaryID      string `json:"secondary_id"`
	MissionID        string `json:"mission_id"`
	SensingTime      string `json:"sensing_time"`
	CloudCover       string `json:"cloud_cover"`
	NorthLat         string `json:"north_lat"`
	SouthLat         string `json:"south_lat"`
	WestLon          string `json:"west_lon"`
	EastLon          string `json:"east_lon"`
	BaseURL          string `json:"base_url"`
	MGRSTile         string `json:"mgrs_tile"`
	Radiometric      string `json:"radiometric_measure"`
	AtmosphericLevel string `json:"atmospheric_reference_level"`
	WRSPath          string `json:"wrs_path"`
	WRSRow           string `json:"wrs_row"`
	DataType         string `json:"data_type"`
	CatalogPath      string `json:"catalog_path"`
}

type Platform struct {
	Name    string
	Mapping FieldMapping
}

// Load reads and validates platform mappings from a JSON file keyed by
// platform name.
func Load(path string) (map[string]Platform, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platforms: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (map[string]Platform, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("platforms-schema.json", bytes.NewReader([]byte(mappingSchema))); err != nil {
		return nil, fmt.Errorf("compile platform schema: %w", err)
	}
	schema, err := compiler.Compile("platforms-schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile platform schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse platforms: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate platforms: %w", err)
	}

	var mappings map[string]FieldMapping
	if err := json.Unmarshal(raw, &mappings); err != nil {
		return nil, fmt.Errorf("parse platforms: %w", err)
	}

	platforms := make(map[string]Platform, len(mappings))
	for name, m := range mappings {
		platforms[name] = Platform{Name: name, Mapping: m}
	}
	return platforms, nil
}

// SceneQuery bounds a discovery query: the sensing window and the point the
// scene footprint must contain.
type SceneQuery struct {
	From time.Time
	To   time.Time
	Lat  float64
	Lon  float64
}

// SceneRecord is one row from a provider catalog, already mapped onto the
// roles of FieldMapping.
type SceneRecord struct {
	MainID           string
	SecondaryID      string
	MissionID        string
	SensingTime      time.Time
	CloudCover       float64
	NorthLat         float64
	SouthLat         float64
	WestLon          float64
	EastLon          float64
	BaseURL          string
	MGRSTile         string
	Radiometric      string
	AtmosphericLevel string
	WRSPath          string
	WRSRow           string
	DataType         string
}

// ImageryCatalog is the external provider catalog the discovery unit reads
// from. Implementations execute BuildSceneQuery-style statements against the
// provider's query service.
type ImageryCatalog interface {
	QueryScenes(ctx context.Context, p Platform, q SceneQuery) ([]SceneRecord, error)
}
