package geo

import (
	"math"
	"testing"
)

func TestNewBounds_Valid(t *testing.T) {
	b, err := NewBounds(-98.9, 18.96, -98.4, 19.28)
	if err != nil {
		t.Fatalf("NewBounds failed: %v", err)
	}
	lon, lat := b.Center()
	if math.Abs(lon-(-98.65)) > 1e-9 || math.Abs(lat-19.12) > 1e-9 {
		t.Errorf("Expected center (-98.65, 19.12), got (%v, %v)", lon, lat)
	}
}

func TestBounds_Validate(t *testing.T) {
	cases := []struct {
		name string
		b    Bounds
		ok   bool
	}{
		{"valid", Bounds{MinLon: -1, MinLat: -1, MaxLon: 1, MaxLat: 1}, true},
		{"inverted lon", Bounds{MinLon: 1, MinLat: -1, MaxLon: -1, MaxLat: 1}, false},
		{"inverted lat", Bounds{MinLon: -1, MinLat: 1, MaxLon: 1, MaxLat: -1}, false},
		{"degenerate", Bounds{MinLon: 0, MinLat: 0, MaxLon: 0, MaxLat: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.b.Validate()
			if tc.ok && err != nil {
				t.Errorf("Expected valid bounds, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestBounds_Contains(t *testing.T) {
	b := Bounds{MinLon: -98.9, MinLat: 18.96, MaxLon: -98.4, MaxLat: 19.28}
	if !b.Contains(19.1, -98.6) {
		t.Error("Expected interior point to be contained")
	}
	if b.Contains(20.0, -98.6) {
		t.Error("Expected point north of the box to be outside")
	}
	if b.Contains(19.1, -97.0) {
		t.Error("Expected point east of the box to be outside")
	}
}

func TestBounds_Intersects(t *testing.T) {
	a := Bounds{MinLon: 0, MinLat: 0, MaxLon: 10, MaxLat: 10}
	b := Bounds{MinLon: 5, MinLat: 5, MaxLon: 15, MaxLat: 15}
	c := Bounds{MinLon: 20, MinLat: 20, MaxLon: 30, MaxLat: 30}

	if !a.Intersects(b) || !b.Intersects(a) {
		t.Error("Expected overlapping boxes to intersect")
	}
	if a.Intersects(c) {
		t.Error("Expected disjoint boxes not to intersect")
	}
}

func TestFromFootprint(t *testing.T) {
	b := FromFootprint(19.28, 18.96, -98.9, -98.4)
	if b.MinLat != 18.96 || b.MaxLat != 19.28 || b.MinLon != -98.9 || b.MaxLon != -98.4 {
		t.Errorf("Unexpected footprint bounds: %+v", b)
	}
}
