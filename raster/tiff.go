package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Minimal GeoTIFF support: little-endian classic TIFF, uncompressed float32
// samples, one strip per band plane, ModelPixelScale + ModelTiepoint
// georeferencing and an EPSG code in the GeoKey directory. The reader accepts
// exactly what the writer produces, which is all the pipeline needs.

const (
	tagImageWidth        = 256
	tagImageLength       = 257
	tagBitsPerSample     = 258
	tagCompression       = 259
	tagPhotometric       = 262
	tagStripOffsets      = 273
	tagSamplesPerPixel   = 277
	tagRowsPerStrip      = 278
	tagStripByteCounts   = 279
	tagPlanarConfig      = 284
	tagSampleFormat      = 339
	tagModelPixelScale   = 33550
	tagModelTiepoint     = 33922
	tagGeoKeyDirectory   = 34735

	typeShort  = 3
	typeLong   = 4
	typeDouble = 12

	geoKeyModelType      = 1024
	geoKeyRasterType     = 1025
	geoKeyGeographicType = 2048
	geoKeyProjectedCS    = 3072
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value uint32
}

// SaveRaster writes the grid as a float32 GeoTIFF. The transform must be
// axis-aligned (no rotation terms) with positive x scale and negative y
// scale, the north-up form every pipeline output has.
func SaveRaster(path string, g *Grid) error {
	t := g.Transform
	if t.B != 0 || t.D != 0 || t.A <= 0 || t.E >= 0 {
		return fmt.Errorf("save raster %s: transform is not axis-aligned north-up", path)
	}
	if g.Bands < 1 {
		return fmt.Errorf("save raster %s: no bands", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	planeSize := uint32(g.Height * g.Width * 4)
	dataStart := uint32(8)
	auxStart := dataStart + uint32(g.Bands)*planeSize

	var aux bytes.Buffer
	auxOffset := func() uint32 { return auxStart + uint32(aux.Len()) }

	entries := make([]ifdEntry, 0, 14)
	add := func(tag, typ uint16, count, value uint32) {
		entries = append(entries, ifdEntry{tag: tag, typ: typ, count: count, value: value})
	}
	addShorts := func(tag uint16, values []uint16) {
		switch len(values) {
		case 1:
			add(tag, typeShort, 1, uint32(values[0]))
		case 2:
			add(tag, typeShort, 2, uint32(values[0])|uint32(values[1])<<16)
		default:
			add(tag, typeShort, uint32(len(values)), auxOffset())
			binary.Write(&aux, binary.LittleEndian, values)
		}
	}
	addLongs := func(tag uint16, values []uint32) {
		if len(values) == 1 {
			add(tag, typeLong, 1, values[0])
			return
		}
		add(tag, typeLong, uint32(len(values)), auxOffset())
		binary.Write(&aux, binary.LittleEndian, values)
	}
	addDoubles := func(tag uint16, values []float64) {
		add(tag, typeDouble, uint32(len(values)), auxOffset())
		binary.Write(&aux, binary.LittleEndian, values)
	}

	bands := g.Bands
	repeat16 := func(v uint16) []uint16 {
		out := make([]uint16, bands)
		for i := range out {
			out[i] = v
		}
		return out
	}
	stripOffsets := make([]uint32, bands)
	stripCounts := make([]uint32, bands)
	for i := 0; i < bands; i++ {
		stripOffsets[i] = dataStart + uint32(i)*planeSize
		stripCounts[i] = planeSize
	}
	planarConfig := uint16(1)
	if bands > 1 {
		planarConfig = 2
	}

	add(tagImageWidth, typeLong, 1, uint32(g.Width))
	add(tagImageLength, typeLong, 1, uint32(g.Height))
	addShorts(tagBitsPerSample, repeat16(32))
	add(tagCompression, typeShort, 1, 1)
	add(tagPhotometric, typeShort, 1, 1)
	addLongs(tagStripOffsets, stripOffsets)
	add(tagSamplesPerPixel, typeShort, 1, uint32(bands))
	add(tagRowsPerStrip, typeLong, 1, uint32(g.Height))
	addLongs(tagStripByteCounts, stripCounts)
	add(tagPlanarConfig, typeShort, 1, uint32(planarConfig))
	addShorts(tagSampleFormat, repeat16(3))
	addDoubles(tagModelPixelScale, []float64{t.A, -t.E, 0})
	addDoubles(tagModelTiepoint, []float64{0, 0, 0, t.C, t.F, 0})
	addShorts(tagGeoKeyDirectory, geoKeys(g.CRS))

	ifdOffset := auxStart + uint32(aux.Len())

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, ifdOffset)
	binary.Write(&buf, binary.LittleEndian, g.Data)
	buf.Write(aux.Bytes())

	binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, e.typ)
		binary.Write(&buf, binary.LittleEndian, e.count)
		binary.Write(&buf, binary.LittleEndian, e.value)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func geoKeys(crs CRS) []uint16 {
	code := uint16(crs.EPSGCode())
	modelType := uint16(1)
	locationKey := uint16(geoKeyProjectedCS)
	if crs.IsGeographic() {
		modelType = 2
		locationKey = geoKeyGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		geoKeyModelType, 0, 1, modelType,
		geoKeyRasterType, 0, 1, 1,
		locationKey, 0, 1, code,
	}
}

// LoadRaster reads a GeoTIFF written by SaveRaster.
func LoadRaster(path string) (*Grid, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8 || raw[0] != 'I' || raw[1] != 'I' ||
		binary.LittleEndian.Uint16(raw[2:]) != 42 {
		return nil, fmt.Errorf("load raster %s: not a little-endian TIFF", path)
	}

	ifdOffset := binary.LittleEndian.Uint32(raw[4:])
	entries, err := parseIFD(raw, ifdOffset)
	if err != nil {
		return nil, fmt.Errorf("load raster %s: %w", path, err)
	}

	width, err := entries.scalar(tagImageWidth)
	if err != nil {
		return nil, fmt.Errorf("load raster %s: %w", path, err)
	}
	height, err := entries.scalar(tagImageLength)
	if err != nil {
		return nil, fmt.Errorf("load raster %s: %w", path, err)
	}
	bands := uint32(1)
	if v, err := entries.scalar(tagSamplesPerPixel); err == nil {
		bands = v
	}
	if v, err := entries.scalar(tagCompression); err == nil && v != 1 {
		return nil, fmt.Errorf("load raster %s: compression %d not supported", path, v)
	}

	offsets, err := entries.longs(raw, tagStripOffsets)
	if err != nil {
		return nil, fmt.Errorf("load raster %s: %w", path, err)
	}
	counts, err := entries.longs(raw, tagStripByteCounts)
	if err != nil {
		return nil, fmt.Errorf("load raster %s: %w", path, err)
	}
	if len(offsets) != int(bands) || len(counts) != int(bands) {
		return nil, fmt.Errorf("load raster %s: want one strip per band, got %d strips for %d bands",
			path, len(offsets), bands)
	}

	scale, err := entries.doubles(raw, tagModelPixelScale)
	if err != nil {
		return nil, fmt.Errorf("load raster %s: %w", path, err)
	}
	tiepoint, err := entries.doubles(raw, tagModelTiepoint)
	if err != nil {
		return nil, fmt.Errorf("load raster %s: %w", path, err)
	}
	if len(scale) < 2 || len(tiepoint) < 5 {
		return nil, fmt.Errorf("load raster %s: incomplete georeferencing", path)
	}

	crs := WGS84
	if keys, err := entries.shorts(raw, tagGeoKeyDirectory); err == nil {
		for i := 4; i+3 < len(keys); i += 4 {
			if keys[i] == geoKeyGeographicType || keys[i] == geoKeyProjectedCS {
				crs = CRS(fmt.Sprintf("EPSG:%d", keys[i+3]))
			}
		}
	}

	g := NewGrid(int(bands), int(height), int(width), Transform{
		A: scale[0], E: -scale[1],
		C: tiepoint[3], F: tiepoint[4],
	}, crs)

	planeSize := int(height * width * 4)
	for i := 0; i < int(bands); i++ {
		start := int(offsets[i])
		if int(counts[i]) != planeSize || start+planeSize > len(raw) {
			return nil, fmt.Errorf("load raster %s: strip %d out of range", path, i)
		}
		plane := g.Band(i)
		for p := 0; p < len(plane); p++ {
			plane[p] = math.Float32frombits(binary.LittleEndian.Uint32(raw[start+p*4:]))
		}
	}
	return g, nil
}

type ifdEntries map[uint16]ifdEntry

func parseIFD(raw []byte, offset uint32) (ifdEntries, error) {
	if int(offset)+2 > len(raw) {
		return nil, fmt.Errorf("IFD offset out of range")
	}
	count := int(binary.LittleEndian.Uint16(raw[offset:]))
	if int(offset)+2+count*12 > len(raw) {
		return nil, fmt.Errorf("IFD truncated")
	}
	entries := make(ifdEntries, count)
	for i := 0; i < count; i++ {
		base := int(offset) + 2 + i*12
		e := ifdEntry{
			tag:   binary.LittleEndian.Uint16(raw[base:]),
			typ:   binary.LittleEndian.Uint16(raw[base+2:]),
			count: binary.LittleEndian.Uint32(raw[base+4:]),
			value: binary.LittleEndian.Uint32(raw[base+8:]),
		}
		entries[e.tag] = e
	}
	return entries, nil
}

func (e ifdEntries) scalar(tag uint16) (uint32, error) {
	entry, ok := e[tag]
	if !ok {
		return 0, fmt.Errorf("missing tag %d", tag)
	}
	if entry.typ == typeShort {
		return entry.value & 0xFFFF, nil
	}
	return entry.value, nil
}

func (e ifdEntries) longs(raw []byte, tag uint16) ([]uint32, error) {
	entry, ok := e[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	n := int(entry.count)
	if n == 1 {
		return []uint32{entry.value}, nil
	}
	start := int(entry.value)
	if start+n*4 > len(raw) {
		return nil, fmt.Errorf("tag %d values out of range", tag)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[start+i*4:])
	}
	return out, nil
}

func (e ifdEntries) shorts(raw []byte, tag uint16) ([]uint16, error) {
	entry, ok := e[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	n := int(entry.count)
	if n <= 2 {
		out := []uint16{uint16(entry.value & 0xFFFF)}
		if n == 2 {
			out = append(out, uint16(entry.value>>16))
		}
		return out, nil
	}
	start := int(entry.value)
	if start+n*2 > len(raw) {
		return nil, fmt.Errorf("tag %d values out of range", tag)
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[start+i*2:])
	}
	return out, nil
}

func (e ifdEntries) doubles(raw []byte, tag uint16) ([]float64, error) {
	entry, ok := e[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	n := int(entry.count)
	start := int(entry.value)
	if start+n*8 > len(raw) {
		return nil, fmt.Errorf("tag %d values out of range", tag)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[start+i*8:]))
	}
	return out, nil
}
