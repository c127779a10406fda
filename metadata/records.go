// Package metadata reads the coastal station metadata store: sites, stations, cameras, their lens
// parameters, ground control points and the geometries that tie observed pixels to them. Tables are
// cached locally as the JSON arrays the remote table API serves; the values in them are loosely
// typed, so every field is coerced on load.
package metadata

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// record is one decoded row of a table.
type record map[string]interface{}

// rowDecoder coerces the fields of a row and keeps the first failure.
type rowDecoder struct {
	rec record
	err error
}

func (d *rowDecoder) fail(key string, err error) {
	if d.err == nil {
		d.err = errors.Wrapf(err, "field %q", key)
	}
}

func (d *rowDecoder) str(key string) string {
	v, ok := d.rec[key]
	if !ok || v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		d.fail(key, err)
	}
	return s
}

func (d *rowDecoder) int(key string) int {
	v, ok := d.rec[key]
	if !ok || v == nil {
		return 0
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		d.fail(key, err)
	}
	return i
}

func (d *rowDecoder) float(key string) float64 {
	v, ok := d.rec[key]
	if !ok || v == nil {
		return 0
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		d.fail(key, err)
	}
	return f
}

// epoch reads seconds since the Unix epoch. Zero and negative values mean unset.
func (d *rowDecoder) epoch(key string) time.Time {
	v, ok := d.rec[key]
	if !ok || v == nil {
		return time.Time{}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		d.fail(key, err)
		return time.Time{}
	}
	if f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}

// floats flattens a possibly nested numeric array, e.g. [[1, 2], [3, 4]] or [1, 2, 3, 4].
func (d *rowDecoder) floats(key string) []float64 {
	v, ok := d.rec[key]
	if !ok || v == nil {
		return nil
	}
	out, err := flatten(v)
	if err != nil {
		d.fail(key, err)
	}
	return out
}

func flatten(v interface{}) ([]float64, error) {
	items, err := cast.ToSliceE(v)
	if err != nil {
		f, ferr := cast.ToFloat64E(v)
		if ferr != nil {
			return nil, err
		}
		return []float64{f}, nil
	}
	var out []float64
	for _, item := range items {
		vals, err := flatten(item)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

// Site is a monitored stretch of coast.
type Site struct {
	Seq                int
	ID                 string
	Name               string
	TimeZone           string
	TimeZoneOffset     int
	EPSG               int
	Lat, Lon, Elev     float64
	DegFromNorth       float64
	CoordinateRotation float64
}

// defaultEPSG is used for sites without a coordinate reference.
const defaultEPSG = 4826

func decodeSite(rec record) (Site, error) {
	d := &rowDecoder{rec: rec}
	s := Site{
		Seq:                d.int("seq"),
		ID:                 d.str("id"),
		Name:               d.str("name"),
		TimeZone:           d.str("TZName"),
		TimeZoneOffset:     d.int("TZoffset"),
		EPSG:               d.int("coordinateEPSG"),
		DegFromNorth:       d.float("degFromN"),
		CoordinateRotation: d.float("coordinateRotation"),
	}
	if s.EPSG == 0 {
		s.EPSG = defaultEPSG
	}
	if origin := d.floats("coordinateOrigin"); len(origin) >= 3 {
		s.Lat, s.Lon, s.Elev = origin[0], origin[1], origin[2]
	}
	return s, d.err
}

// Station is a mast holding one or more cameras at a site.
type Station struct {
	Seq       int
	ID        string
	SiteID    string
	Name      string
	ShortName string
	TimeIn    time.Time
	TimeOut   time.Time
}

func decodeStation(rec record) (Station, error) {
	d := &rowDecoder{rec: rec}
	s := Station{
		Seq:       d.int("seq"),
		ID:        d.str("id"),
		SiteID:    d.str("siteID"),
		Name:      d.str("name"),
		ShortName: d.str("shortName"),
		TimeIn:    d.epoch("timeIN"),
		TimeOut:   d.epoch("timeOUT"),
	}
	return s, d.err
}

// Camera is a camera of a station with its calibrated lens. K is stored column major, as the
// remote store keeps it: [fx 0 0 skew fy 0 cx cy 1].
type Camera struct {
	Seq                   int
	ID                    string
	StationID             string
	IntrinsicParametersID string
	Number                int
	X, Y, Z               float64
	K                     []float64
	Drad                  []float64
	Dtan                  []float64
	TimeIn                time.Time
	TimeOut               time.Time
}

func decodeCamera(rec record) (Camera, error) {
	d := &rowDecoder{rec: rec}
	c := Camera{
		Seq:                   d.int("seq"),
		ID:                    d.str("id"),
		StationID:             d.str("stationID"),
		IntrinsicParametersID: d.str("IPID"),
		Number:                d.int("cameraNumber"),
		X:                     d.float("x"),
		Y:                     d.float("y"),
		Z:                     d.float("z"),
		K:                     d.floats("K"),
		Drad:                  d.floats("Drad"),
		Dtan:                  d.floats("Dtan"),
		TimeIn:                d.epoch("timeIN"),
		TimeOut:               d.epoch("timeOUT"),
	}
	return c, d.err
}

// IntrinsicParameters is the sensor description shared by cameras of one model.
type IntrinsicParameters struct {
	Seq    int
	ID     string
	Name   string
	Width  int
	Height int
}

func decodeIntrinsicParameters(rec record) (IntrinsicParameters, error) {
	d := &rowDecoder{rec: rec}
	ip := IntrinsicParameters{
		Seq:    d.int("seq"),
		ID:     d.str("id"),
		Name:   d.str("name"),
		Width:  d.int("width"),
		Height: d.int("height"),
	}
	return ip, d.err
}

// Gcp is a surveyed ground control point.
type Gcp struct {
	Seq     int
	ID      string
	SiteID  string
	Name    string
	X, Y, Z float64
	TimeIn  time.Time
	TimeOut time.Time
}

func decodeGcp(rec record) (Gcp, error) {
	d := &rowDecoder{rec: rec}
	g := Gcp{
		Seq:     d.int("seq"),
		ID:      d.str("id"),
		SiteID:  d.str("siteID"),
		Name:    d.str("name"),
		X:       d.float("x"),
		Y:       d.float("y"),
		Z:       d.float("z"),
		TimeIn:  d.epoch("timeIN"),
		TimeOut: d.epoch("timeOUT"),
	}
	return g, d.err
}

// Geometry is one calibration of a camera, valid from Valid on.
type Geometry struct {
	ID       int
	CameraID string
	Valid    time.Time
}

func decodeGeometry(rec record) (Geometry, error) {
	d := &rowDecoder{rec: rec}
	g := Geometry{
		ID:       d.int("seq"),
		CameraID: d.str("cameraID"),
		Valid:    d.epoch("whenValid"),
	}
	return g, d.err
}

// UsedGcp is the pixel a ground control point was picked at for a geometry.
type UsedGcp struct {
	Seq        int
	U, V       float64
	GcpID      string
	GeometryID int
}

func decodeUsedGcp(rec record) (UsedGcp, error) {
	d := &rowDecoder{rec: rec}
	u := UsedGcp{
		Seq:        d.int("seq"),
		U:          d.float("U"),
		V:          d.float("V"),
		GcpID:      d.str("gcpID"),
		GeometryID: d.int("geometrySequence"),
	}
	return u, d.err
}
