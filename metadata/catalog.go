package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/coastalimages/argus/logging"
	"github.com/coastalimages/argus/rimage/transform"
)

// Names of the cached tables, as the remote table API calls them.
const (
	TableSite                = "site"
	TableStation             = "station"
	TableCamera              = "camera"
	TableIntrinsicParameters = "IP"
	TableGcp                 = "gcp"
	TableGeometry            = "geometry"
	TableUsedGcp             = "usedGCP"
)

// Tables lists every table a Catalog loads.
var Tables = []string{
	TableSite, TableStation, TableCamera, TableIntrinsicParameters, TableGcp, TableGeometry, TableUsedGcp,
}

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("metadata record not found")

// Catalog is an in-memory, read-only view of the metadata tables.
type Catalog struct {
	Sites               []Site
	Stations            []Station
	Cameras             []Camera
	IntrinsicParameters []IntrinsicParameters
	Gcps                []Gcp
	GeometryRecords     []Geometry
	UsedGcps            []UsedGcp
}

// findTable locates <name>.json in dir, ignoring case.
func findTable(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrap(err, "cannot list table directory")
	}
	want := strings.ToLower(name) + ".json"
	for _, e := range entries {
		if !e.IsDir() && strings.ToLower(e.Name()) == want {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", errors.Errorf("table %q not found in %s", name, dir)
}

func readTable(path string) ([]record, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read table %s", path)
	}
	var rows []record
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrapf(err, "cannot parse table %s", path)
	}
	return rows, nil
}

func decodeRows[T any](name string, rows []record, decode func(record) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		v, err := decode(row)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s row %d", name, i)
		}
		out = append(out, v)
	}
	return out, nil
}

// LoadCatalog reads every table of Tables from dir. All missing or malformed tables are reported
// together.
func LoadCatalog(dir string, logger logging.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.NewBlankLogger("metadata")
	}
	tables := map[string][]record{}
	var errs error
	for _, name := range Tables {
		path, err := findTable(dir, name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		rows, err := readTable(path)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		tables[name] = rows
		logger.Debugw("loaded table", "table", name, "rows", len(rows))
	}
	if errs != nil {
		return nil, errs
	}

	c := &Catalog{}
	var err error
	if c.Sites, err = decodeRows(TableSite, tables[TableSite], decodeSite); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Stations, err = decodeRows(TableStation, tables[TableStation], decodeStation); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Cameras, err = decodeRows(TableCamera, tables[TableCamera], decodeCamera); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.IntrinsicParameters, err = decodeRows(
		TableIntrinsicParameters, tables[TableIntrinsicParameters], decodeIntrinsicParameters); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Gcps, err = decodeRows(TableGcp, tables[TableGcp], decodeGcp); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.GeometryRecords, err = decodeRows(TableGeometry, tables[TableGeometry], decodeGeometry); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.UsedGcps, err = decodeRows(TableUsedGcp, tables[TableUsedGcp], decodeUsedGcp); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return nil, errs
	}
	if n := renumberDuplicates(c.UsedGcps); n > 0 {
		logger.Warnw("renumbered duplicate used gcp rows", "count", n)
	}
	return c, nil
}

// renumberDuplicates gives every repeated UsedGcp Seq after the first a fresh number above the
// current maximum, returning how many rows changed.
func renumberDuplicates(used []UsedGcp) int {
	maxSeq := lo.MaxBy(used, func(a, b UsedGcp) bool { return a.Seq > b.Seq }).Seq
	seen := map[int]bool{}
	changed := 0
	for i := range used {
		if seen[used[i].Seq] {
			maxSeq++
			used[i].Seq = maxSeq
			changed++
		}
		seen[used[i].Seq] = true
	}
	return changed
}

// Site returns the site with the given id.
func (c *Catalog) Site(id string) (Site, error) {
	s, ok := lo.Find(c.Sites, func(s Site) bool { return s.ID == id })
	if !ok {
		return Site{}, errors.Wrapf(ErrNotFound, "site %q", id)
	}
	return s, nil
}

// SiteByName returns the site with the given name, ignoring case.
func (c *Catalog) SiteByName(name string) (Site, error) {
	s, ok := lo.Find(c.Sites, func(s Site) bool { return strings.EqualFold(s.Name, name) })
	if !ok {
		return Site{}, errors.Wrapf(ErrNotFound, "site named %q", name)
	}
	return s, nil
}

// StationsAt returns the stations of a site.
func (c *Catalog) StationsAt(siteID string) []Station {
	return lo.Filter(c.Stations, func(s Station, _ int) bool { return s.SiteID == siteID })
}

// CamerasAt returns the cameras of a station.
func (c *Catalog) CamerasAt(stationID string) []Camera {
	return lo.Filter(c.Cameras, func(cam Camera, _ int) bool { return cam.StationID == stationID })
}

// CamerasAtSite returns the cameras of every station of a site.
func (c *Catalog) CamerasAtSite(siteID string) []Camera {
	stations := lo.SliceToMap(c.StationsAt(siteID), func(s Station) (string, struct{}) { return s.ID, struct{}{} })
	return lo.Filter(c.Cameras, func(cam Camera, _ int) bool {
		_, ok := stations[cam.StationID]
		return ok
	})
}

// Camera returns the camera with the given id.
func (c *Catalog) Camera(id string) (Camera, error) {
	cam, ok := lo.Find(c.Cameras, func(cam Camera) bool { return cam.ID == id })
	if !ok {
		return Camera{}, errors.Wrapf(ErrNotFound, "camera %q", id)
	}
	return cam, nil
}

// IntrinsicParametersOf returns the sensor description a camera references.
func (c *Catalog) IntrinsicParametersOf(cam Camera) (IntrinsicParameters, error) {
	ip, ok := lo.Find(c.IntrinsicParameters, func(ip IntrinsicParameters) bool {
		return ip.ID == cam.IntrinsicParametersID
	})
	if !ok {
		return IntrinsicParameters{}, errors.Wrapf(ErrNotFound,
			"intrinsic parameters %q of camera %q", cam.IntrinsicParametersID, cam.ID)
	}
	return ip, nil
}

// CameraModel builds the lens model of a camera.
func (c *Catalog) CameraModel(cameraID string) (*transform.PinholeCameraModel, error) {
	cam, err := c.Camera(cameraID)
	if err != nil {
		return nil, err
	}
	ip, err := c.IntrinsicParametersOf(cam)
	if err != nil {
		return nil, err
	}
	return cam.Model(ip)
}

// GcpsAt returns the control points surveyed at a site.
func (c *Catalog) GcpsAt(siteID string) []Gcp {
	return lo.Filter(c.Gcps, func(g Gcp, _ int) bool { return g.SiteID == siteID })
}

// GcpCount is the number of control points picked for a geometry.
func (c *Catalog) GcpCount(geometryID int) int {
	return lo.CountBy(c.UsedGcps, func(u UsedGcp) bool { return u.GeometryID == geometryID })
}

// Geometries returns the geometries of a camera with at least minGcps control points, oldest first.
func (c *Catalog) Geometries(cameraID string, minGcps int) []Geometry {
	counts := lo.CountValuesBy(c.UsedGcps, func(u UsedGcp) int { return u.GeometryID })
	geoms := lo.Filter(c.GeometryRecords, func(g Geometry, _ int) bool {
		return g.CameraID == cameraID && counts[g.ID] >= minGcps
	})
	sort.SliceStable(geoms, func(i, j int) bool { return geoms[i].Valid.Before(geoms[j].Valid) })
	return geoms
}

// ClosestGeometry returns the geometry of a camera, with at least minGcps control points, whose
// validity time is nearest to t.
func (c *Catalog) ClosestGeometry(cameraID string, t time.Time, minGcps int) (Geometry, error) {
	geoms := c.Geometries(cameraID, minGcps)
	if len(geoms) == 0 {
		return Geometry{}, errors.Wrapf(ErrNotFound, "geometry of camera %q with %d control points", cameraID, minGcps)
	}
	distance := func(g Geometry) time.Duration {
		d := g.Valid.Sub(t)
		if d < 0 {
			return -d
		}
		return d
	}
	return lo.MinBy(geoms, func(a, b Geometry) bool { return distance(a) < distance(b) }), nil
}

// ControlPoints joins the pixels picked for a geometry with the surveyed positions of their control
// points, in UsedGcp order.
func (c *Catalog) ControlPoints(geometryID int) ([]transform.ControlPoint, error) {
	gcps := lo.KeyBy(c.Gcps, func(g Gcp) string { return g.ID })
	used := lo.Filter(c.UsedGcps, func(u UsedGcp, _ int) bool { return u.GeometryID == geometryID })
	if len(used) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "control points of geometry %d", geometryID)
	}
	out := make([]transform.ControlPoint, 0, len(used))
	var errs error
	for _, u := range used {
		g, ok := gcps[u.GcpID]
		if !ok {
			errs = multierr.Append(errs, errors.Wrapf(ErrNotFound, "gcp %q used by geometry %d", u.GcpID, geometryID))
			continue
		}
		out = append(out, transform.ControlPoint{
			Object: r3.Vector{X: g.X, Y: g.Y, Z: g.Z},
			Image:  r2.Point{X: u.U, Y: u.V},
		})
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}
