package config

import (
	"time"

	"github.com/coastalimages/argus/logging"
	"github.com/coastalimages/argus/metadata"
	"github.com/coastalimages/argus/rimage/transform"
)

// Resolve returns the camera model and control points of the job. Metadata jobs load the table
// cache and pick the geometry valid closest to the configured time, or to now.
func (c *CalibrationConfig) Resolve(
	now time.Time,
	logger logging.Logger,
) (*transform.PinholeCameraModel, []transform.ControlPoint, error) {
	if logger == nil {
		logger = logging.NewBlankLogger("config")
	}
	if c.Metadata == nil {
		model, err := c.Camera.Model()
		if err != nil {
			return nil, nil, err
		}
		return model, c.ControlPoints, nil
	}

	catalog, err := metadata.LoadCatalog(c.Metadata.TablesDir, logger)
	if err != nil {
		return nil, nil, err
	}
	at, err := c.Metadata.At(now)
	if err != nil {
		return nil, nil, err
	}
	geom, err := catalog.ClosestGeometry(c.Metadata.CameraID, at, c.Metadata.MinControlPoints())
	if err != nil {
		return nil, nil, err
	}
	cps, err := catalog.ControlPoints(geom.ID)
	if err != nil {
		return nil, nil, err
	}
	var model *transform.PinholeCameraModel
	if c.Camera != nil {
		model, err = c.Camera.Model()
	} else {
		model, err = catalog.CameraModel(c.Metadata.CameraID)
	}
	if err != nil {
		return nil, nil, err
	}
	logger.Infow("using geometry", "camera", c.Metadata.CameraID, "geometry", geom.ID,
		"valid", geom.Valid, "control_points", len(cps))
	return model, cps, nil
}

// LensModel returns the camera model of the job without selecting a geometry.
func (c *CalibrationConfig) LensModel(logger logging.Logger) (*transform.PinholeCameraModel, error) {
	if c.Camera != nil {
		return c.Camera.Model()
	}
	catalog, err := metadata.LoadCatalog(c.Metadata.TablesDir, logger)
	if err != nil {
		return nil, err
	}
	return catalog.CameraModel(c.Metadata.CameraID)
}
