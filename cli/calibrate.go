package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/coastalimages/argus/config"
	"github.com/coastalimages/argus/rimage"
	"github.com/coastalimages/argus/rimage/transform"
	"github.com/coastalimages/argus/utils"
)

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	printf(w, "%s", out)
	return nil
}

func readPoints[T any](path string) ([]T, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read points")
	}
	var pts []T
	if err := json.Unmarshal(data, &pts); err != nil {
		return nil, errors.Wrapf(err, "cannot parse points in %s", path)
	}
	return pts, nil
}

// loadJob reads the job file. Its log level applies unless debug logging was asked for.
func (r *runner) loadJob(c *cli.Context) (*config.CalibrationConfig, error) {
	cfg, err := config.Read(c.Path(flagConfig))
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" && !c.Bool(flagDebug) {
		level, err := cfg.Level()
		if err != nil {
			return nil, err
		}
		r.logger.SetLevel(level)
	}
	return cfg, nil
}

func (r *runner) rectified(c *cli.Context) (*transform.Camera, []transform.ControlPoint, error) {
	cfg, err := r.loadJob(c)
	if err != nil {
		return nil, nil, err
	}
	model, cps, err := cfg.Resolve(time.Now(), r.logger.Sublogger("metadata"))
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.PnPOptions()
	if err != nil {
		return nil, nil, err
	}
	cam, err := transform.NewCamera(model,
		transform.WithLogger(r.logger.Sublogger("camera")),
		transform.WithPnPOptions(opts))
	if err != nil {
		return nil, nil, err
	}
	if err := cam.RectifyControlPoints(cps, cfg.AlreadyUndistorted); err != nil {
		return nil, nil, errors.Wrap(err, "cannot rectify camera")
	}
	if !cfg.AlreadyUndistorted {
		cps = cam.UndistortControlPoints(cps)
	}
	return cam, cps, nil
}

type poseReport struct {
	Rotation        [3][3]float64                  `json:"rotation"`
	Translation     r3.Vector                      `json:"translation"`
	Position        r3.Vector                      `json:"position"`
	ProjectionError float64                        `json:"projection_error"`
	FieldOfViewDeg  float64                        `json:"field_of_view_deg"`
	Reprojection    *transform.ReprojectionSummary `json:"reprojection,omitempty"`
}

func (r *runner) rectifyAction(c *cli.Context) error {
	cam, cps, err := r.rectified(c)
	if err != nil {
		return err
	}
	pose, err := cam.Pose()
	if err != nil {
		return err
	}
	report := poseReport{
		Translation:     pose.Translation,
		Position:        pose.Position(),
		ProjectionError: pose.ProjectionError,
		FieldOfViewDeg:  utils.RadToDeg(cam.Model().FieldOfView()),
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			report.Rotation[i][j] = pose.Rotation.At(i, j)
		}
	}
	object, image := transform.SplitControlPoints(cps)
	summary, err := cam.SummarizeReprojection(object, image)
	if err != nil {
		r.logger.Warnw("no reprojection summary", "error", err)
	} else {
		report.Reprojection = &summary
	}
	return printJSON(c.App.Writer, report)
}

func (r *runner) projectAction(c *cli.Context) error {
	object, err := readPoints[r3.Vector](c.Path(flagPoints))
	if err != nil {
		return err
	}
	cam, _, err := r.rectified(c)
	if err != nil {
		return err
	}
	pixels, err := cam.WorldToImage(object)
	if err != nil {
		return err
	}
	for i, p := range pixels {
		printf(c.App.Writer, "%d\t%.3f\t%.3f\t%t", i, p.Point.X, p.Point.Y, p.Valid)
	}
	return nil
}

func (r *runner) locateAction(c *cli.Context) error {
	pixels, err := readPoints[r2.Point](c.Path(flagPoints))
	if err != nil {
		return err
	}
	cam, _, err := r.rectified(c)
	if err != nil {
		return err
	}
	world, err := cam.ImageToWorld(pixels, c.Float64(flagElevation))
	if err != nil {
		return err
	}
	for i, p := range world {
		printf(c.App.Writer, "%d\t%.3f\t%.3f\t%.3f\t%t", i, p.Point.X, p.Point.Y, p.Point.Z, p.Valid)
	}
	return nil
}

func (r *runner) fovAction(c *cli.Context) error {
	ground, err := readPoints[r2.Point](c.Path(flagPoints))
	if err != nil {
		return err
	}
	cam, _, err := r.rectified(c)
	if err != nil {
		return err
	}
	visible, err := cam.InFieldOfView(ground)
	if err != nil {
		return err
	}
	for i, v := range visible {
		printf(c.App.Writer, "%d\t%t", i, v)
	}
	return nil
}

func (r *runner) gridAction(c *cli.Context) error {
	cam, _, err := r.rectified(c)
	if err != nil {
		return err
	}
	grid, err := cam.GroundGrid(c.Float64(flagSpacing), c.Float64Slice(flagRadius))
	if err != nil {
		return err
	}
	for _, p := range grid {
		printf(c.App.Writer, "%.3f\t%.3f", p.X, p.Y)
	}
	return nil
}

func (r *runner) undistortAction(c *cli.Context) error {
	cfg, err := r.loadJob(c)
	if err != nil {
		return err
	}
	model, err := cfg.LensModel(r.logger.Sublogger("metadata"))
	if err != nil {
		return err
	}
	img, err := rimage.ReadImageFromFile(c.Path(flagIn))
	if err != nil {
		return err
	}
	start := time.Now()
	out, err := model.UndistortImage(img)
	if err != nil {
		return err
	}
	r.logger.Debugw("undistorted frame", "width", img.Width(), "height", img.Height(), "took", time.Since(start))
	return rimage.WriteImageToFile(c.Path(flagOut), out)
}

func (r *runner) warpAction(c *cli.Context) error {
	vals := c.Float64Slice(flagCorners)
	if len(vals) != 8 {
		return errors.Errorf("--%s needs 8 values, got %d", flagCorners, len(vals))
	}
	var corners [4]r2.Point
	for i := range corners {
		corners[i] = r2.Point{X: vals[2*i], Y: vals[2*i+1]}
	}
	roi, err := transform.NewRegionOfInterest(corners)
	if err != nil {
		return err
	}
	img, err := rimage.ReadImageFromFile(c.Path(flagIn))
	if err != nil {
		return err
	}
	if c.Bool(flagUndistort) {
		if c.Path(flagConfig) == "" {
			return errors.Errorf("--%s needs --%s", flagUndistort, flagConfig)
		}
		cfg, err := r.loadJob(c)
		if err != nil {
			return err
		}
		model, err := cfg.LensModel(r.logger.Sublogger("metadata"))
		if err != nil {
			return err
		}
		if img, err = model.UndistortImage(img); err != nil {
			return err
		}
	}
	warped, _, err := roi.WarpPerspective(img, c.Int(flagWidth), c.Int(flagHeight))
	if err != nil {
		return err
	}
	return rimage.WriteImageToFile(c.Path(flagOut), warped)
}

// taper falls off over a fifth of the half size, beyond the inner tenth
const (
	taperAlpha = 0.2
	taperBeta  = 0.1
)

func (r *runner) adjustAction(c *cli.Context) error {
	img, err := rimage.ReadImageFromFile(c.Path(flagIn))
	if err != nil {
		return err
	}
	if means := c.Float64Slice(flagLabMean); len(means) > 0 {
		if img, err = img.ToScale(rimage.ScaleLab).ColorTransfer(means); err != nil {
			return err
		}
	}
	if window := c.String(flagTaper); window != "" {
		if img, err = img.Taper(rimage.TaperWindow(window), taperAlpha, taperBeta); err != nil {
			return err
		}
	}
	if sigma := c.Float64(flagBlur); sigma > 0 {
		img = img.Blur(sigma)
	}
	if deg := c.Float64(flagRotate); deg != 0 {
		img = img.Rotate(deg)
	}
	if w, h := c.Int(flagWidth), c.Int(flagHeight); w != 0 || h != 0 {
		if img, err = img.Resize(w, h); err != nil {
			return err
		}
	}
	if c.Bool(flagGray) {
		img = img.Grayscale()
	}
	r.logger.Debugw("adjusted frame", "width", img.Width(), "height", img.Height(), "scale", img.Scale().String())
	return rimage.WriteImageToFile(c.Path(flagOut), img)
}

func (r *runner) schemaAction(c *cli.Context) error {
	return printJSON(c.App.Writer, config.Schema())
}
