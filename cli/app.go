// Package cli contains the argus command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"github.com/coastalimages/argus/logging"
)

// Flags.
const (
	flagConfig       = "config"
	flagDebug        = "debug"
	flagLogFile      = "log-file"
	flagPoints       = "points"
	flagIn           = "in"
	flagOut          = "out"
	flagSpacing      = "spacing"
	flagRadius       = "radius"
	flagCorners      = "corners"
	flagWidth        = "width"
	flagHeight       = "height"
	flagUndistort    = "undistort"
	flagElevation    = "elevation"
	flagGray         = "gray"
	flagBlur         = "blur"
	flagRotate       = "rotate"
	flagTaper        = "taper"
	flagLabMean      = "lab-mean"
	defaultLogFileMB = 10
)

func configFlag() cli.Flag {
	return &cli.PathFlag{
		Name:     flagConfig,
		Aliases:  []string{"c"},
		Usage:    "load the calibration job from `FILE`",
		Required: true,
	}
}

func pointsFlag() cli.Flag {
	return &cli.PathFlag{
		Name:     flagPoints,
		Aliases:  []string{"p"},
		Usage:    "read points from a JSON array in `FILE`",
		Required: true,
	}
}

// NewApp returns the argus command writing results to out and logs to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	r := &runner{}
	return &cli.App{
		Name:            "argus",
		Usage:           "calibrate and query coastal monitoring cameras",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated every 10 MB",
			},
		},
		Before: r.before,
		After:  r.after,
		Commands: []*cli.Command{
			{
				Name:   "rectify",
				Usage:  "solve the camera pose from control points and print it",
				Flags:  []cli.Flag{configFlag()},
				Action: r.rectifyAction,
			},
			{
				Name:   "project",
				Usage:  "project world points into the undistorted image",
				Flags:  []cli.Flag{configFlag(), pointsFlag()},
				Action: r.projectAction,
			},
			{
				Name:  "locate",
				Usage: "back-project undistorted pixels onto a horizontal plane",
				Flags: []cli.Flag{
					configFlag(),
					pointsFlag(),
					&cli.Float64Flag{Name: flagElevation, Usage: "height of the plane"},
				},
				Action: r.locateAction,
			},
			{
				Name:   "fov",
				Usage:  "report which ground points the camera sees",
				Flags:  []cli.Flag{configFlag(), pointsFlag()},
				Action: r.fovAction,
			},
			{
				Name:  "grid",
				Usage: "lay a ground grid of arcs across the field of view",
				Flags: []cli.Flag{
					configFlag(),
					&cli.Float64Flag{Name: flagSpacing, Value: 5, Usage: "distance between points along an arc"},
					&cli.Float64SliceFlag{Name: flagRadius, Usage: "arc radius, repeatable", Required: true},
				},
				Action: r.gridAction,
			},
			{
				Name:  "undistort",
				Usage: "resample a raw frame as seen by the undistorted camera",
				Flags: []cli.Flag{
					configFlag(),
					&cli.PathFlag{Name: flagIn, Usage: "raw frame", Required: true},
					&cli.PathFlag{Name: flagOut, Usage: "output image", Required: true},
				},
				Action: r.undistortAction,
			},
			{
				Name:  "warp",
				Usage: "rectify a quadrilateral region of a frame onto a rectangle",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "take the lens for --undistort from `FILE`"},
					&cli.PathFlag{Name: flagIn, Usage: "frame", Required: true},
					&cli.PathFlag{Name: flagOut, Usage: "output image", Required: true},
					&cli.Float64SliceFlag{Name: flagCorners, Usage: "x1,y1,...,x4,y4 in pixels", Required: true},
					&cli.IntFlag{Name: flagWidth, Usage: "output width, defaults to the region's smaller side"},
					&cli.IntFlag{Name: flagHeight, Usage: "output height, defaults to the region's smaller side"},
					&cli.BoolFlag{Name: flagUndistort, Usage: "undistort the frame first"},
				},
				Action: r.warpAction,
			},
			{
				Name:  "adjust",
				Usage: "prepare a frame: match its Lab means, taper, blur, rotate, resize or turn it gray",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagIn, Usage: "frame", Required: true},
					&cli.PathFlag{Name: flagOut, Usage: "output image", Required: true},
					&cli.Float64SliceFlag{Name: flagLabMean, Usage: "L,a,b means to shift the frame to"},
					&cli.StringFlag{Name: flagTaper, Usage: "taper window: tophat, cosinebell, splitcosinebell, tukey or hanning"},
					&cli.Float64Flag{Name: flagBlur, Usage: "Gaussian blur sigma in pixels"},
					&cli.Float64Flag{Name: flagRotate, Usage: "counter-clockwise rotation in degrees"},
					&cli.IntFlag{Name: flagWidth, Usage: "resize to this width"},
					&cli.IntFlag{Name: flagHeight, Usage: "resize to this height"},
					&cli.BoolFlag{Name: flagGray, Usage: "convert to gray last"},
				},
				Action: r.adjustAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the calibration job file",
				Action: r.schemaAction,
			},
		},
	}
}

// runner holds the state shared by the commands of one invocation.
type runner struct {
	logger logging.Logger
}

func (r *runner) before(c *cli.Context) error {
	r.logger = logging.NewBlankLogger("argus")
	r.logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if path := c.String(flagLogFile); path != "" {
		r.logger.AddAppender(logging.NewFileAppender(logging.FileAppenderConfig{
			Filename:  path,
			MaxSizeMB: defaultLogFileMB,
		}))
	}
	if c.Bool(flagDebug) {
		r.logger.SetLevel(logging.DEBUG)
	} else {
		r.logger.SetLevel(logging.INFO)
	}
	return nil
}

func (r *runner) after(c *cli.Context) error {
	if r.logger == nil {
		return nil
	}
	//nolint:errcheck
	r.logger.Sync()
	return nil
}
