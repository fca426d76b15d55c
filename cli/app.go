// Package cli contains the calibrate command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	generalFlagDebug   = "debug"
	generalFlagThreads = "threads"

	calibrateFlagDetections      = "detections"
	calibrateFlagBoard           = "board"
	calibrateFlagOptions         = "options"
	calibrateFlagModel           = "model"
	calibrateFlagFlags           = "flag"
	calibrateFlagImageWidth      = "image-width"
	calibrateFlagImageHeight     = "image-height"
	calibrateFlagMaxIterations   = "max-iterations"
	calibrateFlagRANSACThreshold = "ransac-threshold"
	calibrateFlagOutput          = "output"
	calibrateFlagPlot            = "plot"

	dbFlagPath   = "db"
	dbFlagKey    = "key"
	dbFlagPrefix = "prefix"
)

var dbFlags = []cli.Flag{
	&cli.PathFlag{
		Name:  dbFlagPath,
		Usage: "sqlite calibration database `FILE`",
	},
	&cli.StringFlag{
		Name:  dbFlagKey,
		Usage: "key of the calibration in the database; empty generates one",
	},
}

var app = &cli.App{
	Name:            "calibrate",
	Usage:           "calibrate cameras from detected calibration targets",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.IntFlag{
			Name:  generalFlagThreads,
			Usage: "number of worker goroutines; 0 uses all processors",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "calibrate",
			Usage:     "estimate camera intrinsics and distortion from target detections",
			UsageText: "calibrate calibrate --detections FILE [options]",
			Flags: append([]cli.Flag{
				&cli.PathFlag{
					Name:     calibrateFlagDetections,
					Required: true,
					Usage:    "JSON `FILE` with one detection per image",
				},
				&cli.PathFlag{
					Name:  calibrateFlagBoard,
					Usage: "JSON board description `FILE`, recorded with the calibration",
				},
				&cli.PathFlag{
					Name:  calibrateFlagOptions,
					Usage: "JSON calibration options `FILE`; command line flags take precedence",
				},
				&cli.StringFlag{
					Name:  calibrateFlagModel,
					Usage: "camera model: pinhole, AngularPolynomial, RadialPolynomial or RadialPolynomialRobust",
				},
				&cli.StringSliceFlag{
					Name:  calibrateFlagFlags,
					Usage: "calibration flag: fix_skew, zero_tangent_dist, rational_model or huber_loss",
				},
				&cli.IntFlag{
					Name:  calibrateFlagImageWidth,
					Usage: "image width in pixels",
				},
				&cli.IntFlag{
					Name:  calibrateFlagImageHeight,
					Usage: "image height in pixels",
				},
				&cli.IntFlag{
					Name:  calibrateFlagMaxIterations,
					Usage: "maximum solver iterations",
				},
				&cli.Float64Flag{
					Name:  calibrateFlagRANSACThreshold,
					Usage: "drop correspondences further than this many pixels from the best board homography; 0 disables",
				},
				&cli.PathFlag{
					Name:  calibrateFlagOutput,
					Usage: "write the calibration record to `FILE`",
				},
				&cli.PathFlag{
					Name:  calibrateFlagPlot,
					Usage: "write a reprojection error plot to `FILE` (png, svg or pdf)",
				},
			}, dbFlags...),
			Action: CalibrateAction,
		},
		{
			Name:      "mean",
			Usage:     "average calibrations of the same camera model",
			ArgsUsage: "<record.json>...",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  calibrateFlagOutput,
					Usage: "write the mean record to `FILE` instead of stdout",
				},
			},
			Action: MeanAction,
		},
		{
			Name:      "show",
			Usage:     "print a stored calibration",
			ArgsUsage: "[record.json]",
			Flags:     dbFlags,
			Action:    ShowAction,
		},
		{
			Name:  "list",
			Usage: "list calibration keys in a database",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     dbFlagPath,
					Required: true,
					Usage:    "sqlite calibration database `FILE`",
				},
				&cli.StringFlag{
					Name:  dbFlagPrefix,
					Usage: "only list keys starting with `PREFIX`",
				},
			},
			Action: ListAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
