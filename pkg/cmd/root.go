package cmd

import (
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var projectVersion = "dev"

// Run starts breathlink
func Run() {
	app := &cli.App{
		Name:                 "breathlink",
		Usage:                "Breathlink pairs with a remote peer through a relay server and shares breathing telemetry",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			shareCommand,
			consoleCommand,
			configureCommand,
			testrelayCommand,
		},
		Version: projectVersion,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Be more verbose when logging stuff",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Be even more verbose when logging stuff, including every envelope",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Start prometheus metrics server",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "metrics-host",
				Value: "0.0.0.0",
			},
			&cli.IntFlag{
				Name:  "metrics-port",
				Value: 8090,
			},
		},

		Before: setLogLevel,
		ExitErrHandler: func(context *cli.Context, theErr error) {
			if theErr == nil {
				return
			}
			if logrus.GetLevel() < logrus.DebugLevel {
				logrus.Error(
					"Breathlink command failed. For verbose output, please use `breathlink --debug <your-command>`",
				)
			}
		},
	}

	if runErr := app.Run(os.Args); runErr != nil {
		log.Fatal(runErr)
	}
}
