package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func setLogLevel(c *cli.Context) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch {
	case c.IsSet("trace"):
		logrus.SetLevel(logrus.TraceLevel)
		logrus.Warn("Log level set to trace")
	case c.IsSet("debug"):
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Warn("Log level set to debug")
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
	return nil
}
