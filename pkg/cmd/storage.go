package cmd

import (
	"io"

	"github.com/breathlink/breathlink/pkg/settings"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

func getSettingsStorage(c *cli.Context) (settings.Storage, error) {
	if path := c.String(settingsDBFlag.Name); path != "" {
		return settings.NewBoltStorage(path)
	}
	if path := c.String(settingsFileFlag.Name); path != "" {
		return settings.NewFileStorage(afero.NewOsFs(), path)
	}
	return settings.NewInMemoryStorage(), nil
}

func closeSettingsStorage(storage settings.Storage) {
	if closer, ok := storage.(io.Closer); ok {
		if closeErr := closer.Close(); closeErr != nil {
			logrus.Warnf("Failed to close settings storage: %v", closeErr)
		}
	}
}
