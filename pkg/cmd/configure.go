package cmd

import (
	"fmt"

	"github.com/breathlink/breathlink/pkg/link"
	"github.com/breathlink/breathlink/pkg/settings"
	"github.com/breathlink/breathlink/pkg/transport"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var configureCommand *cli.Command = &cli.Command{
	Name:  "configure",
	Usage: "Save the relay server address and token for later runs",
	Flags: []cli.Flag{
		serverFlag,
		tokenFlag,
		settingsFileFlag,
		settingsDBFlag,
	},
	Action: func(c *cli.Context) error {
		if c.String(settingsFileFlag.Name) == "" && c.String(settingsDBFlag.Name) == "" {
			return fmt.Errorf("either --%s or --%s is required", settingsFileFlag.Name, settingsDBFlag.Name)
		}
		storage, storageErr := getSettingsStorage(c)
		if storageErr != nil {
			return storageErr
		}
		defer closeSettingsStorage(storage)
		updated, updateErr := updatedSettings(c, storage)
		if updateErr != nil {
			return updateErr
		}
		if saveErr := storage.Save(updated); saveErr != nil {
			return saveErr
		}
		logrus.Infof("Saved settings for %s", updated.Address)
		return nil
	},
}

func updatedSettings(c *cli.Context, storage settings.Storage) (settings.Settings, error) {
	updated, resolveErr := resolveSettings(c, storage)
	if resolveErr != nil {
		return updated, resolveErr
	}
	if _, addressErr := transport.NormalizeAddress(updated.Address); addressErr != nil {
		return updated, addressErr
	}
	if _, tokenErr := link.ParseToken(updated.Token); tokenErr != nil {
		return updated, tokenErr
	}
	return updated, nil
}

