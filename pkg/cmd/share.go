package cmd

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/breathlink/breathlink/pkg/link"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var shareCommand *cli.Command = &cli.Command{
	Name:  "share",
	Usage: "Connect to the relay server and share JSON snapshots read from stdin, one per line",
	Flags: connectionFlags,
	Action: func(c *cli.Context) error {
		collector, metricsErr := startPrometheusServer(c)
		if metricsErr != nil {
			return metricsErr
		}
		storage, storageErr := getSettingsStorage(c)
		if storageErr != nil {
			return storageErr
		}
		defer closeSettingsStorage(storage)
		resolved, settingsErr := resolveSettings(c, storage)
		if settingsErr != nil {
			return settingsErr
		}

		handle := newHandle(c, collector)
		startAPIServer(c, handle, storage)
		if openErr := handle.Open(resolved.Address, resolved.Token); openErr != nil {
			return openErr
		}
		go stageLines(os.Stdin, handle)

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
		select {
		case sig := <-signals:
			logrus.Infof("Received %s, disconnecting", sig)
			handle.Disconnect()
			handle.Wait()
			return nil
		case <-handle.Done():
			if lastErr := handle.LastError(); lastErr != nil {
				return lastErr
			}
			return nil
		}
	},
}

func stageLines(input io.Reader, handle *link.Handle) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		snapshot, parseErr := parseOutboundLine(scanner.Text())
		if parseErr != nil {
			logrus.Warn(parseErr)
			continue
		}
		if snapshot == nil {
			continue
		}
		inbound := handle.StageOutbound(snapshot)
		logrus.Debugf("Staged snapshot, latest inbound: %v", inbound)
	}
	if scanErr := scanner.Err(); scanErr != nil {
		logrus.Errorf("Failed to read snapshots: %v", scanErr)
	}
}
