package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/breathlink/breathlink/pkg/api"
	"github.com/breathlink/breathlink/pkg/failure"
	"github.com/breathlink/breathlink/pkg/link"
	"github.com/breathlink/breathlink/pkg/metrics"
	"github.com/breathlink/breathlink/pkg/settings"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

// resolveSettings merges flags over the stored settings and asks for the
// token when it is still missing and stdin is a terminal
func resolveSettings(c *cli.Context, storage settings.Storage) (settings.Settings, error) {
	stored, loadErr := storage.Load()
	if loadErr != nil && !errors.Is(loadErr, settings.ErrNotConfigured) {
		return settings.Settings{}, loadErr
	}
	resolved := settings.Settings{
		Address: c.String(serverFlag.Name),
		Token:   c.String(tokenFlag.Name),
	}.Merge(stored)
	if resolved.Address == "" {
		return resolved, fmt.Errorf("relay server address is not set, use --%s or the configure command", serverFlag.Name)
	}
	if resolved.Token == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		token, promptErr := promptToken(os.Stderr)
		if promptErr != nil {
			return resolved, promptErr
		}
		resolved.Token = token
	}
	return resolved, nil
}

func promptToken(out io.Writer) (string, error) {
	fmt.Fprint(out, "Token: ")
	token, readErr := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if readErr != nil {
		return "", fmt.Errorf("reading token: %w", readErr)
	}
	return strings.TrimSpace(string(token)), nil
}

func newHandle(c *cli.Context, collector *metrics.Collector) *link.Handle {
	handle := link.NewHandle(
		link.WithDialer(websocketDialer(c)),
		link.WithDriverConfig(driverConfig(c)),
		link.WithMetrics(collector),
	)
	handle.OnError(func(classified failure.ClassifiedError) {
		logrus.WithField("kind", classified.Kind).Errorf("Connection failed: %s", classified.Message)
	})
	return handle
}

func configureAPIServer(c *cli.Context) api.ServerSettings {
	username := c.String(basicAuthUsernameFlag.Name)
	password := c.String(basicAuthPasswordFlag.Name)
	serverSettings := api.NewServerSettings().WithDebug(c.Bool("debug"))
	if username != "" && password != "" {
		serverSettings = serverSettings.WithBasicAuth(username, password)
	} else {
		logrus.Info(
			"State-changing API endpoints will not be enabled - " +
				"either basic auth username or password is missing",
		)
	}
	return serverSettings
}

func startAPIServer(c *cli.Context, handle *link.Handle, storage settings.Storage) {
	listenAddr := c.String(apiListenFlag.Name)
	if listenAddr == "" {
		return
	}
	engine := api.NewAdminAPI([]api.Controller{
		api.NewConnectionController(handle, storage),
		api.NewSettingsController(storage),
	}, configureAPIServer(c))
	logrus.Infof("Starting status API on %s", listenAddr)
	go func() {
		server := &http.Server{
			Addr:              listenAddr,
			Handler:           engine,
			ReadHeaderTimeout: 3 * time.Second,
		}
		if listenErr := server.ListenAndServe(); listenErr != nil {
			logrus.Fatalf("Failed to start status API: %v", listenErr)
		}
	}()
}
