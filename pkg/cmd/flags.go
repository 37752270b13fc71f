package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/breathlink/breathlink/pkg/driver"
	"github.com/breathlink/breathlink/pkg/envelope"
	"github.com/breathlink/breathlink/pkg/transport"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var serverFlag *cli.StringFlag = &cli.StringFlag{
	Name:    "server",
	Usage:   "Relay server address, for example relays://relay.example.com or localhost:8080",
	EnvVars: []string{"BREATHLINK_SERVER"},
}

var tokenFlag *cli.StringFlag = &cli.StringFlag{
	Name:    "token",
	Usage:   "Numeric token used to register with the relay server",
	EnvVars: []string{"BREATHLINK_TOKEN"},
}

var settingsFileFlag *cli.StringFlag = &cli.StringFlag{
	Name:  "settings-file",
	Usage: "YAML, TOML or JSON file with the saved server and token",
	Value: "",
}

var settingsDBFlag *cli.StringFlag = &cli.StringFlag{
	Name:  "settings-db",
	Usage: "BoltDB file with the saved server and token, takes precedence over --settings-file",
	Value: "",
}

var clientTypeFlag *cli.StringFlag = &cli.StringFlag{
	Name:  "client-type",
	Value: envelope.DefaultClientType,
}

var receiveTimeoutFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "receive-timeout",
	Value: driver.DefaultReceiveTimeout,
}

var probeIntervalFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "probe-interval",
	Value: driver.DefaultProbeInterval,
}

var probeTimeoutFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "probe-timeout",
	Value: driver.DefaultProbeTimeout,
}

var dialAttemptsFlag *cli.UintFlag = &cli.UintFlag{
	Name:  "dial-attempts",
	Usage: "How many times the initial connection is attempted",
	Value: 1,
}

var dialRetryDelayFlag *cli.DurationFlag = &cli.DurationFlag{
	Name:  "dial-retry-delay",
	Value: time.Second,
}

var apiListenFlag *cli.StringFlag = &cli.StringFlag{
	Name:  "api-listen",
	Usage: "Address of the local status API, for example 127.0.0.1:8081. Disabled when empty",
	Value: "",
}

var basicAuthUsernameFlag *cli.StringFlag = &cli.StringFlag{
	Name:    "basic-auth-username",
	EnvVars: []string{"BREATHLINK_API_USERNAME"},
}

var basicAuthPasswordFlag *cli.StringFlag = &cli.StringFlag{
	Name:    "basic-auth-password",
	EnvVars: []string{"BREATHLINK_API_PASSWORD"},
}

var connectionFlags = []cli.Flag{
	serverFlag,
	tokenFlag,
	settingsFileFlag,
	settingsDBFlag,
	clientTypeFlag,
	receiveTimeoutFlag,
	probeIntervalFlag,
	probeTimeoutFlag,
	dialAttemptsFlag,
	dialRetryDelayFlag,
	apiListenFlag,
	basicAuthUsernameFlag,
	basicAuthPasswordFlag,
}

func driverConfig(c *cli.Context) driver.Config {
	return driver.Config{
		ClientType:     c.String(clientTypeFlag.Name),
		ReceiveTimeout: c.Duration(receiveTimeoutFlag.Name),
		ProbeInterval:  c.Duration(probeIntervalFlag.Name),
		ProbeTimeout:   c.Duration(probeTimeoutFlag.Name),
	}
}

func websocketDialer(c *cli.Context) *transport.WebsocketDialer {
	return &transport.WebsocketDialer{
		Attempts:   c.Uint(dialAttemptsFlag.Name),
		RetryDelay: c.Duration(dialRetryDelayFlag.Name),
		Logger:     logrus.WithField("component", "dialer"),
	}
}

// parseOutboundLine decodes a snapshot given as a single line of JSON. Blank
// lines yield a nil snapshot and no error.
func parseOutboundLine(line string) (map[string]any, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	var snapshot map[string]any
	if unmarshalErr := json.Unmarshal([]byte(line), &snapshot); unmarshalErr != nil {
		return nil, fmt.Errorf("snapshot must be a JSON object: %w", unmarshalErr)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot must be a JSON object, got %s", line)
	}
	return snapshot, nil
}
