package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/breathlink/breathlink/pkg/testutils"
	"github.com/urfave/cli/v2"
)

var testrelayCommand *cli.Command = &cli.Command{
	Name:  "testrelay",
	Usage: "Start a scripted relay server that pairs every client with an echo peer",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Value: "0.0.0.0",
		},
		&cli.IntFlag{
			Name:  "port",
			Value: 8080,
		},
		&cli.StringFlag{
			Name:  "tokens",
			Usage: "Comma separated list of accepted tokens",
			Value: "123",
		},
		&cli.DurationFlag{
			Name:  "pair-after",
			Value: time.Second,
		},
	},
	Action: func(c *cli.Context) error {
		tokens, parseErr := parseTokenList(c.String("tokens"))
		if parseErr != nil {
			return parseErr
		}
		return testutils.RunRelay(
			c.String("host"),
			c.Int("port"),
			testutils.NewRelay(c.Duration("pair-after"), tokens...),
		)
	},
}

func parseTokenList(raw string) ([]int64, error) {
	var tokens []int64
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		token, parseErr := strconv.ParseInt(field, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid token %q: %w", field, parseErr)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}
