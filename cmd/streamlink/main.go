// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/streamlink/pkg/config"
	"github.com/livekit/streamlink/pkg/service"
	"github.com/livekit/streamlink/pkg/telemetry/prometheus"
	"github.com/livekit/streamlink/pkg/utils"
	"github.com/livekit/streamlink/version"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to streamlink config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "streamlink config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"STREAMLINK_CONFIG"},
	},
	&cli.StringSliceFlag{
		Name:  "stun",
		Usage: "STUN server used to learn server reflexive candidates, use flag multiple times to specify multiple servers",
	},
	&cli.StringFlag{
		Name:    "turn",
		Usage:   "TURN server used when direct connectivity fails",
		EnvVars: []string{"STREAMLINK_TURN"},
	},
	&cli.StringFlag{
		Name:  "credentials-file",
		Usage: "path to file that contains the TURN username and password",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and starts the relay with placeholder credentials. insecure for production",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:        "streamlink",
		Usage:       "peer connectivity and adaptive transport control for game streaming",
		Description: "run without subcommands to start the relay node",
		Flags:       append(baseFlags, generatedFlags...),
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:   "gather",
				Usage:  "gathers and prints the local candidates of this host",
				Action: gatherCandidates,
			},
			{
				Name:   "relay",
				Usage:  "allocates a relay on the configured TURN server and releases it",
				Action: testRelay,
			},
			{
				Name:   "presets",
				Usage:  "prints the quality presets of every gaming mode",
				Action: printPresets,
			},
			{
				Name:   "degrade",
				Usage:  "walks the degradation policy of a gaming mode down to its floor",
				Action: walkDegradation,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "gaming mode, uses the configured mode when empty",
					},
				},
			},
			{
				Name:   "simulate",
				Usage:  "feeds synthetic receiver reports to the congestion controller",
				Action: simulate,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "gaming mode, uses the configured mode when empty",
					},
					&cli.IntFlag{
						Name:  "samples",
						Usage: "number of receiver reports",
						Value: 20,
					},
					&cli.Float64Flag{
						Name:  "loss",
						Usage: "packet loss rate of every report",
					},
					&cli.DurationFlag{
						Name:  "rtt",
						Usage: "round trip time of every report",
						Value: 20 * time.Millisecond,
					},
					&cli.Float64Flag{
						Name:  "gradient",
						Usage: "delay gradient reported by the bandwidth estimator",
					},
				},
			},
			{
				Name:   "create-username",
				Usage:  "mints a TURN username for a session on the development relay",
				Action: createUsername,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "session",
						Usage: "session id, a new one is generated when empty",
					},
				},
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	if err := conf.LoadCredentials(); err != nil {
		return nil, err
	}

	if conf.NodeID == "" {
		conf.NodeID = utils.NewGuid(utils.NodePrefix)
	}

	if conf.Development && conf.TURNServer.Username == "" && conf.TURNServer.Password == "" {
		logger.Infow("no relay credentials provided, using placeholder credentials",
			"username", "devuser",
			"password", "devpass",
		)
		conf.TURNServer.Username = "devuser"
		conf.TURNServer.Password = "devpass"
	}
	return conf, nil
}

func startServer(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	prometheus.Init(conf.NodeID)

	server, err := service.InitializeServer(conf)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		server.Stop()
	}()

	return server.Start()
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}
